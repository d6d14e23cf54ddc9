package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationScope partitions the idempotency namespace.
type OperationScope string

const (
	ScopeTransfer   OperationScope = "transfer"
	ScopeAdjustment OperationScope = "adjustment"
)

// Direction is the sign of an adjustment from the named wallet's
// perspective.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

const (
	minAssetLen = 3
	maxAssetLen = 12
)

// NormalizeAsset upper-cases and length-checks an asset code. The
// caller's casing choice doesn't affect the fingerprint (the
// normalized form is what gets hashed), but the exact amount string
// does — see Amount below.
func NormalizeAsset(asset string) (string, *Error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if len(asset) < minAssetLen || len(asset) > maxAssetLen {
		return "", Validationf("asset must be %d-%d characters, got %q", minAssetLen, maxAssetLen, asset)
	}
	return asset, nil
}

// Amount is the caller-supplied textual decimal amount. It is never
// renormalized: "10.20" and "10.2" are distinct Amounts and therefore
// fingerprint differently. ParseAmount is the only sanctioned way to
// get arithmetic out of it.
type Amount string

func (a Amount) String() string { return string(a) }

// ParseAmount validates that the amount is a strictly positive
// fixed-point decimal.
func (a Amount) ParseAmount() (decimal.Decimal, *Error) {
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Zero, Validationf("amount %q is not a valid decimal", string(a))
	}
	if !d.IsPositive() {
		return decimal.Zero, Validationf("amount must be strictly positive, got %q", string(a))
	}
	return d, nil
}

// Wallet mirrors the account entity.
type Wallet struct {
	WalletID  uuid.UUID `json:"wallet_id"`
	Asset     string    `json:"asset"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance mirrors BalanceProjection, also used for audit reads (the
// balance field's provenance — projection vs. summed journal — is the
// caller's business, not the wire shape's).
type Balance struct {
	WalletID uuid.UUID       `json:"wallet_id"`
	Asset    string          `json:"asset"`
	Balance  decimal.Decimal `json:"balance"`
	Version  int64           `json:"version"`
	AsOf     time.Time       `json:"as_of"`
}

// JournalEntryView is one line of a JournalTransaction as returned to
// clients, in seq order.
type JournalEntryView struct {
	AccountID uuid.UUID       `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
}

// Transaction mirrors JournalTransaction plus its entries.
type Transaction struct {
	TransactionID      uuid.UUID           `json:"transaction_id"`
	OperationScope     OperationScope      `json:"operation_scope"`
	IdempotencyKey     string              `json:"idempotency_key"`
	PayloadHash        string              `json:"payload_hash"`
	Status             string              `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	ExternalReference  *string             `json:"external_reference,omitempty"`
	Entries            []JournalEntryView  `json:"entries"`
}

// CreateWalletRequest is the POST /v1/wallets body.
type CreateWalletRequest struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Asset    string    `json:"asset"`
}

func (r CreateWalletRequest) Validate() *Error {
	if r.WalletID == uuid.Nil {
		return Validation("wallet_id is required")
	}
	return nil
}

// TransferRequest is the POST /v1/transfers body.
type TransferRequest struct {
	FromWalletID         uuid.UUID `json:"from_wallet_id"`
	ToWalletID           uuid.UUID `json:"to_wallet_id"`
	Amount               Amount    `json:"amount"`
	Asset                string    `json:"asset"`
	ExternalReference    *string   `json:"external_reference,omitempty"`
	ExpectedFromVersion  *int64    `json:"expected_from_version,omitempty"`
	ExpectedToVersion    *int64    `json:"expected_to_version,omitempty"`
}

func (r TransferRequest) Validate() *Error {
	if r.FromWalletID == uuid.Nil || r.ToWalletID == uuid.Nil {
		return Validation("from_wallet_id and to_wallet_id are required")
	}
	if r.FromWalletID == r.ToWalletID {
		return Validation("from_wallet_id and to_wallet_id must differ")
	}
	if _, err := r.Amount.ParseAmount(); err != nil {
		return err
	}
	return nil
}

// AdjustmentRequest is the POST /v1/adjustments body.
type AdjustmentRequest struct {
	WalletID               uuid.UUID `json:"wallet_id"`
	Amount                 Amount    `json:"amount"`
	Direction              Direction `json:"direction"`
	Asset                  string    `json:"asset"`
	Reason                 string    `json:"reason"`
	ExpectedWalletVersion  *int64    `json:"expected_wallet_version,omitempty"`
}

func (r AdjustmentRequest) Validate() *Error {
	if r.WalletID == uuid.Nil {
		return Validation("wallet_id is required")
	}
	if r.Direction != DirectionCredit && r.Direction != DirectionDebit {
		return Validationf("direction must be %q or %q, got %q", DirectionCredit, DirectionDebit, r.Direction)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return Validation("reason is required")
	}
	if _, err := r.Amount.ParseAmount(); err != nil {
		return err
	}
	return nil
}

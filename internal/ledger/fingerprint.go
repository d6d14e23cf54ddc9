package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// transferPayload is the canonical, deterministic logical payload for
// a transfer's idempotency fingerprint and its outbox event document.
// external_reference and version expectations are part of the payload.
// Fields are never omitted — an absent optional value serializes as
// JSON null, so its presence or absence is itself part of what gets
// hashed.
type transferPayload struct {
	FromWalletID        string  `json:"from_wallet_id"`
	ToWalletID          string  `json:"to_wallet_id"`
	Amount              string  `json:"amount"`
	Asset               string  `json:"asset"`
	ExternalReference   *string `json:"external_reference"`
	ExpectedFromVersion *int64  `json:"expected_from_version"`
	ExpectedToVersion   *int64  `json:"expected_to_version"`
}

// adjustmentPayload is the canonical logical payload for an adjustment.
type adjustmentPayload struct {
	WalletID              string  `json:"wallet_id"`
	Amount                string  `json:"amount"`
	Direction             string  `json:"direction"`
	Asset                 string  `json:"asset"`
	Reason                string  `json:"reason"`
	ExpectedWalletVersion *int64  `json:"expected_wallet_version"`
}

// canonicalHash renders payload as RFC 8785 (JCS) canonical JSON and
// returns its lowercase hex SHA-256 digest. JCS sorts object keys
// lexicographically and removes insignificant whitespace. Amount
// fields are plain JSON strings (the caller's exact text), so JCS's
// number-formatting rule never touches them: "10.20" and "10.2" hash
// differently, by design.
func canonicalHash(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

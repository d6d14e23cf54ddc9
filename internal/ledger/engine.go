package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	"wallet-ledger/internal/logging"
	"wallet-ledger/internal/metrics"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// loadTransaction and friends run either inside or outside a
// transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Engine is the double-entry engine plus the read/audit paths. It is
// the sole place in the service that mutates ledger state.
type Engine struct {
	pool         *pgxpool.Pool
	runner       *Runner
	systemWallet uuid.UUID
	defaultAsset string
}

func NewEngine(pool *pgxpool.Pool, systemWalletID uuid.UUID, defaultAsset string) *Engine {
	return &Engine{pool: pool, runner: NewRunner(pool), systemWallet: systemWalletID, defaultAsset: defaultAsset}
}

// resolveAsset falls back to the configured default asset when the
// caller omits one, before normalizing.
func (e *Engine) resolveAsset(asset string) (string, *domain.Error) {
	if strings.TrimSpace(asset) == "" {
		asset = e.defaultAsset
	}
	return domain.NormalizeAsset(asset)
}

type entry struct {
	WalletID uuid.UUID
	Amount   decimal.Decimal
	Asset    string
}

// ensureBalanced requires at least two entries, no zero amounts, a
// single asset, and a zero sum.
func ensureBalanced(entries []entry) *domain.Error {
	if len(entries) < 2 {
		return domain.Validation("at least two journal entries required")
	}
	total := decimal.Zero
	asset := ""
	for _, e := range entries {
		if e.Amount.IsZero() {
			return domain.Validation("journal entry amount cannot be zero")
		}
		if asset == "" {
			asset = e.Asset
		} else if e.Asset != asset {
			return domain.Validation("all entries in a transaction must have the same asset")
		}
		total = total.Add(e.Amount)
	}
	if !total.IsZero() {
		return domain.Validationf("double-entry violation: sum(entries.amount) = %s, want 0", total.String())
	}
	return nil
}

// CreateWallet creates an Account and its zeroed BalanceProjection
// atomically. Accounts are never created implicitly.
func (e *Engine) CreateWallet(ctx context.Context, req domain.CreateWalletRequest) (*domain.Wallet, error) {
	if verr := req.Validate(); verr != nil {
		return nil, verr
	}
	asset, aerr := e.resolveAsset(req.Asset)
	if aerr != nil {
		return nil, aerr
	}

	var wallet domain.Wallet
	err := e.runner.RunSerializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO accounts(wallet_id, asset, version, created_at)
			 VALUES ($1, $2, 0, now())
			 RETURNING wallet_id, asset, version, created_at`,
			req.WalletID, asset,
		)
		if err := row.Scan(&wallet.WalletID, &wallet.Asset, &wallet.Version, &wallet.CreatedAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.Conflict("wallet already exists")
			}
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO balance_projections(wallet_id, asset, balance, version, as_of)
			 VALUES ($1, $2, 0, 0, now())`,
			req.WalletID, asset,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// PostTransfer posts a balanced two-entry transfer between two wallets.
func (e *Engine) PostTransfer(ctx context.Context, idempotencyKey string, req domain.TransferRequest) (*domain.Transaction, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, domain.Validation("Idempotency-Key header is required")
	}
	if verr := req.Validate(); verr != nil {
		return nil, verr
	}
	asset, aerr := e.resolveAsset(req.Asset)
	if aerr != nil {
		return nil, aerr
	}
	amount, aerr := req.Amount.ParseAmount()
	if aerr != nil {
		return nil, aerr
	}

	entries := []entry{
		{WalletID: req.FromWalletID, Amount: amount.Neg(), Asset: asset},
		{WalletID: req.ToWalletID, Amount: amount, Asset: asset},
	}
	if berr := ensureBalanced(entries); berr != nil {
		return nil, berr
	}

	payload := transferPayload{
		FromWalletID:        req.FromWalletID.String(),
		ToWalletID:          req.ToWalletID.String(),
		Amount:              req.Amount.String(),
		Asset:               asset,
		ExternalReference:   req.ExternalReference,
		ExpectedFromVersion: req.ExpectedFromVersion,
		ExpectedToVersion:   req.ExpectedToVersion,
	}
	payloadHash, err := canonicalHash(payload)
	if err != nil {
		return nil, err
	}

	var result *domain.Transaction
	err = e.runner.RunSerializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existingID, ferr := fetchExistingIdempotent(ctx, tx, domain.ScopeTransfer, idempotencyKey, payloadHash)
		if ferr != nil {
			return ferr
		}
		if existingID != nil {
			metrics.LedgerIdempotencyHits.WithLabelValues(string(domain.ScopeTransfer)).Inc()
			loaded, lerr := loadTransaction(ctx, tx, *existingID)
			if lerr != nil {
				return lerr
			}
			result = loaded
			return nil
		}

		txID := uuid.New()
		if _, err := tx.Exec(ctx,
			`INSERT INTO journal_transactions(transaction_id, operation_scope, idempotency_key, payload_hash, status, external_reference)
			 VALUES ($1, $2, $3, $4, 'committed', $5)`,
			txID, domain.ScopeTransfer, idempotencyKey, payloadHash, req.ExternalReference,
		); err != nil {
			return err
		}

		fromVer, toVer, verr := bumpPair(ctx, tx, req.FromWalletID, req.ExpectedFromVersion, req.ToWalletID, req.ExpectedToVersion)
		if verr != nil {
			if domain.Is(verr, domain.KindConflict) {
				metrics.LedgerOptimisticConflicts.WithLabelValues(string(domain.ScopeTransfer)).Inc()
			}
			return verr
		}

		if err := insertEntries(ctx, tx, txID, entries); err != nil {
			return err
		}

		if err := applyProjection(ctx, tx, req.FromWalletID, asset, entries[0].Amount, fromVer); err != nil {
			return err
		}
		if err := applyProjection(ctx, tx, req.ToWalletID, asset, entries[1].Amount, toVer); err != nil {
			return err
		}

		if err := insertOutboxEvent(ctx, tx, txID, "wallet.transfer.committed", payload); err != nil {
			return err
		}

		loaded, lerr := loadTransaction(ctx, tx, txID)
		if lerr != nil {
			return lerr
		}
		result = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PostAdjustment posts a balanced credit or debit against the system
// wallet. The user-supplied wallet is always bumped first, the system
// wallet second.
func (e *Engine) PostAdjustment(ctx context.Context, idempotencyKey string, req domain.AdjustmentRequest) (*domain.Transaction, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, domain.Validation("Idempotency-Key header is required")
	}
	if verr := req.Validate(); verr != nil {
		return nil, verr
	}
	asset, aerr := e.resolveAsset(req.Asset)
	if aerr != nil {
		return nil, aerr
	}
	amount, aerr := req.Amount.ParseAmount()
	if aerr != nil {
		return nil, aerr
	}

	sign := decimal.New(1, 0)
	if req.Direction == domain.DirectionDebit {
		sign = decimal.New(-1, 0)
	}
	walletDelta := amount.Mul(sign)

	entries := []entry{
		{WalletID: req.WalletID, Amount: walletDelta, Asset: asset},
		{WalletID: e.systemWallet, Amount: walletDelta.Neg(), Asset: asset},
	}
	if berr := ensureBalanced(entries); berr != nil {
		return nil, berr
	}

	payload := adjustmentPayload{
		WalletID:              req.WalletID.String(),
		Amount:                req.Amount.String(),
		Direction:             string(req.Direction),
		Asset:                 asset,
		Reason:                req.Reason,
		ExpectedWalletVersion: req.ExpectedWalletVersion,
	}
	payloadHash, err := canonicalHash(payload)
	if err != nil {
		return nil, err
	}

	var result *domain.Transaction
	err = e.runner.RunSerializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existingID, ferr := fetchExistingIdempotent(ctx, tx, domain.ScopeAdjustment, idempotencyKey, payloadHash)
		if ferr != nil {
			return ferr
		}
		if existingID != nil {
			metrics.LedgerIdempotencyHits.WithLabelValues(string(domain.ScopeAdjustment)).Inc()
			loaded, lerr := loadTransaction(ctx, tx, *existingID)
			if lerr != nil {
				return lerr
			}
			result = loaded
			return nil
		}

		txID := uuid.New()
		reason := req.Reason
		if _, err := tx.Exec(ctx,
			`INSERT INTO journal_transactions(transaction_id, operation_scope, idempotency_key, payload_hash, status, external_reference)
			 VALUES ($1, $2, $3, $4, 'committed', $5)`,
			txID, domain.ScopeAdjustment, idempotencyKey, payloadHash, reason,
		); err != nil {
			return err
		}

		walletVer, verr := bumpVersion(ctx, tx, req.WalletID, req.ExpectedWalletVersion)
		if verr != nil {
			if domain.Is(verr, domain.KindConflict) {
				metrics.LedgerOptimisticConflicts.WithLabelValues(string(domain.ScopeAdjustment)).Inc()
			}
			return verr
		}
		systemVer, verr := bumpVersion(ctx, tx, e.systemWallet, nil)
		if verr != nil {
			return verr
		}

		if err := insertEntries(ctx, tx, txID, entries); err != nil {
			return err
		}

		if err := applyProjection(ctx, tx, req.WalletID, asset, entries[0].Amount, walletVer); err != nil {
			return err
		}
		if err := applyProjection(ctx, tx, e.systemWallet, asset, entries[1].Amount, systemVer); err != nil {
			return err
		}

		if err := insertOutboxEvent(ctx, tx, txID, "wallet.adjustment.committed", payload); err != nil {
			return err
		}

		loaded, lerr := loadTransaction(ctx, tx, txID)
		if lerr != nil {
			return lerr
		}
		result = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// bumpPair bumps the version of two accounts touched by a transfer,
// locking them in ascending wallet-id byte order regardless of
// from/to direction. This avoids a deadlock between two transfers that
// touch the same pair of wallets in opposite directions concurrently.
func bumpPair(ctx context.Context, tx pgx.Tx, walletA uuid.UUID, expectedA *int64, walletB uuid.UUID, expectedB *int64) (verA, verB int64, err error) {
	type leg struct {
		id       uuid.UUID
		expected *int64
	}
	legs := []leg{{walletA, expectedA}, {walletB, expectedB}}
	sort.Slice(legs, func(i, j int) bool {
		return bytes.Compare(legs[i].id[:], legs[j].id[:]) < 0
	})

	versions := make(map[uuid.UUID]int64, 2)
	for _, l := range legs {
		v, verr := bumpVersion(ctx, tx, l.id, l.expected)
		if verr != nil {
			return 0, 0, verr
		}
		versions[l.id] = v
	}
	return versions[walletA], versions[walletB], nil
}

// bumpVersion advances an account's version under optimistic
// concurrency. It always takes the row-level write lock first
// (establishing existence and, when no expected version was supplied,
// the observed value to compare against), then performs the
// conditional update.
func bumpVersion(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, expectedVersion *int64) (int64, error) {
	var current int64
	err := tx.QueryRow(ctx, `SELECT version FROM accounts WHERE wallet_id = $1 FOR UPDATE`, walletID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.NotFound("wallet not found: " + walletID.String())
		}
		return 0, err
	}

	expected := current
	if expectedVersion != nil {
		expected = *expectedVersion
	}

	var newVersion int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET version = version + 1 WHERE wallet_id = $1 AND version = $2 RETURNING version`,
		walletID, expected,
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.Conflict("optimistic version conflict for wallet " + walletID.String())
		}
		return 0, err
	}
	return newVersion, nil
}

// applyProjection keeps the balance projection in lockstep with the
// version bump performed in the same transaction. A zero-row update
// means the projection is missing — corruption, since every account
// is created with one — and is fatal.
func applyProjection(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, asset string, delta decimal.Decimal, newVersion int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE balance_projections SET balance = balance + $1, version = $2, as_of = now()
		 WHERE wallet_id = $3 AND asset = $4`,
		delta, newVersion, walletID, asset,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("balance projection missing for wallet " + walletID.String())
	}
	return nil
}

func insertEntries(ctx context.Context, tx pgx.Tx, txID uuid.UUID, entries []entry) error {
	for i, en := range entries {
		seq := i + 1
		if _, err := tx.Exec(ctx,
			`INSERT INTO journal_entries(transaction_id, seq, wallet_id, amount, asset) VALUES ($1, $2, $3, $4, $5)`,
			txID, seq, en.WalletID, en.Amount, en.Asset,
		); err != nil {
			return err
		}
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, txID uuid.UUID, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox_events(event_id, transaction_id, event_type, payload) VALUES ($1, $2, $3, $4::jsonb)`,
		uuid.New(), txID, eventType, raw,
	); err != nil {
		return err
	}
	metrics.LedgerOutboxEventsTotal.WithLabelValues(eventType).Inc()
	return nil
}

// fetchExistingIdempotent looks up (operation_scope, idempotency_key)
// inside the caller's serializable transaction: the unique index plus
// serializable isolation rules out the race where two same-key,
// different-payload writers both pass this lookup.
func fetchExistingIdempotent(ctx context.Context, tx pgx.Tx, scope domain.OperationScope, idempotencyKey, payloadHash string) (*uuid.UUID, *domain.Error) {
	var existingID uuid.UUID
	var existingHash string
	err := tx.QueryRow(ctx,
		`SELECT transaction_id, payload_hash FROM journal_transactions WHERE operation_scope = $1 AND idempotency_key = $2`,
		scope, idempotencyKey,
	).Scan(&existingID, &existingHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.ServiceUnavailable("idempotency lookup failed", err)
	}
	if existingHash != payloadHash {
		metrics.LedgerIdempotencyConflicts.WithLabelValues(string(scope)).Inc()
		return nil, domain.Conflict("idempotency key reuse with different payload")
	}
	return &existingID, nil
}

func loadTransaction(ctx context.Context, q querier, transactionID uuid.UUID) (*domain.Transaction, *domain.Error) {
	var t domain.Transaction
	var externalRef *string
	row := q.QueryRow(ctx,
		`SELECT transaction_id, operation_scope, idempotency_key, payload_hash, status, created_at, external_reference
		 FROM journal_transactions WHERE transaction_id = $1`,
		transactionID,
	)
	if err := row.Scan(&t.TransactionID, &t.OperationScope, &t.IdempotencyKey, &t.PayloadHash, &t.Status, &t.CreatedAt, &externalRef); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("transaction not found")
		}
		return nil, domain.ServiceUnavailable("load transaction failed", err)
	}
	t.ExternalReference = externalRef

	rows, err := q.Query(ctx,
		`SELECT wallet_id, amount, asset FROM journal_entries WHERE transaction_id = $1 ORDER BY seq ASC`,
		transactionID,
	)
	if err != nil {
		return nil, domain.ServiceUnavailable("load journal entries failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var je domain.JournalEntryView
		if err := rows.Scan(&je.AccountID, &je.Amount, &je.Asset); err != nil {
			return nil, domain.ServiceUnavailable("scan journal entry failed", err)
		}
		t.Entries = append(t.Entries, je)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ServiceUnavailable("read journal entries failed", err)
	}

	return &t, nil
}

// GetTransaction looks up a committed transaction by id, entries included.
func (e *Engine) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	t, err := loadTransaction(ctx, e.pool, transactionID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetBalance reads a wallet's materialized balance projection.
func (e *Engine) GetBalance(ctx context.Context, walletID uuid.UUID) (*domain.Balance, error) {
	var b domain.Balance
	b.WalletID = walletID
	err := e.pool.QueryRow(ctx,
		`SELECT asset, balance, version, as_of FROM balance_projections WHERE wallet_id = $1`,
		walletID,
	).Scan(&b.Asset, &b.Balance, &b.Version, &b.AsOf)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("wallet not found")
		}
		return nil, classifyError(err)
	}
	return &b, nil
}

// AuditBalance reconstructs a wallet's balance directly from journal
// entries and compares it against the projection. A divergence is
// logged and counted but still returns the audit figure — callers
// decide how to react.
func (e *Engine) AuditBalance(ctx context.Context, walletID uuid.UUID) (*domain.Balance, error) {
	proj, err := e.GetBalance(ctx, walletID)
	if err != nil {
		return nil, err
	}

	var sum decimal.Decimal
	err = e.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(je.amount), 0)
		 FROM accounts a
		 LEFT JOIN journal_entries je ON je.wallet_id = a.wallet_id AND je.asset = a.asset
		 WHERE a.wallet_id = $1`,
		walletID,
	).Scan(&sum)
	if err != nil {
		return nil, classifyError(err)
	}

	if !sum.Equal(proj.Balance) {
		metrics.LedgerAuditDivergence.Inc()
		logging.Error("audit divergence detected",
			"wallet_id", walletID.String(),
			"audit_balance", sum.String(),
			"projection_balance", proj.Balance.String(),
		)
	}

	return &domain.Balance{
		WalletID: walletID,
		Asset:    proj.Asset,
		Balance:  sum,
		Version:  proj.Version,
		AsOf:     proj.AsOf,
	}, nil
}

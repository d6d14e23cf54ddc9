package ledger

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-ledger/internal/domain"
	"wallet-ledger/internal/store"
)

func mustEnv(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set, skipping integration test", key)
	}
	return v
}

func newTestEngine(t *testing.T) (*Engine, uuid.UUID) {
	t.Helper()
	dsn := mustEnv(t, "LEDGER_DB_DSN")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))
	require.NoError(t, store.Migrate(ctx, pool))

	systemWallet := uuid.New()
	engine := NewEngine(pool, systemWallet, "USD")

	_, err = engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: systemWallet, Asset: "USD"})
	require.NoError(t, err)

	return engine, systemWallet
}

func TestEngine_TransferHappyPath(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: a, Asset: "USD"})
	require.NoError(t, err)
	_, err = engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: b, Asset: "USD"})
	require.NoError(t, err)

	tx, err := engine.PostTransfer(ctx, "idem-1", domain.TransferRequest{
		FromWalletID: a, ToWalletID: b, Amount: "10.25", Asset: "USD",
	})
	require.NoError(t, err)
	assert.Len(t, tx.Entries, 2)

	balA, err := engine.GetBalance(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "-10.25", balA.Balance.String())

	balB, err := engine.GetBalance(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "10.25", balB.Balance.String())
}

func TestEngine_TransferIdempotency(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: a, Asset: "USD"})
	require.NoError(t, err)
	_, err = engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: b, Asset: "USD"})
	require.NoError(t, err)

	req := domain.TransferRequest{FromWalletID: a, ToWalletID: b, Amount: "10.25", Asset: "USD"}

	first, err := engine.PostTransfer(ctx, "idem-2", req)
	require.NoError(t, err)

	second, err := engine.PostTransfer(ctx, "idem-2", req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)

	balA, err := engine.GetBalance(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "-10.25", balA.Balance.String())
}

func TestEngine_IdempotencyKeyPayloadMismatch_Conflict(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: a, Asset: "USD"})
	require.NoError(t, err)
	_, err = engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: b, Asset: "USD"})
	require.NoError(t, err)

	_, err = engine.PostTransfer(ctx, "idem-3", domain.TransferRequest{
		FromWalletID: a, ToWalletID: b, Amount: "10.25", Asset: "USD",
	})
	require.NoError(t, err)

	_, err = engine.PostTransfer(ctx, "idem-3", domain.TransferRequest{
		FromWalletID: a, ToWalletID: b, Amount: "10.26", Asset: "USD",
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestEngine_AuditAgreesWithProjection(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: a, Asset: "USD"})
	require.NoError(t, err)
	_, err = engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: b, Asset: "USD"})
	require.NoError(t, err)

	_, err = engine.PostTransfer(ctx, "idem-4", domain.TransferRequest{
		FromWalletID: a, ToWalletID: b, Amount: "10.25", Asset: "USD",
	})
	require.NoError(t, err)

	audited, err := engine.AuditBalance(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "-10.25", audited.Balance.String())
}

func TestEngine_OptimisticVersionConflict_ExactlyOneWins(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: a, Asset: "USD"})
	require.NoError(t, err)
	_, err = engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: b, Asset: "USD"})
	require.NoError(t, err)

	balA, err := engine.GetBalance(ctx, a)
	require.NoError(t, err)
	v := balA.Version

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, results[i] = engine.PostTransfer(ctx, "idem-race-"+string(rune('a'+i)), domain.TransferRequest{
				FromWalletID:        a,
				ToWalletID:          b,
				Amount:              "1.00",
				Asset:               "USD",
				ExpectedFromVersion: &v,
			})
		}()
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case domain.Is(err, domain.KindConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

func TestEngine_Adjustment(t *testing.T) {
	engine, system := newTestEngine(t)
	ctx := context.Background()

	w := uuid.New()
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: w, Asset: "USD"})
	require.NoError(t, err)

	_, err = engine.PostAdjustment(ctx, "idem-adj-1", domain.AdjustmentRequest{
		WalletID: w, Amount: "50.00", Direction: domain.DirectionCredit, Asset: "USD", Reason: "bonus",
	})
	require.NoError(t, err)

	bal, err := engine.GetBalance(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.Balance.String())

	sysBal, err := engine.GetBalance(ctx, system)
	require.NoError(t, err)
	assert.Equal(t, "-50.00", sysBal.Balance.String())
}

func TestEngine_ConcurrentSameIdempotencyKey_ReplaysSameTransactionID(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: a, Asset: "USD"})
	require.NoError(t, err)
	_, err = engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: b, Asset: "USD"})
	require.NoError(t, err)

	req := domain.TransferRequest{FromWalletID: a, ToWalletID: b, Amount: "1.00", Asset: "USD"}
	idem := "idem-race-same-key"

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	txIDs := make([]uuid.UUID, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			tx, err := engine.PostTransfer(ctx, idem, req)
			errs[i] = err
			if err == nil {
				txIDs[i] = tx.TransactionID
			}
		}()
	}
	wg.Wait()

	// Calls that overlap the first commit lose on the unique
	// (operation_scope, idempotency_key) index or the serializable check
	// and surface as Conflict; the engine does not retry internally.
	var first uuid.UUID
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			require.Equal(t, domain.KindConflict, domain.KindOf(errs[i]), "call %d: %v", i, errs[i])
			continue
		}
		if first == uuid.Nil {
			first = txIDs[i]
			continue
		}
		assert.Equal(t, first, txIDs[i], "call %d returned a different transaction id", i)
	}
	require.NotEqual(t, uuid.Nil, first, "no call succeeded")

	var count int
	err = engine.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM journal_transactions WHERE operation_scope = $1 AND idempotency_key = $2`,
		domain.ScopeTransfer, idem,
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	balA, err := engine.GetBalance(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "-1.00", balA.Balance.String())
}

func TestEngine_CreateWallet_OmittedAssetUsesDefault(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	w := uuid.New()
	wallet, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: w})
	require.NoError(t, err)
	assert.Equal(t, "USD", wallet.Asset)
}

func TestEngine_CreateWallet_DuplicateIsConflict(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	w := uuid.New()
	_, err := engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: w, Asset: "USD"})
	require.NoError(t, err)

	_, err = engine.CreateWallet(ctx, domain.CreateWalletRequest{WalletID: w, Asset: "USD"})
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

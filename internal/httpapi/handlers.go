package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"wallet-ledger/internal/auth"
	"wallet-ledger/internal/domain"
	"wallet-ledger/internal/ledger"
	"wallet-ledger/internal/store"
)

const (
	scopeRead  = "wallet:read"
	scopeWrite = "wallet:write"
	scopeAdmin = "wallet:admin"
)

// Handlers holds the dependencies every endpoint needs. It carries no
// state of its own beyond these references.
type Handlers struct {
	engine *ledger.Engine
	pool   *pgxpool.Pool
}

func NewHandlers(engine *ledger.Engine, pool *pgxpool.Pool) *Handlers {
	return &Handlers{engine: engine, pool: pool}
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, r, domain.Unauthorized("missing bearer token"))
		return false
	}
	if err := auth.RequireScope(ac, scope); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

func pathWalletID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, domain.Validation("invalid wallet id"))
		return uuid.Nil, false
	}
	return id, true
}

// Health answers GET /v1/health unconditionally.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready answers GET /v1/ready: 200 once the store is reachable and at
// least one migration has applied, 503 otherwise.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.pool.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	latest, err := store.LatestMigration(ctx, h.pool)
	if err != nil || latest == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "latest_migration": latest})
}

// CreateWallet handles POST /v1/wallets.
func (h *Handlers) CreateWallet(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeWrite) {
		return
	}

	var req domain.CreateWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, domain.Validation("invalid request body"))
		return
	}

	wallet, err := h.engine.CreateWallet(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// GetBalance handles GET /v1/wallets/{id}/balance.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeRead) {
		return
	}
	walletID, ok := pathWalletID(w, r)
	if !ok {
		return
	}

	balance, err := h.engine.GetBalance(r.Context(), walletID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// GetBalanceAudit handles GET /v1/wallets/{id}/balance/audit.
func (h *Handlers) GetBalanceAudit(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeRead) {
		return
	}
	walletID, ok := pathWalletID(w, r)
	if !ok {
		return
	}

	balance, err := h.engine.AuditBalance(r.Context(), walletID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// PostTransfer handles POST /v1/transfers.
func (h *Handlers) PostTransfer(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeWrite) {
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		writeError(w, r, domain.Validation("Idempotency-Key header is required"))
		return
	}

	var req domain.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, domain.Validation("invalid request body"))
		return
	}

	tx, err := h.engine.PostTransfer(r.Context(), idemKey, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// PostAdjustment handles POST /v1/adjustments.
func (h *Handlers) PostAdjustment(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeAdmin) {
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		writeError(w, r, domain.Validation("Idempotency-Key header is required"))
		return
	}

	var req domain.AdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, domain.Validation("invalid request body"))
		return
	}

	tx, err := h.engine.PostAdjustment(r.Context(), idemKey, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetTransaction handles GET /v1/transactions/{id}.
func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeRead) {
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, domain.Validation("invalid transaction id"))
		return
	}

	tx, err := h.engine.GetTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-ledger/internal/auth"
)

func TestCreateWallet_MissingScope_Forbidden(t *testing.T) {
	h := NewHandlers(nil, nil)

	body := bytes.NewBufferString(`{"wallet_id":"11111111-1111-1111-1111-111111111111","asset":"USD"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/wallets", body)

	ac := auth.Context{Subject: "svc-a", Scopes: map[string]struct{}{"wallet:read": {}}}
	req = req.WithContext(auth.WithContext(req.Context(), ac))

	rec := httptest.NewRecorder()
	h.CreateWallet(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateWallet_NoBearerContext_Unauthorized(t *testing.T) {
	h := NewHandlers(nil, nil)

	body := bytes.NewBufferString(`{"wallet_id":"11111111-1111-1111-1111-111111111111","asset":"USD"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/wallets", body)

	rec := httptest.NewRecorder()
	h.CreateWallet(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostTransfer_MissingIdempotencyKey_UnprocessableEntity(t *testing.T) {
	h := NewHandlers(nil, nil)

	ac := auth.Context{Subject: "svc-a", Scopes: map[string]struct{}{"wallet:write": {}}}
	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/transfers", body)
	req = req.WithContext(auth.WithContext(req.Context(), ac))

	rec := httptest.NewRecorder()
	h.PostTransfer(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateWallet_InvalidJSON_UnprocessableEntity(t *testing.T) {
	h := NewHandlers(nil, nil)

	ac := auth.Context{Subject: "svc-a", Scopes: map[string]struct{}{"wallet:write": {}}}
	body := bytes.NewBufferString(`not json`)
	req := httptest.NewRequest(http.MethodPost, "/v1/wallets", body)
	req = req.WithContext(auth.WithContext(req.Context(), ac))

	rec := httptest.NewRecorder()
	h.CreateWallet(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealth_AlwaysOK(t *testing.T) {
	h := NewHandlers(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-ledger/internal/domain"
)

func signToken(t *testing.T, secret []byte, subject, audience, scope string, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestVerifier_DecodeBearerToken_Valid(t *testing.T) {
	secret := []byte("top-secret")
	v := NewVerifier(string(secret), "wallet-ledger", []string{"HS256"})

	token := signToken(t, secret, "svc-a", "wallet-ledger", "wallet:read wallet:write", time.Hour)

	ctx, err := v.DecodeBearerToken(token)
	require.Nil(t, err)
	assert.Equal(t, "svc-a", ctx.Subject)
	assert.True(t, ctx.HasScope("wallet:read"))
	assert.True(t, ctx.HasScope("wallet:write"))
	assert.False(t, ctx.HasScope("wallet:admin"))
}

func TestVerifier_DecodeBearerToken_WrongAudience(t *testing.T) {
	secret := []byte("top-secret")
	v := NewVerifier(string(secret), "wallet-ledger", []string{"HS256"})

	token := signToken(t, secret, "svc-a", "someone-else", "wallet:read", time.Hour)

	_, err := v.DecodeBearerToken(token)
	require.NotNil(t, err)
	assert.Equal(t, domain.KindUnauthorized, err.Kind)
}

func TestVerifier_DecodeBearerToken_Expired(t *testing.T) {
	secret := []byte("top-secret")
	v := NewVerifier(string(secret), "wallet-ledger", []string{"HS256"})

	token := signToken(t, secret, "svc-a", "wallet-ledger", "wallet:read", -time.Hour)

	_, err := v.DecodeBearerToken(token)
	require.NotNil(t, err)
}

func TestVerifier_DecodeBearerToken_WrongSecret(t *testing.T) {
	v := NewVerifier("top-secret", "wallet-ledger", []string{"HS256"})
	token := signToken(t, []byte("different-secret"), "svc-a", "wallet-ledger", "wallet:read", time.Hour)

	_, err := v.DecodeBearerToken(token)
	require.NotNil(t, err)
}

func TestRequireScope(t *testing.T) {
	ctx := Context{Subject: "svc-a", Scopes: map[string]struct{}{"wallet:read": {}}}

	assert.Nil(t, RequireScope(ctx, "wallet:read"))

	err := RequireScope(ctx, "wallet:admin")
	require.NotNil(t, err)
	assert.Equal(t, domain.KindForbidden, err.Kind)
}

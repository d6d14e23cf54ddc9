// Package auth decodes bearer tokens and enforces scope requirements.
package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"wallet-ledger/internal/domain"
)

// Context is the decoded identity and scope set of a request's bearer
// token.
type Context struct {
	Subject string
	Scopes  map[string]struct{}
}

func (c Context) HasScope(scope string) bool {
	_, ok := c.Scopes[scope]
	return ok
}

// Claims is the minimal claim set this service relies on: subject,
// audience, and a space-separated scope string.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Verifier decodes and validates bearer tokens against a fixed secret
// and audience. Constructed once at startup from config, passed
// explicitly to the HTTP layer (no package-level state).
type Verifier struct {
	secret     []byte
	audience   string
	algorithms []string
}

func NewVerifier(secret, audience string, algorithms []string) *Verifier {
	return &Verifier{secret: []byte(secret), audience: audience, algorithms: algorithms}
}

// DecodeBearerToken parses and validates the token, returning the
// resolved auth Context or a domain.Unauthorized error.
func (v *Verifier) DecodeBearerToken(token string) (Context, *domain.Error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods(v.algorithms), jwt.WithAudience(v.audience))
	if err != nil || !parsed.Valid {
		return Context{}, domain.Unauthorized("invalid token")
	}

	scopes := make(map[string]struct{})
	for _, s := range strings.Fields(claims.Scope) {
		scopes[s] = struct{}{}
	}

	subject := claims.Subject
	if subject == "" {
		subject = "unknown"
	}
	return Context{Subject: subject, Scopes: scopes}, nil
}

// RequireScope returns a domain.Forbidden error if ctx lacks the
// required scope.
func RequireScope(ctx Context, required string) *domain.Error {
	if !ctx.HasScope(required) {
		return domain.Forbidden("missing scope: " + required)
	}
	return nil
}

package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"wallet-ledger/internal/domain"
)

func TestStatusForKind(t *testing.T) {
	cases := map[domain.Kind]int{
		domain.KindValidation:         http.StatusUnprocessableEntity,
		domain.KindNotFound:           http.StatusNotFound,
		domain.KindConflict:           http.StatusConflict,
		domain.KindUnauthorized:       http.StatusUnauthorized,
		domain.KindForbidden:          http.StatusForbidden,
		domain.KindServiceUnavailable: http.StatusServiceUnavailable,
		domain.Kind(""):               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), "kind=%s", kind)
	}
}

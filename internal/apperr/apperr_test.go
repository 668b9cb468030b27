package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/echogarden-io/echogarden/internal/apperr"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := apperr.New(apperr.NotFound, "card missing")
	wrapped := fmt.Errorf("handler: %w", base)

	assert.Equal(t, apperr.NotFound, apperr.KindOf(wrapped))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, apperr.Internal, apperr.KindOf(errors.New("plain")))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.InvalidInput:          http.StatusBadRequest,
		apperr.NotFound:              http.StatusNotFound,
		apperr.Unauthorized:          http.StatusUnauthorized,
		apperr.Conflict:              http.StatusConflict,
		apperr.DependencyUnavailable: http.StatusServiceUnavailable,
		apperr.Timeout:               http.StatusGatewayTimeout,
		apperr.Internal:              http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, apperr.HTTPStatus(kind), "kind %s", kind)
	}
}

package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", fmt.Errorf("verify: %w", ErrUnauthenticated), http.StatusUnauthorized, "unauthenticated"},
		{"forbidden", ErrForbidden, http.StatusForbidden, "forbidden"},
		{"signature", fmt.Errorf("webhook: %w", ErrInvalidSignature), http.StatusBadRequest, "invalid_signature"},
		{"payload", ErrMalformedPayload, http.StatusBadRequest, "malformed_payload"},
		{"not found", ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", ErrConflict, http.StatusConflict, "conflict"},
		{"upstream", fmt.Errorf("stripe: %w", ErrUpstreamUnavailable), http.StatusServiceUnavailable, "upstream_unavailable"},
		{"storage failure", errors.New("mongo: connection refused"), http.StatusInternalServerError, "internal_error"},
		{"explicit", New(http.StatusTeapot, "teapot", "short and stout"), http.StatusTeapot, "teapot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := FromError(tt.err)
			assert.Equal(t, tt.status, he.Status)
			assert.Equal(t, tt.code, he.Code)
		})
	}
	assert.Nil(t, FromError(nil))
}

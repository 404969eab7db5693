package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsigned builds a JWT-shaped token. exp defaults to an hour from now.
func unsigned(claims map[string]interface{}) string {
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	payload, _ := json.Marshal(claims)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString(payload) + "."
}

func TestIdentityFrom(t *testing.T) {
	v := NewInsecureVerifier()
	ctx := context.Background()

	id, err := IdentityFrom(ctx, v, unsigned(map[string]interface{}{"sub": "g-123", "email": "a@example.com", "name": "A", "email_verified": true}))
	require.NoError(t, err)
	assert.Equal(t, "g-123", id.Subject)
	assert.Equal(t, "a@example.com", id.Email)
	assert.Equal(t, "A", id.Name)

	_, err = IdentityFrom(ctx, v, unsigned(map[string]interface{}{"sub": "g-123"}))
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	_, err = IdentityFrom(ctx, v, unsigned(map[string]interface{}{"sub": "g-1", "email": "a@example.com", "email_verified": false}))
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	_, err = IdentityFrom(ctx, v, "not-a-token")
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestInsecureVerifier_RegisteredClaims(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	v := &InsecureVerifier{now: func() time.Time { return now }}
	ctx := context.Background()

	tok, err := v.Verify(ctx, unsigned(map[string]interface{}{"sub": "g-1", "exp": now.Add(time.Minute).Unix(), "email": "a@example.com"}))
	require.NoError(t, err)
	var id Identity
	require.NoError(t, tok.Claims(&id))
	assert.Equal(t, "g-1", id.Subject)
	assert.Equal(t, "a@example.com", id.Email)

	cases := map[string]string{
		"expired":    unsigned(map[string]interface{}{"sub": "g-1", "exp": now.Add(-time.Second).Unix()}),
		"no subject": unsigned(map[string]interface{}{"email": "a@example.com"}),
		"no expiry": base64.RawURLEncoding.EncodeToString([]byte(`{}`)) + "." +
			base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"g-1"}`)) + ".",
		"two segments": "aGVhZGVy.cGF5bG9hZA",
		"bad base64":   "aGVhZGVy.!!!.",
		"not json":     "aGVhZGVy." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".",
	}
	for name, raw := range cases {
		_, err := v.Verify(ctx, raw)
		assert.Error(t, err, name)
		_, err = IdentityFrom(ctx, v, raw)
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated, name)
	}
}

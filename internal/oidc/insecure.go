package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsecureVerifier reads ID token claims without checking the signature.
// It is only wired when OIDC_ALLOW_INSECURE is set for local runs. It still
// applies the checks go-oidc makes on the payload: a subject and an expiry
// in the future.
type InsecureVerifier struct {
	now func() time.Time
}

func NewInsecureVerifier() *InsecureVerifier { return &InsecureVerifier{now: time.Now} }

// payloadToken satisfies Token from the decoded payload bytes.
type payloadToken struct {
	payload []byte
}

func (t *payloadToken) Claims(v interface{}) error { return json.Unmarshal(t.payload, v) }

type registeredClaims struct {
	Subject string `json:"sub"`
	Expiry  *int64 `json:"exp"`
}

func (v *InsecureVerifier) Verify(_ context.Context, raw string) (Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt: %d segments", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("malformed jwt payload: %w", err)
	}
	var rc registeredClaims
	if err := json.Unmarshal(payload, &rc); err != nil {
		return nil, fmt.Errorf("malformed jwt claims: %w", err)
	}
	if rc.Subject == "" {
		return nil, errors.New("id token has no subject")
	}
	if rc.Expiry == nil {
		return nil, errors.New("id token has no expiry")
	}
	if exp := time.Unix(*rc.Expiry, 0); !v.now().Before(exp) {
		return nil, fmt.Errorf("id token expired at %s", exp.UTC().Format(time.RFC3339))
	}
	return &payloadToken{payload: payload}, nil
}

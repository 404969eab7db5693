package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
)

// Token is a verified ID token. It is satisfied by *oidc.IDToken and by test fakes.
type Token interface {
	Claims(v interface{}) error
}

// TokenVerifier checks a raw ID token from the external provider.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// Identity is the subset of ID token claims used to sign a user in.
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name"`
}

// Verifier wraps the OIDC provider and token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// Verify checks signature, audience and expiry of raw.
func (v *Verifier) Verify(ctx context.Context, raw string) (Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// IdentityFrom verifies raw and extracts the sign-in identity. Verification
// failures and unusable claims wrap apperrors.ErrUnauthenticated.
func IdentityFrom(ctx context.Context, v TokenVerifier, raw string) (*Identity, error) {
	tok, err := v.Verify(ctx, strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: id token: %v", apperrors.ErrUnauthenticated, err)
	}
	var id Identity
	if err := tok.Claims(&id); err != nil {
		return nil, fmt.Errorf("%w: id token claims: %v", apperrors.ErrUnauthenticated, err)
	}
	if id.Subject == "" || id.Email == "" {
		return nil, fmt.Errorf("%w: id token lacks sub or email", apperrors.ErrUnauthenticated)
	}
	if id.EmailVerified != nil && !*id.EmailVerified {
		return nil, fmt.Errorf("%w: email not verified", apperrors.ErrUnauthenticated)
	}
	return &id, nil
}

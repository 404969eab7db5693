package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/internal/tokens"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
)

// ErrUserNotFound means the credential was valid but the account is gone.
var ErrUserNotFound = fmt.Errorf("%w: account not found", apperrors.ErrNotFound)

// UserLoader loads the live user record; (nil, nil) means absent.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Cache is an optional short-lived user cache.
type Cache interface {
	Get(ctx context.Context, userID string) (*models.User, error)
	Set(ctx context.Context, u *models.User) error
	Invalidate(ctx context.Context, userID string) error
}

// Revocations reports access tokens revoked before expiry.
type Revocations interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Resolver turns a bearer credential into the current user record. Role and
// entitlement always come from storage (or a cache bounded by its TTL),
// never from token claims.
type Resolver struct {
	verifier tokens.Verifier
	users    UserLoader
	cache    Cache
	revoked  Revocations
}

type Option func(*Resolver)

func WithCache(c Cache) Option { return func(r *Resolver) { r.cache = c } }

// WithRevocations rejects blacklisted tokens. Lookup errors are logged and
// the token is accepted, since access tokens are short-lived.
func WithRevocations(rv Revocations) Option { return func(r *Resolver) { r.revoked = rv } }

func NewResolver(verifier tokens.Verifier, users UserLoader, opts ...Option) *Resolver {
	r := &Resolver{verifier: verifier, users: users}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the user for raw. Errors wrap apperrors.ErrUnauthenticated
// (with the tokens error kind) or ErrUserNotFound.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*models.User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing credential", apperrors.ErrUnauthenticated)
	}
	sub, err := r.verifier.Verify(raw)
	if err != nil {
		return nil, err
	}
	if r.revoked != nil {
		revoked, err := r.revoked.IsRevoked(ctx, raw)
		if err != nil {
			logger.Warnf("revocation lookup for %s: %v", sub, err)
		} else if revoked {
			return nil, fmt.Errorf("%w: credential revoked", apperrors.ErrUnauthenticated)
		}
	}
	if r.cache != nil {
		if u, err := r.cache.Get(ctx, sub); err != nil {
			logger.Warnf("identity cache get %s: %v", sub, err)
		} else if u != nil {
			return u, nil
		}
	}
	u, err := r.users.GetByID(ctx, sub)
	if errors.Is(err, apperrors.ErrNotFound) || (err == nil && u == nil) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, u); err != nil {
			logger.Warnf("identity cache set %s: %v", sub, err)
		}
	}
	return u, nil
}

// Invalidate drops a cached user; it satisfies entitlement.CacheInvalidator.
func (r *Resolver) Invalidate(ctx context.Context, userID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, userID)
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

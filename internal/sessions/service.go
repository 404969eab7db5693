package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
)

var ErrInvalidRefresh = fmt.Errorf("%w: invalid or expired refresh token", apperrors.ErrUnauthenticated)

// Service wraps repository operations with business logic
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(r Repository) *Service { return &Service{repo: r, now: time.Now} }

// CreateSession stores a new refresh session and returns the refresh token
func (s *Service) CreateSession(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	refresh := hex.EncodeToString(b)
	now := s.now().UTC()
	sess := &Session{
		TokenHash: HashToken(refresh),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return "", time.Time{}, err
	}
	return refresh, sess.ExpiresAt, nil
}

// ValidateRefresh returns the session if refresh token is valid and not expired
func (s *Service) ValidateRefresh(ctx context.Context, refresh string) (*Session, error) {
	if refresh == "" {
		return nil, ErrInvalidRefresh
	}
	hash := HashToken(refresh)
	sess, err := s.repo.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrInvalidRefresh
	}
	if s.now().UTC().After(sess.ExpiresAt) {
		// cleanup expired session
		_ = s.repo.Delete(ctx, hash)
		return nil, ErrInvalidRefresh
	}
	return sess, nil
}

// Rotate consumes refresh and issues a replacement for the same user.
func (s *Service) Rotate(ctx context.Context, refresh string, ttl time.Duration) (string, time.Time, *Session, error) {
	sess, err := s.ValidateRefresh(ctx, refresh)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	if err := s.repo.Delete(ctx, sess.TokenHash); err != nil {
		return "", time.Time{}, nil, err
	}
	next, exp, err := s.CreateSession(ctx, sess.UserID, ttl)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return next, exp, sess, nil
}

func (s *Service) DeleteRefresh(ctx context.Context, refresh string) error {
	return s.repo.Delete(ctx, HashToken(refresh))
}

// RevokeUser drops every refresh session of a user.
func (s *Service) RevokeUser(ctx context.Context, userID string) error {
	return s.repo.DeleteByUser(ctx, userID)
}

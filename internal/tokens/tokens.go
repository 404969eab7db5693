package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/metrics"
)

// Verification failure kinds. Each one also matches apperrors.ErrUnauthenticated.
var (
	ErrMalformed    = fmt.Errorf("%w: malformed token", apperrors.ErrUnauthenticated)
	ErrExpired      = fmt.Errorf("%w: token expired", apperrors.ErrUnauthenticated)
	ErrBadSignature = fmt.Errorf("%w: bad token signature", apperrors.ErrUnauthenticated)
)

const DefaultLeeway = 5 * time.Second

// Verifier is the read side used by the identity resolver and middleware.
type Verifier interface {
	Verify(raw string) (string, error)
}

// Service issues and verifies HS256 session credentials.
type Service struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type Option func(*Service)

func WithLeeway(d time.Duration) Option { return func(s *Service) { s.leeway = d } }
func WithIssuer(iss string) Option      { return func(s *Service) { s.issuer = iss } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(secret string, opts ...Option) *Service {
	s := &Service{secret: []byte(secret), leeway: DefaultLeeway, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Issue signs a credential for userID that expires at now+ttl.
func (s *Service) Issue(userID string, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", apperrors.ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", apperrors.ErrInvalidInput)
	}
	now := s.now()
	exp := now.Add(ttl)
	// jti keeps tokens issued within the same second distinct for revocation
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp.Truncate(time.Second), nil
}

// Verify checks the signature, then expiry, and returns the subject.
// Expiry is not extended.
func (s *Service) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		kind := classify(err)
		if kind == ErrExpired {
			logger.Debugf("token expired: %v", err)
			metrics.TokenVerifications.WithLabelValues("expired").Inc()
		} else {
			metrics.TokenVerifications.WithLabelValues("rejected").Inc()
		}
		return "", kind
	}
	if claims.Subject == "" {
		metrics.TokenVerifications.WithLabelValues("rejected").Inc()
		return "", ErrMalformed
	}
	metrics.TokenVerifications.WithLabelValues("ok").Inc()
	return claims.Subject, nil
}

// classify maps jwt parser errors to a verification kind. Signature
// failures take precedence because the parser verifies them before claims.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

// Kind returns a short machine code for a verification error.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "token_expired"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrMalformed):
		return "malformed_token"
	}
	return "unauthenticated"
}

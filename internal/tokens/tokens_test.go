package tokens

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-bytes-should-be-long-enough"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService() (*Service, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(testSecret, WithClock(clk.Now), WithIssuer("lookmax")), clk
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	svc, clk := newTestService()

	tok, exp, err := svc.Issue("user-123", 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, clk.Now().Add(2*time.Minute), exp)

	sub, err := svc.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "user-123", sub)

	again, _, err := svc.Issue("user-123", 2*time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, tok, again, "same-second tokens must differ")
}

func TestVerify_ExpiredAfterTTL(t *testing.T) {
	svc, clk := newTestService()
	tok, _, err := svc.Issue("u2", time.Minute)
	require.NoError(t, err)

	// inside leeway still valid
	clk.Advance(time.Minute + 3*time.Second)
	_, err = svc.Verify(tok)
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	_, err = svc.Verify(tok)
	require.ErrorIs(t, err, ErrExpired)
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	require.Equal(t, "token_expired", Kind(err))
}

func TestVerify_NoSlidingExpiry(t *testing.T) {
	svc, clk := newTestService()
	tok, _, err := svc.Issue("u", 30*time.Second)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clk.Advance(10 * time.Second)
		_, _ = svc.Verify(tok)
	}
	clk.Advance(10 * time.Second)
	_, err = svc.Verify(tok)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerify_WrongSecret(t *testing.T) {
	svc, clk := newTestService()
	other := NewService("different-secret-xxxxxxxxxxxxxxxxxxxx", WithClock(clk.Now), WithIssuer("lookmax"))
	tok, _, err := other.Issue("u3", time.Minute)
	require.NoError(t, err)

	_, err = svc.Verify(tok)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_SignatureCheckedBeforeExpiry(t *testing.T) {
	svc, clk := newTestService()
	other := NewService("different-secret-xxxxxxxxxxxxxxxxxxxx", WithClock(clk.Now), WithIssuer("lookmax"))
	tok, _, err := other.Issue("u3", time.Second)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	_, err = svc.Verify(tok)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_TamperedPayload(t *testing.T) {
	svc, _ := newTestService()
	tok, _, err := svc.Issue("victim", time.Minute)
	require.NoError(t, err)

	other, _, err := svc.Issue("attacker", time.Minute)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	otherParts := strings.Split(other, ".")
	forged := parts[0] + "." + otherParts[1] + "." + parts[2]

	_, err = svc.Verify(forged)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_AlgNoneRejected(t *testing.T) {
	svc, clk := newTestService()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		Issuer:    "lookmax",
		ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(tok)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadSignature) || errors.Is(err, ErrMalformed))
}

func TestVerify_Malformed(t *testing.T) {
	svc, _ := newTestService()
	for _, raw := range []string{"", "not.a.jwt", "abc"} {
		_, err := svc.Verify(raw)
		require.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestVerify_MissingExpiryOrSubject(t *testing.T) {
	svc, clk := newTestService()

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u", Issuer: "lookmax"}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = svc.Verify(noExp)
	require.ErrorIs(t, err, ErrMalformed)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "lookmax",
		ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = svc.Verify(noSub)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestIssue_InvalidInput(t *testing.T) {
	svc, _ := newTestService()
	_, _, err := svc.Issue("", time.Minute)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, _, err = svc.Issue("u", 0)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

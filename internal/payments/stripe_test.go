package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...StripeOption) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]StripeOption{WithAPIURL(srv.URL)}, opts...)
	return NewStripeClient("sk_test_123", 2*time.Second, opts...)
}

func TestCreateCustomer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/customers", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "a@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "u1", r.PostForm.Get("metadata[user_id]"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_1"}`))
	})

	id, err := c.CreateCustomer(context.Background(), "a@example.com", "A", "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", id)
}

func TestCreateCheckout_CarriesUserReference(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "price_1", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "u1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "u1", r.PostForm.Get("subscription_data[metadata][user_id]"))
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://checkout.example/cs_1"}`))
	})

	s, err := c.CreateCheckout(context.Background(), CheckoutRequest{
		CustomerID: "cus_1", PriceID: "price_1", UserID: "u1",
		SuccessURL: "https://app/success", CancelURL: "https://app/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.ID)
	assert.Equal(t, "https://checkout.example/cs_1", s.URL)
}

func TestRetrievePaymentIntent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded","customer":"cus_1","amount":999,"created":1700000000,"metadata":{"user_id":"u1"}}`))
	})

	pi, err := c.RetrievePaymentIntent(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.True(t, pi.Succeeded())
	assert.Equal(t, "u1", pi.Metadata["user_id"])

	_, err = c.RetrievePaymentIntent(context.Background(), "../v1/customers")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"rate limited", http.StatusTooManyRequests, func(t *testing.T, err error) {
			require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
		}},
		{"server error", http.StatusBadGateway, func(t *testing.T, err error) {
			require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
		}},
		{"not found", http.StatusNotFound, func(t *testing.T, err error) {
			require.ErrorIs(t, err, apperrors.ErrNotFound)
		}},
		{"card declined", http.StatusPaymentRequired, func(t *testing.T, err error) {
			require.True(t, IsAPIError(err))
			require.False(t, errors.Is(err, apperrors.ErrUpstreamUnavailable))
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "card_declined", apiErr.Code)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"declined"}}`))
			})
			err := c.CancelAtPeriodEnd(context.Background(), "sub_1")
			tc.check(t, err)
		})
	}
}

func TestTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewStripeClient("sk", 50*time.Millisecond, WithAPIURL(srv.URL))
	_, err := c.CreateCustomer(context.Background(), "a@example.com", "", "u1")
	require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

func TestIdempotencyKeyPerCall(t *testing.T) {
	var n int32
	keys := make(chan string, 2)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		keys <- r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"requires_payment_method","client_secret":"secret"}`))
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		pi, err := c.CreatePaymentIntent(ctx, PaymentIntentRequest{Amount: 999, Currency: "usd", UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, "secret", pi.ClientSecret)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&n))
	assert.NotEqual(t, <-keys, <-keys)
}

func TestRateLimitHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, WithRateLimit(0.001, 1))

	require.NoError(t, c.CancelAtPeriodEnd(context.Background(), "sub_1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.CancelAtPeriodEnd(ctx, "sub_1")
	require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/metrics"
	"golang.org/x/time/rate"
)

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	secretKey  string
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
	newKey     func() string
}

type StripeOption func(*StripeClient)

func WithAPIURL(u string) StripeOption {
	return func(c *StripeClient) { c.apiURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) StripeOption {
	return func(c *StripeClient) { c.httpClient = h }
}

// WithRateLimit throttles outbound calls to rps.
func WithRateLimit(rps float64, burst int) StripeOption {
	return func(c *StripeClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func NewStripeClient(secretKey string, timeout time.Duration, opts ...StripeOption) *StripeClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &StripeClient{
		secretKey:  secretKey,
		apiURL:     "https://api.stripe.com",
		httpClient: &http.Client{Timeout: timeout},
		newKey:     uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-retryable error body returned by Stripe.
type APIError struct {
	Status  int
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe %d %s: %s", e.Status, e.Type, e.Message)
}

func (c *StripeClient) do(ctx context.Context, op, method, path string, form url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.GatewayRequests.WithLabelValues(op, "throttled").Inc()
			return fmt.Errorf("%w: %v", apperrors.ErrUpstreamUnavailable, err)
		}
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", c.newKey())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "unavailable").Inc()
		logger.Warnf("stripe %s: %v", op, err)
		return fmt.Errorf("%w: %s: %v", apperrors.ErrUpstreamUnavailable, op, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "unavailable").Inc()
		return fmt.Errorf("%w: %s: read body: %v", apperrors.ErrUpstreamUnavailable, op, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		metrics.GatewayRequests.WithLabelValues(op, "unavailable").Inc()
		logger.Warnf("stripe %s: status %d", op, resp.StatusCode)
		return fmt.Errorf("%w: %s: status %d", apperrors.ErrUpstreamUnavailable, op, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		metrics.GatewayRequests.WithLabelValues(op, "error").Inc()
		var env struct {
			Error APIError `json:"error"`
		}
		_ = json.Unmarshal(b, &env)
		env.Error.Status = resp.StatusCode
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", apperrors.ErrNotFound, &env.Error)
		}
		return &env.Error
	}
	metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("stripe %s: decode: %w", op, err)
	}
	return nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, name, userID string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	if name != "" {
		form.Set("name", name)
	}
	form.Set("metadata[user_id]", userID)
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "create_customer", http.MethodPost, "/v1/customers", form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *StripeClient) CreateCheckout(ctx context.Context, r CheckoutRequest) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", r.CustomerID)
	form.Set("line_items[0][price]", r.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", r.SuccessURL)
	form.Set("cancel_url", r.CancelURL)
	form.Set("client_reference_id", r.UserID)
	form.Set("metadata[user_id]", r.UserID)
	form.Set("subscription_data[metadata][user_id]", r.UserID)
	var out CheckoutSession
	if err := c.do(ctx, "create_checkout", http.MethodPost, "/v1/checkout/sessions", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, r PaymentIntentRequest) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(r.Amount, 10))
	form.Set("currency", r.Currency)
	if r.CustomerID != "" {
		form.Set("customer", r.CustomerID)
	}
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[user_id]", r.UserID)
	var out PaymentIntent
	if err := c.do(ctx, "create_payment_intent", http.MethodPost, "/v1/payment_intents", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return nil, fmt.Errorf("%w: bad payment intent id", apperrors.ErrInvalidInput)
	}
	var out PaymentIntent
	if err := c.do(ctx, "retrieve_payment_intent", http.MethodGet, "/v1/payment_intents/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" || strings.ContainsAny(subscriptionID, "/?#") {
		return fmt.Errorf("%w: bad subscription id", apperrors.ErrInvalidInput)
	}
	form := url.Values{}
	form.Set("cancel_at_period_end", "true")
	return c.do(ctx, "cancel_at_period_end", http.MethodPost, "/v1/subscriptions/"+subscriptionID, form, nil)
}

// IsAPIError reports whether err is a non-retryable provider rejection.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

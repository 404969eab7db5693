package payments

import "context"

// Gateway is the call contract the application depends on. Transient
// failures wrap apperrors.ErrUpstreamUnavailable.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name, userID string) (string, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}

type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	UserID     string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type PaymentIntentRequest struct {
	CustomerID string
	Amount     int64
	Currency   string
	UserID     string
}

type PaymentIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Customer     string            `json:"customer"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Created      int64             `json:"created"`
	Metadata     map[string]string `json:"metadata"`
}

// Succeeded reports a captured payment.
func (p *PaymentIntent) Succeeded() bool { return p != nil && p.Status == "succeeded" }

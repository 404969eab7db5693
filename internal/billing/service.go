// Package billing starts payments with the provider and reports the caller's
// subscription. State changes only go through the entitlement service.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/internal/payments"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
)

// Entitlements is the subset of entitlement.Service billing needs.
type Entitlements interface {
	Now() time.Time
	Get(ctx context.Context, userID string) (*entitlement.Subscription, error)
	Apply(ctx context.Context, userID string, ev entitlement.Event) (entitlement.Transition, error)
	EnsureCustomerID(ctx context.Context, userID string, create func(ctx context.Context) (string, error)) (string, error)
}

// Plan holds the priced product and redirect targets.
type Plan struct {
	PriceID        string
	Amount         int64
	Currency       string
	PublishableKey string
	SuccessURL     string
	CancelURL      string
	Period         time.Duration
}

type Service struct {
	gateway payments.Gateway
	ent     Entitlements
	plan    Plan
}

func NewService(gateway payments.Gateway, ent Entitlements, plan Plan) *Service {
	if plan.Period <= 0 {
		plan.Period = 30 * 24 * time.Hour
	}
	return &Service{gateway: gateway, ent: ent, plan: plan}
}

type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type PaymentIntentResult struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	PublishableKey  string `json:"publishableKey"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type StatusResult struct {
	Status            entitlement.Status `json:"status"`
	EffectiveStatus   entitlement.Status `json:"effectiveStatus"`
	IsActive          bool               `json:"isActive"`
	PeriodEndsAt      *time.Time         `json:"periodEndsAt,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancelAtPeriodEnd"`
}

func (s *Service) customerID(ctx context.Context, u *models.User) (string, error) {
	return s.ent.EnsureCustomerID(ctx, u.ID, func(ctx context.Context) (string, error) {
		return s.gateway.CreateCustomer(ctx, u.Email, u.Name, u.ID)
	})
}

// StartCheckout creates a hosted checkout session for the subscription plan.
func (s *Service) StartCheckout(ctx context.Context, u *models.User) (*CheckoutResult, error) {
	if s.plan.PriceID == "" {
		return nil, fmt.Errorf("%w: no price configured", apperrors.ErrUpstreamUnavailable)
	}
	cust, err := s.customerID(ctx, u)
	if err != nil {
		return nil, err
	}
	cs, err := s.gateway.CreateCheckout(ctx, payments.CheckoutRequest{
		CustomerID: cust,
		PriceID:    s.plan.PriceID,
		UserID:     u.ID,
		SuccessURL: s.plan.SuccessURL,
		CancelURL:  s.plan.CancelURL,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("checkout %s created for user %s", cs.ID, u.ID)
	return &CheckoutResult{SessionID: cs.ID, URL: cs.URL}, nil
}

// StartPaymentIntent creates a one-off payment for in-app card entry.
func (s *Service) StartPaymentIntent(ctx context.Context, u *models.User) (*PaymentIntentResult, error) {
	cust, err := s.customerID(ctx, u)
	if err != nil {
		return nil, err
	}
	pi, err := s.gateway.CreatePaymentIntent(ctx, payments.PaymentIntentRequest{
		CustomerID: cust,
		Amount:     s.plan.Amount,
		Currency:   s.plan.Currency,
		UserID:     u.ID,
	})
	if err != nil {
		return nil, err
	}
	return &PaymentIntentResult{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		PublishableKey:  s.plan.PublishableKey,
		Amount:          s.plan.Amount,
		Currency:        s.plan.Currency,
	}, nil
}

// VerifyPayment applies PaymentCompleted for a succeeded intent owned by u.
// The deadline is anchored on the intent's creation time, so a later webhook
// for the same intent leaves the record unchanged.
func (s *Service) VerifyPayment(ctx context.Context, u *models.User, intentID string) (*StatusResult, error) {
	pi, err := s.gateway.RetrievePaymentIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !ownedBy(pi, u) {
		return nil, fmt.Errorf("%w: payment belongs to another account", apperrors.ErrForbidden)
	}
	if !pi.Succeeded() {
		return nil, fmt.Errorf("%w: payment status %s", apperrors.ErrInvalidInput, pi.Status)
	}
	created := s.ent.Now()
	if pi.Created > 0 {
		created = time.Unix(pi.Created, 0).UTC()
	}
	end := created.Add(s.plan.Period)
	if !end.After(s.ent.Now()) {
		return nil, fmt.Errorf("%w: payment %s covers a period that already ended", apperrors.ErrInvalidInput, pi.ID)
	}
	tr, err := s.ent.Apply(ctx, u.ID, entitlement.Event{
		Kind:       entitlement.PaymentCompleted,
		CustomerID: pi.Customer,
		PeriodEnd:  &end,
	})
	if err != nil {
		return nil, err
	}
	if tr.Outcome == entitlement.OutcomeRejected {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConflict, tr.Reason)
	}
	return s.statusOf(tr.After), nil
}

func ownedBy(pi *payments.PaymentIntent, u *models.User) bool {
	if uid := pi.Metadata["user_id"]; uid != "" {
		return uid == u.ID
	}
	return pi.Customer != "" && pi.Customer == u.Entitlement.ProviderCustomerID
}

// CancelAtPeriodEnd asks the provider to stop renewing. The local record
// changes when the provider's webhook arrives.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, u *models.User) error {
	sub, err := s.ent.Get(ctx, u.ID)
	if err != nil {
		return err
	}
	if sub.EffectiveStatus(s.ent.Now()) != entitlement.StatusActive {
		return fmt.Errorf("%w: no active subscription", apperrors.ErrInvalidInput)
	}
	if sub.ProviderSubscriptionID == "" {
		return fmt.Errorf("%w: one-off payment has nothing to cancel", apperrors.ErrInvalidInput)
	}
	if err := s.gateway.CancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID); err != nil {
		return err
	}
	logger.Infof("cancel at period end requested for user %s", u.ID)
	return nil
}

func (s *Service) Status(ctx context.Context, u *models.User) (*StatusResult, error) {
	sub, err := s.ent.Get(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return s.statusOf(*sub), nil
}

func (s *Service) statusOf(sub entitlement.Subscription) *StatusResult {
	now := s.ent.Now()
	st := sub.Status
	if st == "" {
		st = entitlement.StatusNone
	}
	return &StatusResult{
		Status:            st,
		EffectiveStatus:   sub.EffectiveStatus(now),
		IsActive:          sub.IsActive(now),
		PeriodEndsAt:      sub.PeriodEndsAt,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

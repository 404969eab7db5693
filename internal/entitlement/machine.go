package entitlement

import (
	"errors"
	"fmt"
	"time"
)

// EventKind is the closed set of inputs to the state machine.
type EventKind int

const (
	PaymentCompleted EventKind = iota + 1
	SubscriptionRenewed
	SubscriptionCancelledAtPeriodEnd
	SubscriptionDeleted
	SubscriptionPaymentFailed
)

func (k EventKind) String() string {
	switch k {
	case PaymentCompleted:
		return "payment_completed"
	case SubscriptionRenewed:
		return "subscription_renewed"
	case SubscriptionCancelledAtPeriodEnd:
		return "subscription_cancelled_at_period_end"
	case SubscriptionDeleted:
		return "subscription_deleted"
	case SubscriptionPaymentFailed:
		return "subscription_payment_failed"
	}
	return fmt.Sprintf("event_kind(%d)", int(k))
}

// Event carries what the provider told us. Empty ids mean "not supplied".
type Event struct {
	Kind           EventKind
	CustomerID     string
	SubscriptionID string
	PeriodEnd      *time.Time
}

// Outcome of applying an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeRejected  Outcome = "rejected"
)

// Transition is the result of Apply. After equals Before unless Outcome is applied.
type Transition struct {
	Event   Event
	Before  Subscription
	After   Subscription
	Outcome Outcome
	Reason  string
}

// Activated reports whether the transition granted paid access at now. A
// record stored active but past its deadline does not count.
func (t Transition) Activated(now time.Time) bool {
	return t.Outcome == OutcomeApplied && !t.Before.IsActive(now) && t.After.IsActive(now)
}

var ErrInvalidEvent = errors.New("invalid entitlement event")

// Apply is the transition function. It is pure and idempotent: applying the
// same event to its own result yields OutcomeUnchanged or OutcomeRejected.
func Apply(cur Subscription, ev Event) (Transition, error) {
	if cur.Status == "" {
		cur.Status = StatusNone
	}
	t := Transition{Event: ev, Before: cur, After: cur}

	if (ev.Kind == PaymentCompleted || ev.Kind == SubscriptionRenewed) && ev.PeriodEnd == nil {
		return t, fmt.Errorf("%w: %s without period end", ErrInvalidEvent, ev.Kind)
	}
	if ev.CustomerID != "" && cur.ProviderCustomerID != "" && ev.CustomerID != cur.ProviderCustomerID {
		return reject(t, "customer mismatch"), nil
	}

	next := cur
	switch ev.Kind {
	case PaymentCompleted:
		next.Status = StatusActive
		next.PeriodEndsAt = laterOf(cur.PeriodEndsAt, ev.PeriodEnd)
		if ev.SubscriptionID != "" {
			next.ProviderSubscriptionID = ev.SubscriptionID
		}
		if next.ProviderCustomerID == "" {
			next.ProviderCustomerID = ev.CustomerID
		}
		if cur.Status != StatusActive {
			next.CancelAtPeriodEnd = false
		}

	case SubscriptionRenewed:
		if cur.Status == StatusNone {
			return reject(t, "renewal without a prior subscription"), nil
		}
		// Out-of-order delivery: a renewal that does not extend the period
		// cannot revive a subscription that already ended.
		if cur.Status != StatusActive && cur.PeriodEndsAt != nil && !ev.PeriodEnd.After(*cur.PeriodEndsAt) {
			return reject(t, "stale renewal"), nil
		}
		next.Status = StatusActive
		// A renewal inside the current period leaves a scheduled
		// cancellation in place.
		if cur.PeriodEndsAt == nil || ev.PeriodEnd.After(*cur.PeriodEndsAt) {
			next.CancelAtPeriodEnd = false
		}
		next.PeriodEndsAt = laterOf(cur.PeriodEndsAt, ev.PeriodEnd)
		if ev.SubscriptionID != "" {
			next.ProviderSubscriptionID = ev.SubscriptionID
		}

	case SubscriptionCancelledAtPeriodEnd:
		if cur.Status != StatusActive {
			return reject(t, "cancel at period end requires active"), nil
		}
		if stale(cur, ev) {
			return reject(t, "stale subscription id"), nil
		}
		next.CancelAtPeriodEnd = true
		if ev.PeriodEnd != nil {
			next.PeriodEndsAt = laterOf(cur.PeriodEndsAt, ev.PeriodEnd)
		}

	case SubscriptionDeleted:
		if cur.Status != StatusActive && cur.Status != StatusCancelled {
			return reject(t, "delete requires active or cancelled"), nil
		}
		if stale(cur, ev) {
			return reject(t, "stale subscription id"), nil
		}
		next.Status = StatusCancelled
		next.CancelAtPeriodEnd = false

	case SubscriptionPaymentFailed:
		if cur.Status != StatusActive {
			return reject(t, "payment failure requires active"), nil
		}
		if stale(cur, ev) {
			return reject(t, "stale subscription id"), nil
		}
		next.Status = StatusExpired
		next.CancelAtPeriodEnd = false

	default:
		return t, fmt.Errorf("%w: unknown kind %d", ErrInvalidEvent, int(ev.Kind))
	}

	t.After = next
	if next.Equal(cur) {
		t.Outcome = OutcomeUnchanged
		return t, nil
	}
	t.Outcome = OutcomeApplied
	return t, nil
}

func reject(t Transition, reason string) Transition {
	t.After = t.Before
	t.Outcome = OutcomeRejected
	t.Reason = reason
	return t
}

// stale reports an event about a subscription other than the stored one.
func stale(cur Subscription, ev Event) bool {
	return ev.SubscriptionID != "" && cur.ProviderSubscriptionID != "" && ev.SubscriptionID != cur.ProviderSubscriptionID
}

// laterOf never moves a period end backwards.
func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := b.UTC()
		return &v
	case b == nil || !b.After(*a):
		v := a.UTC()
		return &v
	}
	v := b.UTC()
	return &v
}

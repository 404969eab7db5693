package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
)

// Provider event types the pipeline acts on.
const (
	TypeCheckoutCompleted     = "checkout.session.completed"
	TypePaymentIntentSuccess  = "payment_intent.succeeded"
	TypeInvoicePaid           = "invoice.paid"
	TypeInvoicePaymentSuccess = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed  = "invoice.payment_failed"
	TypeSubscriptionUpdated   = "customer.subscription.updated"
	TypeSubscriptionDeleted   = "customer.subscription.deleted"
)

// Event is the provider envelope.
type Event struct {
	ID      string `json:"id" validate:"required,max=255"`
	Type    string `json:"type" validate:"required,max=128"`
	Created int64  `json:"created" validate:"gte=0"`
	Data    struct {
		Object json.RawMessage `json:"object" validate:"required"`
	} `json:"data"`
}

// Object is the union of the data.object fields we read.
type Object struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	Created           int64             `json:"created"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	PeriodEnd         int64             `json:"period_end"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Lines             struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

var validate = validator.New()

// Parse decodes and validates a verified payload.
func Parse(payload []byte) (*Event, *Object, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
	}
	var obj Object
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return nil, nil, fmt.Errorf("%w: data.object: %v", apperrors.ErrMalformedPayload, err)
	}
	return &ev, &obj, nil
}

// Mapped is a provider event translated for the state machine.
type Mapped struct {
	Event entitlement.Event
	// UserHint is our user id when the provider echoes it back in metadata.
	UserHint string
}

// Map translates an event. ok is false for types that carry no entitlement
// change; those are acknowledged and ignored.
func Map(ev *Event, obj *Object, defaultPeriod time.Duration) (Mapped, bool) {
	m := Mapped{UserHint: userHint(obj)}
	m.Event.CustomerID = obj.Customer

	switch ev.Type {
	case TypeCheckoutCompleted:
		if obj.PaymentStatusUnpaid() {
			return m, false
		}
		m.Event.Kind = entitlement.PaymentCompleted
		m.Event.SubscriptionID = obj.Subscription
		m.Event.PeriodEnd = periodFrom(ev, obj, defaultPeriod)

	case TypePaymentIntentSuccess:
		m.Event.Kind = entitlement.PaymentCompleted
		m.Event.PeriodEnd = periodFrom(ev, obj, defaultPeriod)

	case TypeInvoicePaid, TypeInvoicePaymentSuccess:
		m.Event.Kind = entitlement.SubscriptionRenewed
		m.Event.SubscriptionID = obj.Subscription
		m.Event.PeriodEnd = invoicePeriodEnd(ev, obj, defaultPeriod)

	case TypeInvoicePaymentFailed:
		m.Event.Kind = entitlement.SubscriptionPaymentFailed
		m.Event.SubscriptionID = obj.Subscription

	case TypeSubscriptionUpdated:
		m.Event.SubscriptionID = obj.ID
		switch {
		case obj.CancelAtPeriodEnd:
			m.Event.Kind = entitlement.SubscriptionCancelledAtPeriodEnd
			m.Event.PeriodEnd = unixPtr(obj.CurrentPeriodEnd)
		case (obj.Status == "active" || obj.Status == "trialing") && obj.CurrentPeriodEnd > 0:
			m.Event.Kind = entitlement.SubscriptionRenewed
			m.Event.PeriodEnd = unixPtr(obj.CurrentPeriodEnd)
		default:
			return m, false
		}

	case TypeSubscriptionDeleted:
		m.Event.Kind = entitlement.SubscriptionDeleted
		m.Event.SubscriptionID = obj.ID

	default:
		return m, false
	}
	return m, true
}

// PaymentStatusUnpaid reports a checkout session that completed without
// collecting payment (delayed payment methods).
func (o *Object) PaymentStatusUnpaid() bool {
	return o.PaymentStatus == "unpaid"
}

func userHint(obj *Object) string {
	if id := obj.Metadata["user_id"]; id != "" {
		return id
	}
	return obj.ClientReferenceID
}

// periodFrom anchors a one-off payment period on the provider's timestamp
// so redelivery computes the same deadline.
func periodFrom(ev *Event, obj *Object, d time.Duration) *time.Time {
	created := obj.Created
	if created == 0 {
		created = ev.Created
	}
	t := time.Unix(created, 0).UTC().Add(d)
	return &t
}

func invoicePeriodEnd(ev *Event, obj *Object, d time.Duration) *time.Time {
	var end int64
	for _, l := range obj.Lines.Data {
		if l.Period.End > end {
			end = l.Period.End
		}
	}
	if end == 0 {
		end = obj.PeriodEnd
	}
	if end == 0 {
		return periodFrom(ev, obj, d)
	}
	return unixPtr(end)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

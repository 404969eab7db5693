package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/metrics"
)

// Entitlements is the part of entitlement.Service the pipeline drives.
type Entitlements interface {
	Now() time.Time
	ResolveCustomer(ctx context.Context, customerID string) (string, error)
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error
	ApplyLocked(ctx context.Context, userID string, ev entitlement.Event) (entitlement.Transition, error)
}

// Result describes what happened to one delivery. Every Result is a success
// from the provider's point of view.
type Result struct {
	EventID     string              `json:"eventId"`
	Type        string              `json:"type"`
	Duplicate   bool                `json:"duplicate,omitempty"`
	Ignored     bool                `json:"ignored,omitempty"`
	UnknownUser bool                `json:"unknownUser,omitempty"`
	UserID      string              `json:"userId,omitempty"`
	Outcome     entitlement.Outcome `json:"outcome,omitempty"`
}

const (
	outcomeIgnored     = "ignored"
	outcomeUnknownUser = "unknown_user"
)

// Pipeline verifies, deduplicates and applies provider webhooks.
type Pipeline struct {
	secret        string
	tolerance     time.Duration
	defaultPeriod time.Duration
	ledger        Ledger
	ent           Entitlements
	archive       Archiver
}

type Option func(*Pipeline)

func WithTolerance(d time.Duration) Option     { return func(p *Pipeline) { p.tolerance = d } }
func WithDefaultPeriod(d time.Duration) Option { return func(p *Pipeline) { p.defaultPeriod = d } }
func WithArchiver(a Archiver) Option           { return func(p *Pipeline) { p.archive = a } }

func NewPipeline(secret string, ledger Ledger, ent Entitlements, opts ...Option) *Pipeline {
	p := &Pipeline{
		secret:        secret,
		tolerance:     DefaultTolerance,
		defaultPeriod: 30 * 24 * time.Hour,
		ledger:        ledger,
		ent:           ent,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ingest processes one delivery. Returned errors wrap ErrInvalidSignature or
// ErrMalformedPayload for integrity failures; any other error is transient
// and the event stays unprocessed so the provider retries it.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, signature string) (*Result, error) {
	now := p.ent.Now()
	if err := VerifySignature(raw, signature, p.secret, p.tolerance, now); err != nil {
		metrics.WebhookRejected.WithLabelValues("signature").Inc()
		return nil, err
	}
	ev, obj, err := Parse(raw)
	if err != nil {
		metrics.WebhookRejected.WithLabelValues("payload").Inc()
		return nil, err
	}
	log := logger.With("event_id", ev.ID, "event_type", ev.Type)
	res := &Result{EventID: ev.ID, Type: ev.Type}

	rec, err := p.ledger.Begin(ctx, ev.ID, ev.Type, now)
	if err != nil {
		return nil, err
	}
	if rec.Processed() {
		res.Duplicate = true
		metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
		log.Debug("duplicate webhook delivery")
		return res, nil
	}
	p.archivePayload(ctx, ev, raw, now)

	mapped, ok := Map(ev, obj, p.defaultPeriod)
	if !ok {
		res.Ignored = true
		if err := p.ledger.MarkProcessed(ctx, ev.ID, "", outcomeIgnored, now); err != nil {
			return nil, err
		}
		metrics.WebhookEvents.WithLabelValues(ev.Type, "ignored").Inc()
		log.Info("webhook type ignored")
		return res, nil
	}

	userID := mapped.UserHint
	if userID == "" {
		userID, err = p.ent.ResolveCustomer(ctx, mapped.Event.CustomerID)
		if err != nil {
			return nil, err
		}
	}
	if userID == "" {
		return p.unknownUser(ctx, res, mapped, now)
	}

	err = p.ent.WithUserLock(ctx, userID, func(ctx context.Context) error {
		// a concurrent delivery of the same id may have finished first
		cur, err := p.ledger.Get(ctx, ev.ID)
		if err != nil {
			return err
		}
		if cur.Processed() {
			res.Duplicate = true
			return nil
		}
		tr, err := p.ent.ApplyLocked(ctx, userID, mapped.Event)
		if err != nil {
			return err
		}
		res.UserID = userID
		res.Outcome = tr.Outcome
		if tr.Outcome == entitlement.OutcomeRejected {
			log.Warn("webhook transition rejected", "user_id", userID, "reason", tr.Reason)
		}
		return p.ledger.MarkProcessed(ctx, ev.ID, userID, string(tr.Outcome), now)
	})
	if errors.Is(err, entitlement.ErrUserNotFound) {
		return p.unknownUser(ctx, res, mapped, now)
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "error").Inc()
		log.Error("webhook processing failed", logger.Err(err))
		return nil, err
	}
	if res.Duplicate {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
		return res, nil
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type, string(res.Outcome)).Inc()
	return res, nil
}

// unknownUser acknowledges an event we cannot attribute so the provider
// stops retrying it.
func (p *Pipeline) unknownUser(ctx context.Context, res *Result, m Mapped, now time.Time) (*Result, error) {
	res.UnknownUser = true
	if err := p.ledger.MarkProcessed(ctx, res.EventID, "", outcomeUnknownUser, now); err != nil {
		return nil, err
	}
	metrics.WebhookEvents.WithLabelValues(res.Type, outcomeUnknownUser).Inc()
	logger.With("event_id", res.EventID, "event_type", res.Type).
		Warn("webhook for unknown user", "customer_id", m.Event.CustomerID, "user_hint", m.UserHint)
	return res, nil
}

func (p *Pipeline) archivePayload(ctx context.Context, ev *Event, raw []byte, now time.Time) {
	if p.archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.archive.Archive(actx, ev.ID, ev.Type, raw, now); err != nil {
		logger.Warnf("archive webhook %s: %v", ev.ID, err)
	}
}

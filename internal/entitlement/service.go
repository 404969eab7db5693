package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/metrics"
)

// ActivationHook runs after a committed transition into active. Hooks are
// best-effort: their failure never rolls back the transition.
type ActivationHook func(ctx context.Context, userID string) error

// CacheInvalidator drops any cached copy of a user after a commit.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

var ErrUserNotFound = fmt.Errorf("%w: user", apperrors.ErrNotFound)

const defaultMaxRetries = 3

// Service is the only writer of subscription state.
type Service struct {
	store      Store
	locker     Locker
	hooks      []ActivationHook
	caches     []CacheInvalidator
	now        func() time.Time
	maxRetries int
	goAsync    func(func())
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }
func WithActivationHook(h ActivationHook) Option {
	return func(s *Service) { s.hooks = append(s.hooks, h) }
}
func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(s *Service) { s.caches = append(s.caches, c) }
}
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithSyncHooks runs activation hooks inline; used by tests.
func WithSyncHooks() Option { return func(s *Service) { s.goAsync = func(f func()) { f() } } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		locker:     NewKeyedMutex(),
		now:        time.Now,
		maxRetries: defaultMaxRetries,
		goAsync:    func(f func()) { go f() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now is the service clock.
func (s *Service) Now() time.Time { return s.now() }

// WithUserLock runs fn while holding the per-user lock. fn must not call
// Apply for the same user; use ApplyLocked instead.
func (s *Service) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()
	return fn(ctx)
}

// Apply serializes and commits ev for userID.
func (s *Service) Apply(ctx context.Context, userID string, ev Event) (Transition, error) {
	var tr Transition
	err := s.WithUserLock(ctx, userID, func(ctx context.Context) error {
		var err error
		tr, err = s.ApplyLocked(ctx, userID, ev)
		return err
	})
	return tr, err
}

// ApplyLocked commits ev for userID; the caller holds the user lock. The
// version check still guards against writers on other instances when the
// in-process locker is used.
func (s *Service) ApplyLocked(ctx context.Context, userID string, ev Event) (Transition, error) {
	var tr Transition
	for attempt := 0; ; attempt++ {
		cur, err := s.store.GetSubscription(ctx, userID)
		if err != nil {
			return tr, err
		}
		if cur == nil {
			return tr, ErrUserNotFound
		}
		tr, err = Apply(*cur, ev)
		if err != nil {
			return tr, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		if tr.Outcome == OutcomeApplied && grantsPeriod(ev.Kind) && !tr.After.IsActive(s.now()) {
			tr = reject(tr, "period already ended")
		}
		if tr.Outcome != OutcomeApplied {
			logger.Debugf("entitlement %s for user %s: %s %s", ev.Kind, userID, tr.Outcome, tr.Reason)
			return tr, nil
		}
		err = s.store.SaveSubscription(ctx, userID, tr.After, cur.Version)
		if err == nil {
			tr.After.Version = cur.Version + 1
			break
		}
		if !errors.Is(err, ErrVersionConflict) || attempt+1 >= s.maxRetries {
			return tr, err
		}
		logger.Warnf("entitlement version conflict for user %s, retrying", userID)
	}

	metrics.EntitlementTransitions.WithLabelValues(tr.Before.Status.String(), tr.After.Status.String()).Inc()
	logger.Infof("entitlement %s for user %s: %s -> %s", ev.Kind, userID, tr.Before.Status, tr.After.Status)
	s.afterCommit(ctx, userID, tr)
	return tr, nil
}

// grantsPeriod reports kinds that only make sense with a deadline still ahead.
func grantsPeriod(k EventKind) bool {
	return k == PaymentCompleted || k == SubscriptionRenewed
}

func (s *Service) afterCommit(ctx context.Context, userID string, tr Transition) {
	for _, c := range s.caches {
		if err := c.Invalidate(ctx, userID); err != nil {
			logger.Warnf("invalidate cached user %s: %v", userID, err)
		}
	}
	if !tr.Activated(s.now()) || len(s.hooks) == 0 {
		return
	}
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range s.hooks {
		h := h
		s.goAsync(func() {
			if err := h(hookCtx, userID); err != nil {
				logger.Errorf("activation hook for user %s: %v", userID, err)
			}
		})
	}
}

// Get returns the stored subscription.
func (s *Service) Get(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrUserNotFound
	}
	return sub, nil
}

// IsActiveSubscriber is the gating query used by content, scan and event
// components.
func (s *Service) IsActiveSubscriber(ctx context.Context, userID string) (bool, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.IsActive(s.now()), nil
}

// ResolveCustomer maps a provider customer id to a user id ("" when unknown).
func (s *Service) ResolveCustomer(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", nil
	}
	return s.store.FindUserIDByCustomerID(ctx, customerID)
}

// EnsureCustomerID returns the user's provider customer id, calling create
// only when none is stored. A concurrently stored id wins over ours.
func (s *Service) EnsureCustomerID(ctx context.Context, userID string, create func(ctx context.Context) (string, error)) (string, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.ProviderCustomerID != "" {
		return sub.ProviderCustomerID, nil
	}
	id, err := create(ctx)
	if err != nil {
		return "", err
	}
	stored, err := s.store.SetCustomerIDIfAbsent(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if stored != id {
		logger.Warnf("customer id for user %s already set, discarding %s", userID, id)
	}
	for _, c := range s.caches {
		_ = c.Invalidate(ctx, userID)
	}
	return stored, nil
}

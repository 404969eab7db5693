package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/metrics"
)

// Sweeper persists lapsed cancel-at-period-end records as cancelled. Reads
// already report them as cancelled, so the sweep only materializes state.
type Sweeper struct {
	svc       *Service
	store     Store
	batchSize int
}

func NewSweeper(svc *Service) *Sweeper {
	return &Sweeper{svc: svc, store: svc.store, batchSize: 100}
}

// RunOnce makes a single pass and returns how many records moved.
func (w *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := w.svc.now()
	ids, err := w.store.ListLapsedCancellations(ctx, now, w.batchSize)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, id := range ids {
		err := w.svc.WithUserLock(ctx, id, func(ctx context.Context) error {
			for attempt := 0; attempt < w.svc.maxRetries; attempt++ {
				cur, err := w.store.GetSubscription(ctx, id)
				if err != nil || cur == nil {
					return err
				}
				// re-check under the lock: a renewal may have landed
				if cur.Status != StatusActive || !cur.CancelAtPeriodEnd || cur.PeriodEndsAt == nil || now.Before(*cur.PeriodEndsAt) {
					return nil
				}
				next := *cur
				next.Status = StatusCancelled
				next.CancelAtPeriodEnd = false
				err = w.store.SaveSubscription(ctx, id, next, cur.Version)
				if errors.Is(err, ErrVersionConflict) {
					continue
				}
				if err != nil {
					return err
				}
				moved++
				metrics.EntitlementTransitions.WithLabelValues(cur.Status.String(), next.Status.String()).Inc()
				w.svc.afterCommit(ctx, id, Transition{Before: *cur, After: next, Outcome: OutcomeApplied})
				return nil
			}
			return ErrVersionConflict
		})
		if err != nil {
			logger.Warnf("sweep user %s: %v", id, err)
		}
	}
	if moved > 0 {
		logger.Infof("entitlement sweep: %d subscriptions cancelled at period end", moved)
	}
	return moved, nil
}

// Run sweeps on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			logger.Errorf("entitlement sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

package entitlement

import (
	"context"
	"errors"
	"time"
)

// ErrVersionConflict is returned by SaveSubscription when the stored version
// no longer matches the expected one.
var ErrVersionConflict = errors.New("subscription version conflict")

// Store persists the subscription sub-record of a user. Lookups return
// (nil, nil) or ("", nil) when nothing matches.
type Store interface {
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
	// SaveSubscription writes sub when the stored version equals
	// expectedVersion and stores expectedVersion+1.
	SaveSubscription(ctx context.Context, userID string, sub Subscription, expectedVersion int64) error
	FindUserIDByCustomerID(ctx context.Context, customerID string) (string, error)
	// SetCustomerIDIfAbsent returns the customer id stored after the call.
	SetCustomerIDIfAbsent(ctx context.Context, userID, customerID string) (string, error)
	// ListLapsedCancellations returns users stored as active with
	// cancelAtPeriodEnd set and periodEndsAt before now.
	ListLapsedCancellations(ctx context.Context, now time.Time, limit int) ([]string, error)
}

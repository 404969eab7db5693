// Package scans owns the one scan-collection write the entitlement core
// triggers: revealing a user's results once they subscribe.
package scans

import (
	"context"
	"fmt"

	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the subset of *mongo.Collection used here.
type Collection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type Unblurrer struct {
	col Collection
}

func NewUnblurrer(col Collection) *Unblurrer {
	return &Unblurrer{col: col}
}

// UnblurAll clears isBlurred on every scan of userID. Running it twice is
// harmless.
func (u *Unblurrer) UnblurAll(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("scans: empty user id")
	}
	res, err := u.col.UpdateMany(ctx,
		bson.M{"userId": userID, "isBlurred": true},
		bson.M{"$set": bson.M{"isBlurred": false}},
	)
	if err != nil {
		return 0, fmt.Errorf("unblur scans for %s: %w", userID, err)
	}
	logger.Infof("unblurred %d scans for user %s", res.ModifiedCount, userID)
	return res.ModifiedCount, nil
}

// OnActivated has the shape of an entitlement activation hook.
func (u *Unblurrer) OnActivated(ctx context.Context, userID string) error {
	_, err := u.UnblurAll(ctx, userID)
	return err
}

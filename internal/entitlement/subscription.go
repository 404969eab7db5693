package entitlement

import (
	"fmt"
	"strings"
	"time"
)

// Status is the discrete subscription state.
type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ParseStatus accepts the stored vocabulary. An empty string is none.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusNone, "":
		return StatusNone, nil
	case StatusActive:
		return StatusActive, nil
	case StatusCancelled:
		return StatusCancelled, nil
	case StatusExpired:
		return StatusExpired, nil
	}
	return "", fmt.Errorf("unknown subscription status %q", s)
}

func (s Status) String() string {
	if s == "" {
		return string(StatusNone)
	}
	return string(s)
}

// Subscription is the entitlement sub-record embedded on a user.
type Subscription struct {
	Status                 Status     `bson:"status" json:"status"`
	ProviderCustomerID     string     `bson:"providerCustomerId,omitempty" json:"providerCustomerId,omitempty"`
	ProviderSubscriptionID string     `bson:"providerSubscriptionId,omitempty" json:"providerSubscriptionId,omitempty"`
	PeriodEndsAt           *time.Time `bson:"periodEndsAt,omitempty" json:"periodEndsAt,omitempty"`
	CancelAtPeriodEnd      bool       `bson:"cancelAtPeriodEnd" json:"cancelAtPeriodEnd"`
	// Version is bumped by the store on every committed write.
	Version int64 `bson:"version" json:"-"`
}

// EffectiveStatus evaluates lapsed periods at read time. An active record
// past its deadline reads as cancelled when cancellation was scheduled and as
// expired otherwise.
func (s Subscription) EffectiveStatus(now time.Time) Status {
	if s.Status == "" {
		return StatusNone
	}
	if s.Status != StatusActive || s.PeriodEndsAt == nil || now.Before(*s.PeriodEndsAt) {
		return s.Status
	}
	if s.CancelAtPeriodEnd {
		return StatusCancelled
	}
	return StatusExpired
}

// IsActive reports paid access at now.
func (s Subscription) IsActive(now time.Time) bool {
	return s.EffectiveStatus(now) == StatusActive
}

// Equal compares everything except Version.
func (s Subscription) Equal(o Subscription) bool {
	if s.Status.String() != o.Status.String() ||
		s.ProviderCustomerID != o.ProviderCustomerID ||
		s.ProviderSubscriptionID != o.ProviderSubscriptionID ||
		s.CancelAtPeriodEnd != o.CancelAtPeriodEnd {
		return false
	}
	switch {
	case s.PeriodEndsAt == nil && o.PeriodEndsAt == nil:
		return true
	case s.PeriodEndsAt == nil || o.PeriodEndsAt == nil:
		return false
	}
	return s.PeriodEndsAt.Equal(*o.PeriodEndsAt)
}

package webhooks

import (
	"context"
	"sync"
	"time"
)

// Record is the dedup ledger entry for one provider event id.
type Record struct {
	EventID     string     `bson:"_id" json:"eventId"`
	Type        string     `bson:"type" json:"type"`
	ReceivedAt  time.Time  `bson:"receivedAt" json:"receivedAt"`
	ProcessedAt *time.Time `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
	UserID      string     `bson:"userId,omitempty" json:"userId,omitempty"`
	Outcome     string     `bson:"outcome,omitempty" json:"outcome,omitempty"`
}

// Processed reports whether the event was already applied or acknowledged.
func (r *Record) Processed() bool { return r != nil && r.ProcessedAt != nil }

// Ledger records provider events so each id is applied at most once.
type Ledger interface {
	// Begin inserts a record on first receipt and returns the stored one.
	Begin(ctx context.Context, eventID, eventType string, receivedAt time.Time) (*Record, error)
	// Get returns (nil, nil) when the id was never seen.
	Get(ctx context.Context, eventID string) (*Record, error)
	MarkProcessed(ctx context.Context, eventID, userID, outcome string, at time.Time) error
}

// MemoryLedger is an in-process Ledger for tests and single-node development.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record)}
}

func (l *MemoryLedger) Begin(_ context.Context, eventID, eventType string, receivedAt time.Time) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[eventID]
	if !ok {
		r = Record{EventID: eventID, Type: eventType, ReceivedAt: receivedAt}
		l.records[eventID] = r
	}
	return &r, nil
}

func (l *MemoryLedger) Get(_ context.Context, eventID string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[eventID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, eventID, userID, outcome string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[eventID]
	if !ok {
		r = Record{EventID: eventID, ReceivedAt: at}
	}
	if r.ProcessedAt != nil {
		return nil
	}
	r.ProcessedAt = &at
	r.UserID = userID
	r.Outcome = outcome
	l.records[eventID] = r
	return nil
}

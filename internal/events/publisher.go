package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Activated is published after a user's entitlement moves into active.
type Activated struct {
	UserID     string    `json:"userId" validate:"required"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Channel is the publishing half of *amqp.Channel.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	ch       Channel
	exchange string
	now      func() time.Time
}

func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, now: time.Now}
}

// EntitlementActivated matches entitlement.ActivationHook.
func (p *Publisher) EntitlementActivated(ctx context.Context, userID string) error {
	const op = "events.EntitlementActivated"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	body, err := json.Marshal(Activated{UserID: userID, OccurredAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = p.ch.Publish(p.exchange, RoutingKeyActivated, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    userID + ":" + p.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

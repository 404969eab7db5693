package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/streadway/amqp"
)

// Handler processes one activation. Returning an error requeues the message
// once; a second failure drops it.
type Handler func(ctx context.Context, msg Activated) error

var validate = validator.New()

// Consume dispatches deliveries to h with at most concurrency handlers in
// flight. It returns when ctx is done or deliveries closes, after in-flight
// handlers finish.
func Consume(ctx context.Context, deliveries <-chan amqp.Delivery, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return ctx.Err()
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				handle(ctx, d, h)
			}(d)
		}
	}
}

func handle(ctx context.Context, d amqp.Delivery, h Handler) {
	var msg Activated
	if err := json.Unmarshal(d.Body, &msg); err != nil || validate.Struct(msg) != nil {
		logger.Errorf("dropping malformed activation message %q", d.MessageId)
		if err := d.Reject(false); err != nil {
			logger.Warnf("reject message: %v", err)
		}
		return
	}
	if err := h(ctx, msg); err != nil {
		requeue := !d.Redelivered
		logger.Errorf("activation handler for user %s (requeue=%t): %v", msg.UserID, requeue, err)
		if err := d.Nack(false, requeue); err != nil {
			logger.Warnf("nack message: %v", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		logger.Warnf("ack message: %v", err)
	}
}

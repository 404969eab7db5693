// Package events carries entitlement side effects over AMQP so the webhook
// response never waits on them.
package events

import (
	"fmt"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/streadway/amqp"
)

// RoutingKeyActivated routes EntitlementActivated messages.
const RoutingKeyActivated = "entitlement.activated"

// Connect dials url, retrying a fixed number of times.
func Connect(url string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "events.Connect"
	if retries < 1 {
		retries = 1
	}
	var err error
	for i := 0; i < retries; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warnf("amqp dial attempt %d/%d: %v", i+1, retries, err)
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("%s: %w", op, err)
}

// Setup declares a durable direct exchange and a durable queue bound to the
// activation routing key. queue may be empty for publish-only channels.
func Setup(conn *amqp.Connection, exchange, queue string, prefetch int) (*amqp.Channel, error) {
	const op = "events.Setup"
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("%s: qos: %w", op, err)
		}
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if queue == "" {
		return ch, nil
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%s: declare queue %s: %w", op, queue, err)
	}
	if err := ch.QueueBind(queue, RoutingKeyActivated, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("%s: bind queue %s: %w", op, queue, err)
	}
	return ch, nil
}

// Package events publishes call lifecycle transitions to a RabbitMQ topic
// exchange for downstream consumers (CRM sync, analytics).
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/pkg/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys, one per calls.EventKind.
const (
	RoutingKeyAnswered  = "call.answered"
	RoutingKeyCompleted = "call.completed"
)

var ErrClosed = errors.New("events: publisher closed")

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Envelope is the message body.
type Envelope struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	OccurredAt time.Time  `json:"occurred_at"`
	Call       calls.Call `json:"call"`
}

// Publisher implements calls.EventSink. Publishing is best-effort: a broker
// failure is logged by the call manager and never blocks call handling.
type Publisher struct {
	exchange string
	timeout  time.Duration
	clock    func() time.Time

	mu      sync.Mutex
	conn    *amqp.Connection
	channel Channel
	closed  bool
}

// Dial connects to url and declares a durable topic exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	p := NewPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

// NewPublisher wraps an already open channel.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{exchange: exchange, channel: ch, timeout: 5 * time.Second, clock: time.Now}
}

func routingKey(kind calls.EventKind) (string, bool) {
	switch kind {
	case calls.EventAnswered:
		return RoutingKeyAnswered, true
	case calls.EventCompleted:
		return RoutingKeyCompleted, true
	}
	return "", false
}

func (p *Publisher) HandleCallEvent(ctx context.Context, ev calls.Event) error {
	key, ok := routingKey(ev.Kind)
	if !ok {
		return nil
	}
	now := p.clock().UTC()
	env := Envelope{ID: uuid.NewString(), Kind: string(ev.Kind), OccurredAt: now, Call: ev.Call}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.channel.PublishWithContext(pubCtx,
		p.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    now,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	logger.From(ctx).Debug("call event published", "routing_key", key, "call_id", ev.Call.ID)
	return nil
}

// Close closes the channel and, when Dial opened it, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/glimte/docflow/contracts"
	"github.com/glimte/docflow/internal/rabbitmq"
	"github.com/glimte/docflow/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpPublisher is the confirming publish primitive, *rabbitmq.Publisher in production
type amqpPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// EventPublisher implements workflow.EventPublisher
type EventPublisher struct {
	publisher amqpPublisher
	exchange  string
	retry     reliability.RetryPolicy
	breaker   *reliability.CircuitBreaker
	logger    *slog.Logger
}

// PublisherOption configures the event publisher
type PublisherOption func(*EventPublisher)

// WithExchange sets the exchange events are published to
func WithExchange(exchange string) PublisherOption {
	return func(p *EventPublisher) {
		p.exchange = exchange
	}
}

// WithRetryPolicy replaces the default exponential policy
func WithRetryPolicy(policy reliability.RetryPolicy) PublisherOption {
	return func(p *EventPublisher) {
		p.retry = policy
	}
}

// WithCircuitBreaker replaces the default breaker
func WithCircuitBreaker(cb *reliability.CircuitBreaker) PublisherOption {
	return func(p *EventPublisher) {
		p.breaker = cb
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *EventPublisher) {
		p.logger = logger
	}
}

// NewEventPublisher wraps a confirming AMQP publisher
func NewEventPublisher(publisher amqpPublisher, options ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		publisher: publisher,
		exchange:  rabbitmq.DefaultEventsExchange,
		retry:     reliability.NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 2.0, 3),
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = reliability.NewCircuitBreaker(
			reliability.WithName("event-publisher"),
			reliability.WithStateChange(func(name string, from, to reliability.State) {
				p.logger.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			}),
		)
	}
	return p
}

// PublishEvent serializes the event and publishes it, retrying transient
// broker failures while the circuit breaker is closed.
func (p *EventPublisher) PublishEvent(ctx context.Context, event contracts.Event) error {
	msg, err := newPublishing(event)
	if err != nil {
		return err
	}
	key := RoutingKey(event.GetType())

	err = reliability.Retry(ctx, p.retry, func() error {
		return p.breaker.Execute(ctx, func() error {
			err := p.publisher.Publish(ctx, p.exchange, key, msg)
			if err != nil && !rabbitmq.IsRetryable(err) {
				return reliability.Permanent(err)
			}
			return err
		})
	})
	if err != nil {
		p.logger.Warn("event publish failed",
			"eventId", event.GetID(),
			"eventType", event.GetType(),
			"envelopeId", event.GetAggregateID(),
			"error", err)
		return fmt.Errorf("publish %s for envelope %s: %w", event.GetType(), event.GetAggregateID(), err)
	}

	p.logger.Debug("event published",
		"eventId", event.GetID(),
		"eventType", event.GetType(),
		"envelopeId", event.GetAggregateID(),
		"routingKey", key)
	return nil
}

// BreakerState exposes the breaker state for health reporting
func (p *EventPublisher) BreakerState() reliability.State {
	return p.breaker.GetState()
}

func newPublishing(event contracts.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.GetID(),
		CorrelationId: event.GetCorrelationID(),
		Timestamp:     event.GetTimestamp(),
		Type:          event.GetType(),
		AppId:         event.GetSource(),
		Headers: amqp.Table{
			"x-envelope-id": event.GetAggregateID(),
			"x-sequence":    event.GetSequence(),
			"x-event-type":  event.GetType(),
		},
		Body: body,
	}, nil
}

// RoutingKey maps an event type to its topic key: "StageCompleted"
// becomes "docflow.stage.completed".
func RoutingKey(eventType string) string {
	var b strings.Builder
	b.WriteString(rabbitmq.EventRoutingPrefix)
	for i, r := range eventType {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('.')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

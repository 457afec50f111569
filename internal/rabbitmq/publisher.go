package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes single messages and waits for the broker confirm.
// It does not retry; callers wrap it with their own retry policy.
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
	publishTimeout time.Duration
	mandatory      bool
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets how long to wait for a broker confirm
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishTimeout bounds a publish when ctx has no deadline
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithMandatory makes unroutable messages fail with ErrPublishReturned
func WithMandatory(mandatory bool) PublisherOption {
	return func(p *Publisher) {
		p.mandatory = mandatory
	}
}

// WithPublisherLogger sets the publisher logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
		publishTimeout: 10 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Publish sends msg and blocks until it is acked, nacked, returned or timed out
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	wrap := func(err error) error {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			MessageID:  msg.MessageId,
			Err:        err,
		}
	}

	ch, err := p.pool.Get(ctx)
	if err != nil {
		return wrap(err)
	}
	defer p.pool.Put(ch)

	if ch.returns == nil {
		if err := ch.Confirm(false); err != nil {
			return wrap(fmt.Errorf("failed to enable confirms: %w", err))
		}
		ch.returns = ch.NotifyReturn(make(chan amqp.Return, 16))
	}
	ch.drainReturns()

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, p.mandatory, false, msg)
	if err != nil {
		return wrap(err)
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case <-confirmation.Done():
	case <-timer.C:
		return wrap(ErrConfirmTimeout)
	case <-ctx.Done():
		return wrap(ctx.Err())
	}

	// the broker sends basic.return before the confirm of the same message
	select {
	case ret, ok := <-ch.returns:
		if ok {
			p.logger.Warn("message returned by broker",
				"message_id", msg.MessageId,
				"routing_key", routingKey,
				"reply_text", ret.ReplyText)
			return wrap(fmt.Errorf("%w: %s", ErrPublishReturned, ret.ReplyText))
		}
	default:
	}

	if !confirmation.Acked() {
		return wrap(ErrPublishNack)
	}
	p.logger.Debug("message confirmed",
		"message_id", msg.MessageId,
		"exchange", exchange,
		"routing_key", routingKey)
	return nil
}

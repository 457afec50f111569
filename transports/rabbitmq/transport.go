package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/docflow/internal/rabbitmq"
)

// Transport owns the broker connection behind an EventPublisher
type Transport struct {
	manager *rabbitmq.ConnectionManager
	pool    *rabbitmq.ChannelPool
	events  *EventPublisher
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	Exchange          string
	AuditQueue        string
	Logger            *slog.Logger
	ConnectionOptions []rabbitmq.ConnectionOption
	PoolOptions       []rabbitmq.ChannelPoolOption
	PublisherOptions  []PublisherOption
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithEventsExchange sets the topic exchange
func WithEventsExchange(exchange string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Exchange = exchange
	}
}

// WithAuditQueue declares a durable queue bound to every workflow event
func WithAuditQueue(queue string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.AuditQueue = queue
	}
}

// WithTransportLogger sets the logger for every layer
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPublisherOptions sets event publisher options
func WithPublisherOptions(opts ...PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// NewTransport connects, declares the event topology and builds the publisher
func NewTransport(ctx context.Context, url string, options ...TransportOption) (*Transport, error) {
	cfg := &TransportConfig{
		Exchange: rabbitmq.DefaultEventsExchange,
		Logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(url, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	poolOpts := append([]rabbitmq.ChannelPoolOption{rabbitmq.WithChannelLogger(cfg.Logger)}, cfg.PoolOptions...)
	pool, err := rabbitmq.NewChannelPool(manager, poolOpts...)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	topology := rabbitmq.EventTopology(cfg.Exchange, cfg.AuditQueue)
	if err := rabbitmq.NewTopologyManager(pool).Declare(ctx, topology); err != nil {
		pool.Close()
		manager.Close()
		return nil, fmt.Errorf("failed to declare event topology: %w", err)
	}

	publisher := rabbitmq.NewPublisher(pool,
		rabbitmq.WithMandatory(cfg.AuditQueue != ""),
		rabbitmq.WithPublisherLogger(cfg.Logger))

	pubOpts := append([]PublisherOption{WithExchange(cfg.Exchange), WithLogger(cfg.Logger)}, cfg.PublisherOptions...)
	return &Transport{
		manager: manager,
		pool:    pool,
		events:  NewEventPublisher(publisher, pubOpts...),
	}, nil
}

// Events returns the workflow event publisher
func (t *Transport) Events() *EventPublisher {
	return t.events
}

// Manager returns the connection manager, used by health checks
func (t *Transport) Manager() *rabbitmq.ConnectionManager {
	return t.manager
}

// Close releases channels and the connection
func (t *Transport) Close() error {
	t.pool.Close()
	return t.manager.Close()
}

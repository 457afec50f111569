package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultEventsExchange = "docflow.events"
	DefaultDeadLetters    = "docflow.dlx"
	EventRoutingPrefix    = "docflow."
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology is a set of declarations applied in order:
// exchanges, then queues, then bindings
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// EventTopology describes the workflow events exchange. When auditQueue is
// set, a durable queue receiving every workflow event is bound to it, with
// rejected deliveries dead-lettered to "<auditQueue>.dlq".
func EventTopology(exchange, auditQueue string) Topology {
	if exchange == "" {
		exchange = DefaultEventsExchange
	}

	t := Topology{
		Exchanges: []ExchangeDeclaration{
			{Name: exchange, Type: amqp.ExchangeTopic, Durable: true},
		},
	}
	if auditQueue == "" {
		return t
	}

	dlq := auditQueue + ".dlq"
	t.Exchanges = append(t.Exchanges, ExchangeDeclaration{Name: DefaultDeadLetters, Type: amqp.ExchangeDirect, Durable: true})
	t.Queues = []QueueDeclaration{
		{Name: dlq, Durable: true},
		{
			Name:    auditQueue,
			Durable: true,
			Arguments: amqp.Table{
				"x-dead-letter-exchange":    DefaultDeadLetters,
				"x-dead-letter-routing-key": dlq,
			},
		},
	}
	t.Bindings = []Binding{
		{Queue: dlq, Exchange: DefaultDeadLetters, RoutingKey: dlq},
		{Queue: auditQueue, Exchange: exchange, RoutingKey: EventRoutingPrefix + "#"},
	}
	return t
}

// TopologyManager declares topology over a channel pool
type TopologyManager struct {
	pool *ChannelPool
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// Declare applies the topology. Declarations are idempotent on the broker.
func (tm *TopologyManager) Declare(ctx context.Context, topology Topology) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return declare(ch, topology)
	})
}

// QueueInfo inspects a declared queue
func (tm *TopologyManager) QueueInfo(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = ch.QueueDeclarePassive(name, true, false, false, false, nil)
		return err
	})
	return q, err
}

func declare(ch *amqp.Channel, topology Topology) error {
	for _, ex := range topology.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, ex.Type, ex.Durable, ex.AutoDelete, false, false, ex.Arguments); err != nil {
			return &TopologyError{Component: "exchange", Name: ex.Name, Err: err}
		}
	}
	for _, q := range topology.Queues {
		if _, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Arguments); err != nil {
			return &TopologyError{Component: "queue", Name: q.Name, Err: err}
		}
	}
	for _, b := range topology.Bindings {
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, b.Arguments); err != nil {
			return &TopologyError{
				Component: "binding",
				Name:      fmt.Sprintf("%s->%s", b.Exchange, b.Queue),
				Err:       err,
			}
		}
	}
	return nil
}

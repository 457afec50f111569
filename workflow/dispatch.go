package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/glimte/docflow/contracts"
	"github.com/glimte/docflow/internal/observability"
)

// DefaultEventBuffer is the number of committed events that may wait for the
// publisher before new ones are dropped
const DefaultEventBuffer = 256

// eventDispatcher hands committed events to the publisher from a single
// goroutine, in commit order. Transitions only enqueue and never wait for
// the broker.
type eventDispatcher struct {
	publisher EventPublisher
	logger    *slog.Logger
	queue     chan queuedEvent
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

type queuedEvent struct {
	ctx   context.Context
	event contracts.Event
}

func newEventDispatcher(publisher EventPublisher, buffer int, logger *slog.Logger) *eventDispatcher {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	d := &eventDispatcher{
		publisher: publisher,
		logger:    logger,
		queue:     make(chan queuedEvent, buffer),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue never blocks. Events that do not fit, or arrive after close, are
// dropped and counted.
func (d *eventDispatcher) enqueue(ctx context.Context, events ...contracts.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// the request context ends with the caller; keep its values only
	ctx = context.WithoutCancel(ctx)
	for _, event := range events {
		if d.closed {
			d.drop(event, "dispatcher closed")
			continue
		}
		select {
		case d.queue <- queuedEvent{ctx: ctx, event: event}:
		default:
			d.drop(event, "event buffer full")
		}
	}
}

func (d *eventDispatcher) drop(event contracts.Event, reason string) {
	observability.RecordEventDropped(event.GetType())
	d.logger.Debug("Workflow event dropped",
		"eventType", event.GetType(),
		"envelopeId", event.GetAggregateID(),
		"reason", reason)
}

func (d *eventDispatcher) run() {
	defer close(d.done)
	for item := range d.queue {
		err := d.publisher.PublishEvent(item.ctx, item.event)
		observability.RecordEventPublished(item.event.GetType(), err)
		if err != nil {
			d.logger.Debug("Workflow event not published",
				"eventType", item.event.GetType(),
				"envelopeId", item.event.GetAggregateID(),
				"error", err)
		}
	}
}

// close stops accepting events and waits for the queued ones to be handed
// over, or for ctx to end
func (d *eventDispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

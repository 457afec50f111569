package contracts

import (
	"time"

	"github.com/google/uuid"
)

// BaseMessage provides common fields for all message types
type BaseMessage struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// NewBaseMessage creates a new base message with generated ID and current timestamp
func NewBaseMessage(messageType string) BaseMessage {
	return NewBaseMessageAt(messageType, time.Now())
}

// NewBaseMessageAt creates a base message stamped with the given time
func NewBaseMessageAt(messageType string, at time.Time) BaseMessage {
	return BaseMessage{
		ID:        uuid.New().String(),
		Timestamp: at.UTC(),
		Type:      messageType,
	}
}

// GetID returns the message ID
func (m BaseMessage) GetID() string {
	return m.ID
}

// GetTimestamp returns the message timestamp
func (m BaseMessage) GetTimestamp() time.Time {
	return m.Timestamp
}

// GetType returns the message type
func (m BaseMessage) GetType() string {
	return m.Type
}

// GetCorrelationID returns the correlation ID
func (m BaseMessage) GetCorrelationID() string {
	return m.CorrelationID
}

// SetCorrelationID sets the correlation ID
func (m *BaseMessage) SetCorrelationID(correlationID string) {
	m.CorrelationID = correlationID
}

// BaseEvent provides common fields for event messages.
// AggregateID is the envelope id; Sequence is the stage number the event
// concerns, or zero for workflow-level events.
type BaseEvent struct {
	BaseMessage
	AggregateID string `json:"aggregateId"`
	Sequence    int64  `json:"sequence"`
	Source      string `json:"source,omitempty"`
}

// NewBaseEvent creates an event header for the given aggregate
func NewBaseEvent(eventType, aggregateID string, sequence int64, source string, at time.Time) BaseEvent {
	return BaseEvent{
		BaseMessage: NewBaseMessageAt(eventType, at),
		AggregateID: aggregateID,
		Sequence:    sequence,
		Source:      source,
	}
}

// GetAggregateID returns the aggregate ID
func (e BaseEvent) GetAggregateID() string {
	return e.AggregateID
}

// GetSequence returns the event sequence number
func (e BaseEvent) GetSequence() int64 {
	return e.Sequence
}

// GetSource returns the component that emitted the event
func (e BaseEvent) GetSource() string {
	return e.Source
}

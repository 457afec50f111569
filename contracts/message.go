package contracts

import (
	"time"
)

// Message is the base interface for all messages
type Message interface {
	GetID() string
	GetTimestamp() time.Time
	GetType() string
	GetCorrelationID() string
	SetCorrelationID(correlationID string)
}

// Event represents something that has happened to an envelope
type Event interface {
	Message
	GetAggregateID() string
	GetSequence() int64
	GetSource() string
}

// Package contracts defines the message shapes that leave the workflow engine.
//
// Every outbound notification is an Event: it carries a generated id, a UTC
// timestamp, a type name used for routing, the envelope it concerns (the
// aggregate) and a sequence number. Concrete workflow events embed BaseEvent
// and add their own payload fields.
package contracts

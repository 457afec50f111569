package workflow

import (
	"context"
	"time"

	"github.com/glimte/docflow/contracts"
)

// EventSource is the Source stamped on every transition event
const EventSource = "workflow"

// Event type names, also used as routing key suffixes by transports
const (
	EventWorkflowStarted   = "WorkflowStarted"
	EventStageActivated    = "StageActivated"
	EventStageCompleted    = "StageCompleted"
	EventStageRejected     = "StageRejected"
	EventWorkflowCompleted = "WorkflowCompleted"
)

// EventPublisher receives transition events after they are committed.
// Publishing is best effort; a failure never rolls back a transition.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event contracts.Event) error
}

// WorkflowStartedEvent is published when a draft workflow is started
type WorkflowStartedEvent struct {
	contracts.BaseEvent

	EnvelopeID     string `json:"envelopeId"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	TotalStages    int    `json:"totalStages"`
}

// StageActivatedEvent is published when a stage becomes the current one.
// Notification collaborators use it to alert the approving party.
type StageActivatedEvent struct {
	contracts.BaseEvent

	EnvelopeID         string      `json:"envelopeId"`
	StageNumber        int         `json:"stageNumber"`
	ApprovalID         string      `json:"approvalId"`
	ApprovingPartyID   string      `json:"approvingPartyId"`
	ApprovingPartyName string      `json:"approvingPartyName"`
	Status             StageStatus `json:"status"`
	PaymentRequired    bool        `json:"paymentRequired"`
	PaymentAmountCents uint64      `json:"paymentAmountCents,omitempty"`
}

// StageCompletedEvent is published when a stage is approved
type StageCompletedEvent struct {
	contracts.BaseEvent

	EnvelopeID       string    `json:"envelopeId"`
	StageNumber      int       `json:"stageNumber"`
	ApprovalID       string    `json:"approvalId"`
	ApprovingPartyID string    `json:"approvingPartyId"`
	CompletedBy      string    `json:"completedBy,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	ViaPayment       bool      `json:"viaPayment"`
	PaymentReference string    `json:"paymentReference,omitempty"`
	CompletedAt      time.Time `json:"completedAt"`
}

// StageRejectedEvent is published when a stage is rejected and the workflow ends
type StageRejectedEvent struct {
	contracts.BaseEvent

	EnvelopeID       string    `json:"envelopeId"`
	StageNumber      int       `json:"stageNumber"`
	ApprovalID       string    `json:"approvalId"`
	ApprovingPartyID string    `json:"approvingPartyId"`
	RejectedBy       string    `json:"rejectedBy,omitempty"`
	Reason           string    `json:"reason"`
	BlockedStages    int       `json:"blockedStages"`
	RejectedAt       time.Time `json:"rejectedAt"`
}

// WorkflowCompletedEvent is published when the last stage is approved
type WorkflowCompletedEvent struct {
	contracts.BaseEvent

	EnvelopeID     string    `json:"envelopeId"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	TotalStages    int       `json:"totalStages"`
	CompletedAt    time.Time `json:"completedAt"`
}

func newWorkflowStartedEvent(record *EnvelopeRecord, totalStages int, at time.Time) *WorkflowStartedEvent {
	return &WorkflowStartedEvent{
		BaseEvent:      contracts.NewBaseEvent(EventWorkflowStarted, record.ID, 0, EventSource, at),
		EnvelopeID:     record.ID,
		TrackingNumber: record.TrackingNumber,
		TotalStages:    totalStages,
	}
}

func newStageActivatedEvent(envelopeID string, stage Stage, at time.Time) *StageActivatedEvent {
	return &StageActivatedEvent{
		BaseEvent:          contracts.NewBaseEvent(EventStageActivated, envelopeID, int64(stage.StageNumber), EventSource, at),
		EnvelopeID:         envelopeID,
		StageNumber:        stage.StageNumber,
		ApprovalID:         stage.ApprovalID,
		ApprovingPartyID:   stage.ApprovingPartyID,
		ApprovingPartyName: stage.ApprovingPartyName,
		Status:             stage.Status,
		PaymentRequired:    stage.PaymentRequired,
		PaymentAmountCents: stage.PaymentAmountCents,
	}
}

func newStageCompletedEvent(envelopeID string, stage Stage, viaPayment bool, at time.Time) *StageCompletedEvent {
	return &StageCompletedEvent{
		BaseEvent:        contracts.NewBaseEvent(EventStageCompleted, envelopeID, int64(stage.StageNumber), EventSource, at),
		EnvelopeID:       envelopeID,
		StageNumber:      stage.StageNumber,
		ApprovalID:       stage.ApprovalID,
		ApprovingPartyID: stage.ApprovingPartyID,
		CompletedBy:      stage.CompletedBy,
		Notes:            stage.Notes,
		ViaPayment:       viaPayment,
		PaymentReference: stage.PaymentReference,
		CompletedAt:      at,
	}
}

func newStageRejectedEvent(envelopeID string, stage Stage, blocked int, at time.Time) *StageRejectedEvent {
	return &StageRejectedEvent{
		BaseEvent:        contracts.NewBaseEvent(EventStageRejected, envelopeID, int64(stage.StageNumber), EventSource, at),
		EnvelopeID:       envelopeID,
		StageNumber:      stage.StageNumber,
		ApprovalID:       stage.ApprovalID,
		ApprovingPartyID: stage.ApprovingPartyID,
		RejectedBy:       stage.RejectedBy,
		Reason:           stage.RejectionReason,
		BlockedStages:    blocked,
		RejectedAt:       at,
	}
}

func newWorkflowCompletedEvent(record *EnvelopeRecord, totalStages int, at time.Time) *WorkflowCompletedEvent {
	return &WorkflowCompletedEvent{
		BaseEvent:      contracts.NewBaseEvent(EventWorkflowCompleted, record.ID, 0, EventSource, at),
		EnvelopeID:     record.ID,
		TrackingNumber: record.TrackingNumber,
		TotalStages:    totalStages,
		CompletedAt:    at,
	}
}

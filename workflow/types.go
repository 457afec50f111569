package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// StageStatus represents the lifecycle state of a single stage
type StageStatus string

const (
	StagePending          StageStatus = "pending"
	StageInProgress       StageStatus = "in_progress"
	StagePaymentRequired  StageStatus = "payment_required"
	StagePaymentCompleted StageStatus = "payment_completed"
	StageCompleted        StageStatus = "completed"
	StageRejected         StageStatus = "rejected"
	StageBlocked          StageStatus = "blocked"
)

// Valid reports whether s is one of the declared stage statuses
func (s StageStatus) Valid() bool {
	switch s {
	case StagePending, StageInProgress, StagePaymentRequired, StagePaymentCompleted,
		StageCompleted, StageRejected, StageBlocked:
		return true
	}
	return false
}

// IsActive reports whether a stage in this status can be acted on
func (s StageStatus) IsActive() bool {
	return s == StagePending || s == StageInProgress || s == StagePaymentRequired
}

// IsTerminal reports whether the status is final for the stage
func (s StageStatus) IsTerminal() bool {
	return s == StageCompleted || s == StageRejected
}

// UnmarshalText rejects unknown status strings
func (s *StageStatus) UnmarshalText(text []byte) error {
	v := StageStatus(text)
	if !v.Valid() {
		return fmt.Errorf("unknown stage status %q", string(text))
	}
	*s = v
	return nil
}

// WorkflowStatus represents the overall workflow status
type WorkflowStatus string

const (
	WorkflowDraft      WorkflowStatus = "draft"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowRejected   WorkflowStatus = "rejected"
	WorkflowNotStarted WorkflowStatus = "not_started"
)

// Valid reports whether s is one of the declared workflow statuses
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowDraft, WorkflowInProgress, WorkflowCompleted, WorkflowRejected, WorkflowNotStarted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowRejected
}

// UnmarshalText rejects unknown status strings
func (s *WorkflowStatus) UnmarshalText(text []byte) error {
	v := WorkflowStatus(text)
	if !v.Valid() {
		return fmt.Errorf("unknown workflow status %q", string(text))
	}
	*s = v
	return nil
}

// PaymentStatus tracks the fee of a payment-gated stage.
// The zero value means the stage carries no fee.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = ""
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Valid reports whether s is a declared payment status, including none
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentNone, PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// UnmarshalText rejects unknown status strings
func (s *PaymentStatus) UnmarshalText(text []byte) error {
	v := PaymentStatus(text)
	if !v.Valid() {
		return fmt.Errorf("unknown payment status %q", string(text))
	}
	*s = v
	return nil
}

// EnvelopeStatus is the envelope-level status written for routing and display
type EnvelopeStatus string

const (
	EnvelopePendingPayment EnvelopeStatus = "pending_payment"
	EnvelopePendingReview  EnvelopeStatus = "pending_review"
	EnvelopeApproved       EnvelopeStatus = "approved"
	EnvelopeRejected       EnvelopeStatus = "rejected"
)

// RequiredApproval is one approval a shipment needs, as listed by the catalog
type RequiredApproval struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	ApprovingPartyID   string `json:"approving_party_id" yaml:"approving_party_id"`
	ApprovingPartyName string `json:"approving_party_name" yaml:"approving_party_name"`
	IsRequired         bool   `json:"is_required" yaml:"required"`
	FeeCents           uint64 `json:"fee_cents,omitempty" yaml:"fee_cents,omitempty"`
}

// Stage is one approval step in the linear sequence.
// Approving party fields are a snapshot taken when the workflow is built.
type Stage struct {
	StageNumber        int         `json:"stage_number"`
	ApprovalID         string      `json:"approval_id"`
	ApprovalName       string      `json:"approval_name,omitempty"`
	ApprovingPartyID   string      `json:"approving_party_id"`
	ApprovingPartyName string      `json:"approving_party_name"`
	Status             StageStatus `json:"status"`
	IsCurrent          bool        `json:"is_current"`
	CanStart           bool        `json:"can_start"`

	PaymentRequired    bool          `json:"payment_required"`
	PaymentAmountCents uint64        `json:"payment_amount_cents"`
	PaymentStatus      PaymentStatus `json:"payment_status,omitempty"`
	PaymentReference   string        `json:"payment_reference,omitempty"`

	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	PaymentCompletedAt *time.Time `json:"payment_completed_at,omitempty"`

	CompletedBy     string `json:"completed_by,omitempty"`
	Notes           string `json:"notes,omitempty"`
	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// WorkflowDescriptor is the aggregate view of an envelope's workflow
type WorkflowDescriptor struct {
	EnvelopeID     string         `json:"envelope_id"`
	TrackingNumber string         `json:"tracking_number"`
	TotalStages    int            `json:"total_stages"`
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	Stages         []Stage        `json:"stages"`
	CanProceed     bool           `json:"can_proceed"`
}

// CurrentStage returns the stage flagged current, if any
func (d WorkflowDescriptor) CurrentStage() (Stage, bool) {
	for _, stage := range d.Stages {
		if stage.IsCurrent {
			return stage, true
		}
	}
	return Stage{}, false
}

// PaymentConfirmation is what the payment collaborator hands over once it has
// verified a provider event for a stage fee.
type PaymentConfirmation struct {
	EnvelopeID  string `json:"envelope_id"`
	StageNumber int    `json:"stage_number"`
	Reference   string `json:"reference,omitempty"`
	AmountCents uint64 `json:"amount_cents,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// cloneStages deep copies a stage slice, including timestamp pointers
func cloneStages(stages []Stage) []Stage {
	if stages == nil {
		return nil
	}
	out := make([]Stage, len(stages))
	for i, s := range stages {
		out[i] = s
		out[i].AssignedAt = cloneTime(s.AssignedAt)
		out[i].CompletedAt = cloneTime(s.CompletedAt)
		out[i].RejectedAt = cloneTime(s.RejectedAt)
		out[i].PaymentCompletedAt = cloneTime(s.PaymentCompletedAt)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// deepCopyJSON round-trips v through JSON into out
func deepCopyJSON(v, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

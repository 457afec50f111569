package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EnvelopeRecord is the persisted envelope document as far as the engine
// is concerned. Field names follow the document store's snake_case columns.
type EnvelopeRecord struct {
	ID             string         `json:"id"`
	TrackingNumber string         `json:"tracking_number,omitempty"`
	Status         EnvelopeStatus `json:"status,omitempty"`
	LegalEntityID  string         `json:"legal_entity_id,omitempty"`
	WorkflowStatus WorkflowStatus `json:"workflow_status,omitempty"`
	CurrentStage   int            `json:"current_stage"`
	WorkflowStages []Stage        `json:"workflow_stages"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// EnvelopeUpdate is a partial update. Nil fields are left untouched;
// WorkflowStages, when non-nil, replaces the whole array.
type EnvelopeUpdate struct {
	WorkflowStages []Stage         `json:"workflow_stages,omitempty"`
	CurrentStage   *int            `json:"current_stage,omitempty"`
	LegalEntityID  *string         `json:"legal_entity_id,omitempty"`
	Status         *EnvelopeStatus `json:"status,omitempty"`
	WorkflowStatus *WorkflowStatus `json:"workflow_status,omitempty"`
	TrackingNumber *string         `json:"tracking_number,omitempty"`
}

// Apply merges the update into rec and stamps UpdatedAt
func (u EnvelopeUpdate) Apply(rec *EnvelopeRecord, now time.Time) {
	if u.WorkflowStages != nil {
		rec.WorkflowStages = cloneStages(u.WorkflowStages)
	}
	if u.CurrentStage != nil {
		rec.CurrentStage = *u.CurrentStage
	}
	if u.LegalEntityID != nil {
		rec.LegalEntityID = *u.LegalEntityID
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.WorkflowStatus != nil {
		rec.WorkflowStatus = *u.WorkflowStatus
	}
	if u.TrackingNumber != nil {
		rec.TrackingNumber = *u.TrackingNumber
	}
	rec.UpdatedAt = now
}

// EnvelopeStore is the document store the engine reads and writes.
// UpdateEnvelope must apply the update atomically to a single document and
// return ErrEnvelopeNotFound for unknown ids.
type EnvelopeStore interface {
	GetEnvelope(ctx context.Context, id string) (*EnvelopeRecord, error)
	UpdateEnvelope(ctx context.Context, id string, update EnvelopeUpdate) (*EnvelopeRecord, error)
}

// InMemoryEnvelopeStore provides an in-memory implementation of EnvelopeStore
type InMemoryEnvelopeStore struct {
	envelopes map[string]*EnvelopeRecord
	mu        sync.RWMutex
	clock     func() time.Time
}

// NewInMemoryEnvelopeStore creates a new in-memory envelope store
func NewInMemoryEnvelopeStore() *InMemoryEnvelopeStore {
	return &InMemoryEnvelopeStore{
		envelopes: make(map[string]*EnvelopeRecord),
		clock:     time.Now,
	}
}

// PutEnvelope creates or replaces an envelope document
func (s *InMemoryEnvelopeStore) PutEnvelope(ctx context.Context, record *EnvelopeRecord) error {
	if record == nil {
		return fmt.Errorf("envelope cannot be nil")
	}
	if record.ID == "" {
		return fmt.Errorf("envelope ID cannot be empty")
	}

	var recordCopy EnvelopeRecord
	if err := deepCopyJSON(record, &recordCopy); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.envelopes[record.ID] = &recordCopy
	return nil
}

// GetEnvelope loads an envelope document
func (s *InMemoryEnvelopeStore) GetEnvelope(ctx context.Context, id string) (*EnvelopeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.envelopes[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEnvelopeNotFound, id)
	}

	var recordCopy EnvelopeRecord
	if err := deepCopyJSON(record, &recordCopy); err != nil {
		return nil, err
	}
	return &recordCopy, nil
}

// UpdateEnvelope applies a partial update under the store lock
func (s *InMemoryEnvelopeStore) UpdateEnvelope(ctx context.Context, id string, update EnvelopeUpdate) (*EnvelopeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.envelopes[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEnvelopeNotFound, id)
	}

	update.Apply(record, s.clock())

	var recordCopy EnvelopeRecord
	if err := deepCopyJSON(record, &recordCopy); err != nil {
		return nil, err
	}
	return &recordCopy, nil
}


package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEnvelopeStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put validates input", func(t *testing.T) {
		store := NewInMemoryEnvelopeStore()
		assert.Error(t, store.PutEnvelope(ctx, nil))
		assert.Error(t, store.PutEnvelope(ctx, &EnvelopeRecord{}))
	})

	t.Run("missing envelope", func(t *testing.T) {
		store := NewInMemoryEnvelopeStore()

		_, err := store.GetEnvelope(ctx, "nope")
		assert.ErrorIs(t, err, ErrEnvelopeNotFound)

		_, err = store.UpdateEnvelope(ctx, "nope", EnvelopeUpdate{})
		assert.ErrorIs(t, err, ErrEnvelopeNotFound)
	})

	t.Run("returns copies", func(t *testing.T) {
		store := NewInMemoryEnvelopeStore()
		record := &EnvelopeRecord{
			ID:             "env-1",
			WorkflowStages: stagesWith(StagePending, StageBlocked),
		}
		require.NoError(t, store.PutEnvelope(ctx, record))
		record.WorkflowStages[0].Status = StageCompleted

		loaded, err := store.GetEnvelope(ctx, "env-1")
		require.NoError(t, err)
		assert.Equal(t, StagePending, loaded.WorkflowStages[0].Status)

		loaded.WorkflowStages[0].Status = StageRejected
		again, err := store.GetEnvelope(ctx, "env-1")
		require.NoError(t, err)
		assert.Equal(t, StagePending, again.WorkflowStages[0].Status)
	})

	t.Run("partial update", func(t *testing.T) {
		store := NewInMemoryEnvelopeStore()
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		store.clock = func() time.Time { return fixed }
		require.NoError(t, store.PutEnvelope(ctx, &EnvelopeRecord{
			ID:             "env-1",
			TrackingNumber: "TRK-1",
			LegalEntityID:  "party-a",
			WorkflowStages: stagesWith(StagePending),
		}))

		status := EnvelopePendingReview
		updated, err := store.UpdateEnvelope(ctx, "env-1", EnvelopeUpdate{Status: &status})
		require.NoError(t, err)

		assert.Equal(t, EnvelopePendingReview, updated.Status)
		assert.Equal(t, "TRK-1", updated.TrackingNumber)
		assert.Equal(t, "party-a", updated.LegalEntityID)
		assert.Len(t, updated.WorkflowStages, 1)
		assert.True(t, updated.UpdatedAt.Equal(fixed))
	})
}

func TestEnvelopeUpdate_Apply(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	record := &EnvelopeRecord{ID: "env-1", CurrentStage: 1, WorkflowStages: stagesWith(StagePending)}

	EnvelopeUpdate{}.Apply(record, at)
	assert.Equal(t, 1, record.CurrentStage)
	assert.Len(t, record.WorkflowStages, 1)
	assert.Equal(t, at, record.UpdatedAt)

	current := 2
	wf := WorkflowCompleted
	stages := stagesWith(StageCompleted, StageCompleted)
	EnvelopeUpdate{WorkflowStages: stages, CurrentStage: &current, WorkflowStatus: &wf}.Apply(record, at)

	assert.Equal(t, 2, record.CurrentStage)
	assert.Equal(t, WorkflowCompleted, record.WorkflowStatus)
	require.Len(t, record.WorkflowStages, 2)

	stages[0].Status = StageRejected
	assert.Equal(t, StageCompleted, record.WorkflowStages[0].Status, "stages are copied")
}

func TestStatusUnmarshalText(t *testing.T) {
	var stage StageStatus
	assert.NoError(t, stage.UnmarshalText([]byte("payment_completed")))
	assert.Equal(t, StagePaymentCompleted, stage)
	assert.Error(t, stage.UnmarshalText([]byte("approved")))

	var wf WorkflowStatus
	assert.NoError(t, wf.UnmarshalText([]byte("not_started")))
	assert.Error(t, wf.UnmarshalText([]byte("paused")))

	var payment PaymentStatus
	assert.NoError(t, payment.UnmarshalText([]byte("")))
	assert.Equal(t, PaymentNone, payment)
	assert.Error(t, payment.UnmarshalText([]byte("refunded")))
}

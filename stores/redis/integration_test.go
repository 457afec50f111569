//go:build integration

package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/glimte/docflow/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntegrationStore(t *testing.T) *EnvelopeStore {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client, err := NewClient(context.Background(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewEnvelopeStore(client,
		WithKeyPrefix("docflow-test:"+uuid.NewString()[:8]+":"),
		WithTTL(time.Minute))
}

func TestEnvelopeStoreRoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	_, err := store.GetEnvelope(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrEnvelopeNotFound)
	_, err = store.UpdateEnvelope(ctx, "missing", workflow.EnvelopeUpdate{})
	assert.ErrorIs(t, err, workflow.ErrEnvelopeNotFound)

	require.NoError(t, store.PutEnvelope(ctx, &workflow.EnvelopeRecord{
		ID:             "env-1",
		Status:         workflow.EnvelopePendingReview,
		WorkflowStatus: workflow.WorkflowNotStarted,
	}))

	tracking := "TRK-9"
	updated, err := store.UpdateEnvelope(ctx, "env-1", workflow.EnvelopeUpdate{TrackingNumber: &tracking})
	require.NoError(t, err)
	assert.Equal(t, "TRK-9", updated.TrackingNumber)

	got, err := store.GetEnvelope(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, "TRK-9", got.TrackingNumber)
	assert.Equal(t, workflow.EnvelopePendingReview, got.Status)
}

func TestEnvelopeStoreConcurrentFieldUpdates(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutEnvelope(ctx, &workflow.EnvelopeRecord{ID: "env-1"}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tracking := "TRK-1"
		_, err := store.UpdateEnvelope(ctx, "env-1", workflow.EnvelopeUpdate{TrackingNumber: &tracking})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		entity := "party-bank"
		_, err := store.UpdateEnvelope(ctx, "env-1", workflow.EnvelopeUpdate{LegalEntityID: &entity})
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err := store.GetEnvelope(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, "TRK-1", got.TrackingNumber)
	assert.Equal(t, "party-bank", got.LegalEntityID)
}

func TestEngineOverRedis(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutEnvelope(ctx, &workflow.EnvelopeRecord{ID: "env-1"}))

	engine, err := workflow.NewEngine(store)
	require.NoError(t, err)

	_, err = engine.Send(ctx, "env-1", "TRK-1", []workflow.RequiredApproval{
		{ID: "customs", Name: "Customs", ApprovingPartyID: "party-customs", ApprovingPartyName: "Customs", IsRequired: true},
	})
	require.NoError(t, err)
	_, err = engine.Start(ctx, "env-1")
	require.NoError(t, err)

	desc, err := engine.CompleteStage(ctx, "env-1", 1, "officer", "")
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowCompleted, desc.WorkflowStatus)
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/docflow/internal/reliability"
	"github.com/glimte/docflow/workflow"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableClient points at a port nothing listens on
func unreachableClient(t *testing.T) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestEnvelopeStoreOptions(t *testing.T) {
	client := unreachableClient(t)

	t.Run("defaults", func(t *testing.T) {
		store := NewEnvelopeStore(client)
		assert.Equal(t, "docflow:envelope:env-1", store.Key("env-1"))
		assert.Zero(t, store.ttl)
		assert.NotNil(t, store.retry)
	})

	t.Run("options", func(t *testing.T) {
		policy := reliability.NewLinearBackoff(time.Millisecond, 1)
		now := func() time.Time { return time.Unix(0, 0) }
		store := NewEnvelopeStore(client,
			WithKeyPrefix("test:"),
			WithTTL(time.Hour),
			WithConflictRetry(policy),
			WithClock(now))

		assert.Equal(t, "test:env-1", store.Key("env-1"))
		assert.Equal(t, time.Hour, store.ttl)
		assert.Same(t, policy, store.retry)
		assert.Equal(t, time.Unix(0, 0), store.clock())
	})
}

func TestEnvelopeStoreConnectionErrors(t *testing.T) {
	store := NewEnvelopeStore(unreachableClient(t))
	ctx := context.Background()

	_, err := store.GetEnvelope(ctx, "env-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrEnvelopeNotFound)
	assert.Contains(t, err.Error(), "failed to read envelope env-1")

	_, err = store.UpdateEnvelope(ctx, "env-1", workflow.EnvelopeUpdate{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrEnvelopeNotFound)
	assert.Contains(t, err.Error(), "failed to update envelope env-1")

	assert.Error(t, store.Ping(ctx))
}

func TestPutEnvelopeValidation(t *testing.T) {
	store := NewEnvelopeStore(unreachableClient(t))

	assert.Error(t, store.PutEnvelope(context.Background(), nil))
	assert.Error(t, store.PutEnvelope(context.Background(), &workflow.EnvelopeRecord{}))
}

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{})
	assert.Error(t, err)
}

func TestEnvelopeStoreSatisfiesWorkflow(t *testing.T) {
	var _ workflow.EnvelopeStore = (*EnvelopeStore)(nil)
}

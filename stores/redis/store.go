// Package redis stores envelope documents in Redis, one JSON value per key.
//
// Updates are read-modify-write transactions guarded by WATCH, so a partial
// update never loses fields written concurrently by another process. The
// workflow stage array itself is still last-writer-wins: two transitions
// that both read the same array each write back their own version.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/docflow/internal/reliability"
	"github.com/glimte/docflow/workflow"
	goredis "github.com/go-redis/redis/v8"
)

const DefaultKeyPrefix = "docflow:envelope:"

// EnvelopeStore implements workflow.EnvelopeStore on Redis
type EnvelopeStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  reliability.RetryPolicy
	clock  func() time.Time
	logger *slog.Logger
}

// StoreOption configures the store
type StoreOption func(*EnvelopeStore)

// WithKeyPrefix sets the key namespace
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *EnvelopeStore) {
		s.prefix = prefix
	}
}

// WithTTL expires documents after ttl; zero keeps them forever
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *EnvelopeStore) {
		s.ttl = ttl
	}
}

// WithConflictRetry sets how often a transaction is retried after
// another client touched the key between WATCH and EXEC
func WithConflictRetry(policy reliability.RetryPolicy) StoreOption {
	return func(s *EnvelopeStore) {
		s.retry = policy
	}
}

// WithClock sets the clock stamping UpdatedAt
func WithClock(clock func() time.Time) StoreOption {
	return func(s *EnvelopeStore) {
		s.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *EnvelopeStore) {
		s.logger = logger
	}
}

// NewEnvelopeStore creates a store over an existing client
func NewEnvelopeStore(client goredis.UniversalClient, options ...StoreOption) *EnvelopeStore {
	s := &EnvelopeStore{
		client: client,
		prefix: DefaultKeyPrefix,
		retry:  reliability.NewLinearBackoff(5*time.Millisecond, 5),
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Key returns the Redis key holding the envelope
func (s *EnvelopeStore) Key(id string) string {
	return s.prefix + id
}

// PutEnvelope creates or replaces an envelope document
func (s *EnvelopeStore) PutEnvelope(ctx context.Context, record *workflow.EnvelopeRecord) error {
	if record == nil {
		return fmt.Errorf("envelope cannot be nil")
	}
	if record.ID == "" {
		return fmt.Errorf("envelope ID cannot be empty")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope %s: %w", record.ID, err)
	}
	if err := s.client.Set(ctx, s.Key(record.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store envelope %s: %w", record.ID, err)
	}
	return nil
}

// GetEnvelope loads an envelope document
func (s *EnvelopeStore) GetEnvelope(ctx context.Context, id string) (*workflow.EnvelopeRecord, error) {
	return s.get(ctx, s.client, id)
}

// UpdateEnvelope applies a partial update inside a WATCH transaction
func (s *EnvelopeStore) UpdateEnvelope(ctx context.Context, id string, update workflow.EnvelopeUpdate) (*workflow.EnvelopeRecord, error) {
	key := s.Key(id)
	var updated *workflow.EnvelopeRecord

	txn := func(tx *goredis.Tx) error {
		record, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}

		update.Apply(record, s.clock())
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		if err == nil {
			updated = record
		}
		return err
	}

	attempt := 0
	err := reliability.Retry(ctx, s.retry, func() error {
		attempt++
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.Debug("envelope update conflicted, retrying", "envelopeId", id, "attempt", attempt)
			return err
		}
		return reliability.Permanent(err)
	})
	if err != nil {
		if errors.Is(err, workflow.ErrEnvelopeNotFound) {
			return nil, unwrapPermanent(err)
		}
		return nil, fmt.Errorf("failed to update envelope %s: %w", id, unwrapPermanent(err))
	}
	return updated, nil
}

// Ping checks connectivity
func (s *EnvelopeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *EnvelopeStore) get(ctx context.Context, c goredis.Cmdable, id string) (*workflow.EnvelopeRecord, error) {
	data, err := c.Get(ctx, s.Key(id)).Bytes()
	if err == goredis.Nil {
		return nil, fmt.Errorf("%w: %s", workflow.ErrEnvelopeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope %s: %w", id, err)
	}

	var record workflow.EnvelopeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode envelope %s: %w", id, err)
	}
	return &record, nil
}

// unwrapPermanent strips the retry marker so callers see the store error
func unwrapPermanent(err error) error {
	var r reliability.RetryableError
	if errors.As(err, &r) {
		return r.Err
	}
	return err
}

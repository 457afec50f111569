package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool hands out AMQP channels opened on the managed connection.
// Channels found closed on Get or Put are dropped and replaced lazily.
type ChannelPool struct {
	manager     *ConnectionManager
	channels    chan *PooledChannel
	maxSize     int
	minSize     int
	waitTimeout time.Duration
	logger      *slog.Logger

	mu          sync.Mutex
	closed      bool
	activeCount int
}

// PooledChannel is a channel owned by a pool
type PooledChannel struct {
	*amqp.Channel
	id       string
	lastUsed time.Time
	returns  chan amqp.Return // set once confirm mode is on
}

// ID identifies the channel in logs and errors
func (pc *PooledChannel) ID() string {
	return pc.id
}

func (pc *PooledChannel) drainReturns() {
	for {
		select {
		case _, ok := <-pc.returns:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// ChannelPoolOption configures the channel pool
type ChannelPoolOption func(*ChannelPool)

// WithMaxSize sets the maximum pool size
func WithMaxSize(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = size
	}
}

// WithMinSize sets how many channels are opened up front
func WithMinSize(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.minSize = size
	}
}

// WithWaitTimeout bounds how long Get waits on an exhausted pool
func WithWaitTimeout(timeout time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.waitTimeout = timeout
	}
}

// WithChannelLogger sets the pool logger
func WithChannelLogger(logger *slog.Logger) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.logger = logger
	}
}

// NewChannelPool creates a pool and opens minSize channels
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, ErrInvalidConfiguration
	}

	pool := &ChannelPool{
		manager:     manager,
		maxSize:     10,
		minSize:     1,
		waitTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(pool)
	}

	if err := pool.validate(); err != nil {
		return nil, err
	}

	pool.channels = make(chan *PooledChannel, pool.maxSize)

	for i := 0; i < pool.minSize; i++ {
		ch, err := pool.open()
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.channels <- ch
	}

	return pool, nil
}

func (cp *ChannelPool) validate() error {
	if cp.maxSize < 1 {
		return fmt.Errorf("%w: max size must be at least 1", ErrInvalidConfiguration)
	}
	if cp.minSize < 0 || cp.minSize > cp.maxSize {
		return fmt.Errorf("%w: min size must be between 0 and max size", ErrInvalidConfiguration)
	}
	return nil
}

// Get takes an idle channel, opens a new one while under maxSize, or waits
func (cp *ChannelPool) Get(ctx context.Context) (*PooledChannel, error) {
	if cp.isClosed() {
		return nil, ErrChannelPoolClosed
	}

	select {
	case ch := <-cp.channels:
		return cp.checkout(ctx, ch)
	default:
	}

	if cp.reserve() {
		ch, err := cp.openReserved(ctx)
		if err != nil {
			cp.release()
		}
		return ch, err
	}

	timer := time.NewTimer(cp.waitTimeout)
	defer timer.Stop()

	select {
	case ch := <-cp.channels:
		return cp.checkout(ctx, ch)
	case <-ctx.Done():
		return nil, &ChannelError{Op: "get", ChannelID: "pool", Err: ctx.Err()}
	case <-timer.C:
		return nil, &ChannelError{Op: "get", ChannelID: "pool", Err: ErrChannelPoolExhausted}
	}
}

// Put returns a channel to the pool. Closed channels are discarded.
func (cp *ChannelPool) Put(ch *PooledChannel) {
	if ch == nil {
		return
	}

	if ch.IsClosed() {
		cp.release()
		return
	}
	if cp.isClosed() {
		ch.Close()
		cp.release()
		return
	}

	ch.lastUsed = time.Now()
	select {
	case cp.channels <- ch:
	default:
		ch.Close()
		cp.release()
	}
}

// Close closes every idle channel; channels still checked out close on Put
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	if cp.channels == nil {
		return nil
	}
	for {
		select {
		case ch := <-cp.channels:
			if !ch.IsClosed() {
				ch.Close()
			}
			cp.release()
		default:
			return nil
		}
	}
}

// Size returns the number of open channels, idle or checked out
func (cp *ChannelPool) Size() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.activeCount
}

// Execute runs fn on a pooled channel
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) (err error) {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in channel execution: %v", r)
		}
	}()
	return fn(ch.Channel)
}

func (cp *ChannelPool) checkout(ctx context.Context, ch *PooledChannel) (*PooledChannel, error) {
	if !ch.IsClosed() {
		ch.lastUsed = time.Now()
		return ch, nil
	}
	cp.logger.Debug("discarding closed channel", "channel_id", ch.id)
	// the closed channel's slot is reused for its replacement
	fresh, err := cp.openReserved(ctx)
	if err != nil {
		cp.release()
	}
	return fresh, err
}

func (cp *ChannelPool) open() (*PooledChannel, error) {
	if !cp.reserve() {
		return nil, &ChannelError{Op: "create", ChannelID: "new", Err: ErrChannelPoolExhausted}
	}
	ch, err := cp.openReserved(context.Background())
	if err != nil {
		cp.release()
	}
	return ch, err
}

// openReserved opens a channel for a slot the caller already holds
func (cp *ChannelPool) openReserved(ctx context.Context) (*PooledChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ChannelError{Op: "create", ChannelID: "new", Err: err}
	}

	conn, err := cp.manager.GetConnection()
	if err != nil {
		return nil, &ChannelError{Op: "create", ChannelID: "new", Err: err}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "create",
			ChannelID: "new",
			Err:       fmt.Errorf("%w: %v", ErrChannelCreationFailed, err),
		}
	}

	pc := &PooledChannel{Channel: ch, id: uuid.NewString(), lastUsed: time.Now()}
	cp.logger.Debug("opened channel", "channel_id", pc.id)
	return pc, nil
}

func (cp *ChannelPool) reserve() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.activeCount >= cp.maxSize {
		return false
	}
	cp.activeCount++
	return true
}

func (cp *ChannelPool) release() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.activeCount > 0 {
		cp.activeCount--
	}
}

func (cp *ChannelPool) isClosed() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.closed
}

package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/docflow/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// BrokerConnection is the part of the RabbitMQ connection manager the
// checker needs
type BrokerConnection interface {
	IsConnected() bool
	GetConnection() (*amqp.Connection, error)
}

// RabbitMQChecker reports unhealthy while the broker connection is down and
// degraded when the events exchange cannot be found
type RabbitMQChecker struct {
	conn     BrokerConnection
	exchange string
}

// NewRabbitMQChecker creates a new RabbitMQ health checker
func NewRabbitMQChecker(conn BrokerConnection, exchange string) *RabbitMQChecker {
	return &RabbitMQChecker{conn: conn, exchange: exchange}
}

func (c *RabbitMQChecker) Name() string {
	return "rabbitmq"
}

func (c *RabbitMQChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())

	if !c.conn.IsConnected() {
		return result.fail(StatusUnhealthy, "Not connected", nil)
	}
	conn, err := c.conn.GetConnection()
	if err != nil {
		return result.fail(StatusUnhealthy, "Failed to get connection", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return result.fail(StatusUnhealthy, "Failed to create channel", err)
	}
	defer ch.Close()

	result.Details["exchange"] = c.exchange
	if err := ch.ExchangeDeclarePassive(c.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return result.fail(StatusDegraded, "Events exchange not found", err)
	}
	return result.ok("Connection is healthy")
}

// Pinger is implemented by the Redis envelope store
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisChecker pings the envelope store
type RedisChecker struct {
	pinger Pinger
}

// NewRedisChecker creates a new Redis health checker
func NewRedisChecker(pinger Pinger) *RedisChecker {
	return &RedisChecker{pinger: pinger}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())
	if err := c.pinger.Ping(ctx); err != nil {
		return result.fail(StatusUnhealthy, "Ping failed", err)
	}
	return result.ok("Envelope store reachable")
}

// BreakerChecker reports an open event publisher circuit as degraded:
// transitions still commit, only their events are dropped
type BreakerChecker struct {
	name  string
	state func() reliability.State
}

// NewBreakerChecker creates a checker over a breaker state source
func NewBreakerChecker(name string, state func() reliability.State) *BreakerChecker {
	return &BreakerChecker{name: name, state: state}
}

func (c *BreakerChecker) Name() string {
	return c.name
}

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())
	state := c.state()
	result.Details["state"] = state.String()

	switch state {
	case reliability.StateClosed:
		return result.ok("Circuit closed")
	case reliability.StateHalfOpen:
		return result.fail(StatusDegraded, "Circuit half-open", nil)
	}
	return result.fail(StatusDegraded, "Circuit open, events are not being published", nil)
}

// GoroutineChecker flags runaway goroutine growth
type GoroutineChecker struct {
	warning  int
	critical int
}

// NewGoroutineChecker creates a checker with degraded and unhealthy thresholds
func NewGoroutineChecker(warning, critical int) *GoroutineChecker {
	return &GoroutineChecker{warning: warning, critical: critical}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())
	n := runtime.NumGoroutine()
	result.Details["goroutines"] = n

	switch {
	case n > c.critical:
		return result.fail(StatusUnhealthy, fmt.Sprintf("Too many goroutines: %d", n), nil)
	case n > c.warning:
		return result.fail(StatusDegraded, fmt.Sprintf("High goroutine count: %d", n), nil)
	}
	return result.ok("Goroutine count is normal")
}

type pending struct {
	CheckResult
}

func newResult(name string) *pending {
	return &pending{CheckResult{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]any),
	}}
}

func (p *pending) ok(message string) CheckResult {
	p.Status = StatusHealthy
	p.Message = message
	p.Duration = time.Since(p.Timestamp)
	p.Details["response_time_ms"] = p.Duration.Milliseconds()
	return p.CheckResult
}

func (p *pending) fail(status Status, message string, err error) CheckResult {
	p.Status = status
	p.Message = message
	if err != nil {
		p.Error = err.Error()
	}
	p.Duration = time.Since(p.Timestamp)
	return p.CheckResult
}

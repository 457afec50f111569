package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glimte/docflow/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

func (c checkerFunc) Name() string { return c.name }

func (c checkerFunc) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

func fixed(name string, status Status) Checker {
	return checkerFunc{name: name, fn: func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: status, Timestamp: time.Now()}
	}}
}

func TestRegistry_Check(t *testing.T) {
	type dep struct {
		status Status
		impact Impact
	}
	tests := []struct {
		name      string
		deps      []dep
		want      Status
		wantReady bool
	}{
		{"no dependencies", nil, StatusHealthy, true},
		{"all healthy", []dep{{StatusHealthy, Critical}, {StatusHealthy, Optional}}, StatusHealthy, true},
		{"critical degraded", []dep{{StatusDegraded, Critical}}, StatusDegraded, true},
		{"critical down", []dep{{StatusUnhealthy, Critical}, {StatusHealthy, Optional}}, StatusUnhealthy, false},
		{"optional down only degrades", []dep{{StatusHealthy, Critical}, {StatusUnhealthy, Optional}}, StatusDegraded, true},
		{"critical down wins over optional", []dep{{StatusUnhealthy, Optional}, {StatusUnhealthy, Critical}}, StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry("test")
			for i, d := range tt.deps {
				registry.Add(fixed(string(rune('a'+i)), d.status), d.impact)
			}

			report := registry.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Equal(t, tt.wantReady, report.Ready)
			assert.Len(t, report.Checks, len(tt.deps))
		})
	}
}

func TestRegistry_ReportKeepsOwnStatusAndOrder(t *testing.T) {
	registry := NewRegistry("1.2.3")
	registry.Add(fixed("rabbitmq", StatusUnhealthy), Optional)
	registry.Add(fixed("redis", StatusHealthy), Critical)
	registry.Add(fixed("event_publisher", StatusDegraded), Optional)

	report := registry.Check(context.Background())
	require.Len(t, report.Checks, 3)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Equal(t, []string{"event_publisher", "rabbitmq", "redis"},
		[]string{report.Checks[0].Name, report.Checks[1].Name, report.Checks[2].Name})
	assert.Equal(t, StatusUnhealthy, report.Checks[1].Status, "the check itself stays unhealthy")
	assert.True(t, report.Checks[1].Optional)
	assert.False(t, report.Checks[2].Optional)
	assert.Empty(t, report.Failing())
}

func TestRegistry_AddReplaces(t *testing.T) {
	registry := NewRegistry("")
	registry.Add(fixed("redis", StatusUnhealthy), Critical)
	registry.Add(fixed("redis", StatusHealthy), Critical)

	report := registry.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 1)
}

func TestRegistry_CheckTimeout(t *testing.T) {
	slow := checkerFunc{name: "slow", fn: func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return CheckResult{Name: "slow", Status: StatusHealthy}
	}}

	t.Run("critical", func(t *testing.T) {
		registry := NewRegistry("")
		registry.Add(fixed("fast", StatusHealthy), Critical)
		registry.Add(slow, Critical)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		report := registry.Check(ctx)
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.False(t, report.Ready)
		assert.Equal(t, []string{"slow"}, report.Failing())
		assert.Equal(t, "Check timed out", report.Checks[1].Message)
		assert.Equal(t, StatusHealthy, report.Checks[0].Status)
	})

	t.Run("optional", func(t *testing.T) {
		registry := NewRegistry("")
		registry.Add(slow, Optional)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		report := registry.Check(ctx)
		assert.Equal(t, StatusDegraded, report.Status)
		assert.True(t, report.Ready)
	})
}

func TestReportHandler(t *testing.T) {
	serve := func(registry *Registry) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		ReportHandler(registry, time.Second)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		return rec
	}

	t.Run("healthy returns 200 with JSON report", func(t *testing.T) {
		registry := NewRegistry("dev")
		registry.Add(fixed("redis", StatusHealthy), Critical)

		rec := serve(registry)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, StatusHealthy, body.Status)
		assert.True(t, body.Ready)
		require.Len(t, body.Checks, 1)
		assert.Equal(t, "redis", body.Checks[0].Name)
	})

	t.Run("broker down still returns 200", func(t *testing.T) {
		registry := NewRegistry("dev")
		registry.Add(fixed("redis", StatusHealthy), Critical)
		registry.Add(fixed("rabbitmq", StatusUnhealthy), Optional)

		rec := serve(registry)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status": "degraded"`)
	})

	t.Run("store down returns 503", func(t *testing.T) {
		registry := NewRegistry("dev")
		registry.Add(fixed("redis", StatusUnhealthy), Critical)

		assert.Equal(t, http.StatusServiceUnavailable, serve(registry).Code)
	})
}

func TestReadinessAndLiveness(t *testing.T) {
	ready := func(registry *Registry) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		ReadinessHandler(registry, time.Second)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec
	}

	registry := NewRegistry("dev")
	registry.Add(fixed("redis", StatusUnhealthy), Critical)
	registry.Add(fixed("rabbitmq", StatusUnhealthy), Optional)

	rec := ready(registry)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready: redis", rec.Body.String())

	registry.Add(fixed("redis", StatusDegraded), Critical)
	rec = ready(registry)
	assert.Equal(t, http.StatusOK, rec.Code, "an unreachable broker does not take the service out of rotation")
	assert.Equal(t, "ready", rec.Body.String())

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", rec.Body.String())
}

type fakeBroker struct {
	connected bool
	err       error
}

func (f fakeBroker) IsConnected() bool { return f.connected }

func (f fakeBroker) GetConnection() (*amqp.Connection, error) { return nil, f.err }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestRabbitMQChecker(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		result := NewRabbitMQChecker(fakeBroker{}, "docflow.events").Check(context.Background())
		assert.Equal(t, "rabbitmq", result.Name)
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "Not connected", result.Message)
	})

	t.Run("connection unavailable", func(t *testing.T) {
		checker := NewRabbitMQChecker(fakeBroker{connected: true, err: errors.New("connection is closed")}, "docflow.events")
		result := checker.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "connection is closed", result.Error)
	})
}

func TestRedisChecker(t *testing.T) {
	result := NewRedisChecker(fakePinger{}).Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "response_time_ms")

	result = NewRedisChecker(fakePinger{err: errors.New("dial tcp: refused")}).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "dial tcp: refused", result.Error)
}

func TestBreakerChecker(t *testing.T) {
	tests := []struct {
		state reliability.State
		want  Status
	}{
		{reliability.StateClosed, StatusHealthy},
		{reliability.StateHalfOpen, StatusDegraded},
		{reliability.StateOpen, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			checker := NewBreakerChecker("event_publisher", func() reliability.State { return tt.state })
			result := checker.Check(context.Background())
			assert.Equal(t, "event_publisher", result.Name)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.state.String(), result.Details["state"])
		})
	}
}

func TestGoroutineChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewGoroutineChecker(100000, 200000).Check(context.Background()).Status)
	assert.Equal(t, StatusDegraded, NewGoroutineChecker(0, 200000).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewGoroutineChecker(0, 0).Check(context.Background()).Status)
}

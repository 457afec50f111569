// Package health reports on the dependencies of the docflow service and
// serves the report over HTTP for load balancers and orchestrators.
//
// Dependencies are either critical or optional. The envelope store is
// critical: without it no workflow operation can run, so the service is not
// ready. The event broker is optional: transitions still commit while it is
// away and only their events are lost, so it can degrade the service but
// never take it out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// Impact says what a failing dependency means for the service
type Impact int

const (
	// Critical dependencies gate readiness
	Critical Impact = iota
	// Optional dependencies degrade the service at worst
	Optional
)

// CheckResult is the outcome of one dependency check
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Optional  bool           `json:"optional,omitempty"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// Checker checks one dependency
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Report is the aggregate of every dependency check, ordered by name
type Report struct {
	Status    Status        `json:"status"`
	Ready     bool          `json:"ready"`
	Version   string        `json:"version,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Checks    []CheckResult `json:"checks"`
}

// Failing returns the names of critical dependencies that are unhealthy
func (r Report) Failing() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.Optional && c.Status == StatusUnhealthy {
			names = append(names, c.Name)
		}
	}
	return names
}

type dependency struct {
	checker Checker
	impact  Impact
}

// Registry holds the service's dependencies
type Registry struct {
	version string

	mu   sync.RWMutex
	deps []dependency
}

// NewRegistry creates a registry that stamps reports with version
func NewRegistry(version string) *Registry {
	return &Registry{version: version}
}

// Add registers a dependency. A checker with the same name is replaced.
func (r *Registry) Add(checker Checker, impact Impact) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deps = slices.DeleteFunc(r.deps, func(d dependency) bool {
		return d.checker.Name() == checker.Name()
	})
	r.deps = append(r.deps, dependency{checker: checker, impact: impact})
}

// Check runs every dependency check concurrently. A check still running
// when ctx is done counts as unhealthy.
func (r *Registry) Check(ctx context.Context) Report {
	start := time.Now()

	r.mu.RLock()
	deps := slices.Clone(r.deps)
	r.mu.RUnlock()

	type slot struct {
		index  int
		result CheckResult
	}
	done := make(chan slot, len(deps))
	for i, d := range deps {
		go func() {
			done <- slot{index: i, result: d.checker.Check(ctx)}
		}()
	}

	results := make([]CheckResult, len(deps))
	seen := make([]bool, len(deps))
	for pending := len(deps); pending > 0; pending-- {
		select {
		case s := <-done:
			results[s.index], seen[s.index] = s.result, true
			continue
		case <-ctx.Done():
		}
		break
	}

	report := Report{
		Status:  StatusHealthy,
		Ready:   true,
		Version: r.version,
	}
	for i, d := range deps {
		result := results[i]
		if !seen[i] {
			result = CheckResult{
				Name:      d.checker.Name(),
				Status:    StatusUnhealthy,
				Message:   "Check timed out",
				Duration:  time.Since(start),
				Timestamp: time.Now(),
				Error:     ctx.Err().Error(),
			}
		}
		result.Optional = d.impact == Optional

		effective := result.Status
		if result.Optional && effective == StatusUnhealthy {
			effective = StatusDegraded
		}
		if effective.rank() > report.Status.rank() {
			report.Status = effective
		}
		if !result.Optional && result.Status == StatusUnhealthy {
			report.Ready = false
		}
		report.Checks = append(report.Checks, result)
	}
	slices.SortFunc(report.Checks, func(a, b CheckResult) int {
		return strings.Compare(a.Name, b.Name)
	})

	report.Timestamp = time.Now()
	report.Duration = time.Since(start)
	return report
}

func (r *Registry) check(req *http.Request, timeout time.Duration) Report {
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	return r.Check(ctx)
}

// ReportHandler serves the full report as JSON. It answers 503 only when a
// critical dependency is down; degraded still answers 200.
func ReportHandler(registry *Registry, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := registry.check(r, timeout)

		statusCode := http.StatusOK
		if !report.Ready {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(report)
	}
}

// ReadinessHandler answers 503 naming the critical dependencies that are down
func ReadinessHandler(registry *Registry, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := registry.check(r, timeout)
		if !report.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: " + strings.Join(report.Failing(), ", ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	}
}

// LivenessHandler always answers 200 while the process serves requests
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("alive"))
	}
}

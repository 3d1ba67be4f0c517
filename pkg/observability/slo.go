package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SLOTarget defines a service level objective for one operation,
// keyed by operation name.
type SLOTarget struct {
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // target, 0-1
	WindowHours int           `json:"window_hours"`
}

// DefaultSLOTargets returns the objectives for the order operations.
// Review and delivery run asynchronously so their latency budgets are
// wider than the synchronous API paths.
func DefaultSLOTargets() []*SLOTarget {
	return []*SLOTarget{
		{Operation: "submit", LatencyP99: 500 * time.Millisecond, SuccessRate: 0.99, WindowHours: 24},
		{Operation: "confirm", LatencyP99: 300 * time.Millisecond, SuccessRate: 0.995, WindowHours: 24},
		{Operation: "review", LatencyP99: 2 * time.Second, SuccessRate: 0.99, WindowHours: 24},
		{Operation: "delivery", LatencyP99: 5 * time.Second, SuccessRate: 0.95, WindowHours: 24},
	}
}

// SLOObservation is a single data point.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance for one operation.
type SLOStatus struct {
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"` // >1 burns faster than budget allows
	ErrorBudgetLeft  float64 `json:"error_budget_left"`
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker monitors SLOs across operations.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

// NewSLOTracker creates an empty tracker.
func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
}

// WithClock overrides the clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget sets the SLO target for an operation.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record records one observation.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	t.observations[obs.Operation] = append(t.observations[obs.Operation], obs)
}

// Observe records one data point stamped with the current clock time.
func (t *SLOTracker) Observe(operation string, latency time.Duration, success bool) {
	t.Record(SLOObservation{Operation: operation, Latency: latency, Success: success})
}

// Status computes current SLO status for an operation over its window.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("observability: no SLO target for operation %q", operation)
	}

	now := t.clock()
	windowStart := now.Add(-time.Duration(target.WindowHours) * time.Hour)
	var windowed []SLOObservation
	for _, obs := range t.observations[operation] {
		if obs.Timestamp.After(windowStart) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &SLOStatus{
			Operation:       operation,
			InCompliance:    true,
			ErrorBudgetLeft: 100.0,
		}, nil
	}

	successCount := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			successCount++
		}
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	successRate := float64(successCount) / float64(len(windowed))

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
	}
	budgetLeft := 100.0 * (1.0 - burnRate)
	if budgetLeft < 0 {
		budgetLeft = 0
	}

	return &SLOStatus{
		Operation:        operation,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     p99 <= float64(target.LatencyP99.Milliseconds()) && successRate >= target.SuccessRate,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}

// Snapshot reports compliance for every configured operation, sorted
// by operation name.
func (t *SLOTracker) Snapshot() []*SLOStatus {
	t.mu.Lock()
	ops := make([]string, 0, len(t.targets))
	for op := range t.targets {
		ops = append(ops, op)
	}
	t.mu.Unlock()
	sort.Strings(ops)

	out := make([]*SLOStatus, 0, len(ops))
	for _, op := range ops {
		status, err := t.Status(op)
		if err != nil {
			continue
		}
		out = append(out, status)
	}
	return out
}

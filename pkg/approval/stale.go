package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/workflow"
)

// StaleScanner is the administrative sweep over approvals nobody has
// decided. It does not time approvals out (an open approval stays
// open until a decision), it only surfaces them for operators.
type StaleScanner struct {
	store   workflow.Store
	horizon time.Duration
	clock   func() time.Time
	logger  *slog.Logger
}

// NewStaleScanner creates a scanner flagging approvals older than the
// horizon.
func NewStaleScanner(store workflow.Store, horizon time.Duration) *StaleScanner {
	return &StaleScanner{
		store:   store,
		horizon: horizon,
		clock:   time.Now,
		logger:  slog.Default().With("component", "approval.stale"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *StaleScanner) WithClock(clock func() time.Time) *StaleScanner {
	s.clock = clock
	return s
}

// Scan returns every step waiting on a human decision since before the
// horizon, oldest first, and logs each one.
func (s *StaleScanner) Scan(ctx context.Context) ([]contracts.WorkflowStep, error) {
	cutoff := s.clock().Add(-s.horizon)
	stale, err := s.store.ListStale(ctx, contracts.StepStatusRequiresApproval, cutoff)
	if err != nil {
		return nil, err
	}
	for _, step := range stale {
		s.logger.WarnContext(ctx, "approval pending past horizon",
			"step_id", step.ID,
			"tenant_id", step.TenantID,
			"waiting_since", step.UpdatedAt,
		)
	}
	return stale, nil
}

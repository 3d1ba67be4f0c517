package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultUnionAtomicity(t *testing.T) {
	success := NewSuccess(SuccessPayload{
		OrderID:        "ord-1",
		BackendOrderID: "be-1",
		PackageLineIDs: map[string]string{"pkg-1": "line-1"},
	})
	assert.True(t, success.Valid())
	assert.Empty(t, success.Errors)
	assert.Nil(t, success.Pending)

	errResult := NewError(Error{Code: ErrCodeBackendRejected, Detail: "unsupported targeting axis"})
	assert.True(t, errResult.Valid())
	assert.Nil(t, errResult.Success)
	assert.Len(t, errResult.Errors, 1)

	pending := NewPending("step-1")
	assert.True(t, pending.Valid())
	assert.Nil(t, pending.Success)
	assert.Empty(t, pending.Errors)

	// A result that carries both committal fields and errors violates
	// the contract and must be flagged.
	both := Result{
		Kind:    ResultSuccess,
		Success: &SuccessPayload{OrderID: "ord-1"},
		Errors:  []Error{{Code: ErrCodeInternal, Detail: "x"}},
	}
	assert.False(t, both.Valid())

	neither := Result{Kind: ResultError}
	assert.False(t, neither.Valid())
}

func TestStepStatusTerminal(t *testing.T) {
	terminal := []StepStatus{StepStatusCompleted, StepStatusFailed, StepStatusRejected}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	open := []StepStatus{StepStatusPending, StepStatusRequiresApproval, StepStatusApproved, StepStatusInProgress}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to StepStatus
		ok       bool
	}{
		{StepStatusPending, StepStatusRequiresApproval, true},
		{StepStatusPending, StepStatusInProgress, true},
		{StepStatusPending, StepStatusCompleted, true},
		{StepStatusRequiresApproval, StepStatusApproved, true},
		{StepStatusRequiresApproval, StepStatusRejected, true},
		{StepStatusApproved, StepStatusFailed, true},
		{StepStatusInProgress, StepStatusRequiresApproval, true}, // review downgrade
		{StepStatusInProgress, StepStatusCompleted, true},

		// Terminal states are immutable.
		{StepStatusCompleted, StepStatusFailed, false},
		{StepStatusFailed, StepStatusCompleted, false},
		{StepStatusRejected, StepStatusApproved, false},
		// No skipping the approval decision.
		{StepStatusRequiresApproval, StepStatusInProgress, false},
		{StepStatusRequiresApproval, StepStatusCompleted, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestSubmitRequestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	valid := SubmitRequest{
		TenantID: "t-1",
		Backend:  "inhouse",
		Action:   StepKindCreate,
		Packages: []Package{{
			ID:          "pkg-1",
			BudgetCents: 500_000,
			FlightStart: now,
			FlightEnd:   now.AddDate(0, 1, 0),
		}},
	}
	require.Empty(t, valid.Validate(now))

	t.Run("negative budget", func(t *testing.T) {
		req := valid
		req.Packages = []Package{{ID: "pkg-1", BudgetCents: -1}}
		errs := req.Validate(now)
		require.Len(t, errs, 1)
		assert.Equal(t, ErrCodeValidation, errs[0].Code)
		assert.Equal(t, "packages[0].budget_cents", errs[0].Field)
	})

	t.Run("inverted flight dates", func(t *testing.T) {
		req := valid
		req.Packages = []Package{{
			ID:          "pkg-1",
			BudgetCents: 100,
			FlightStart: now.AddDate(0, 1, 0),
			FlightEnd:   now,
		}}
		errs := req.Validate(now)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Field, "flight_end")
	})

	t.Run("no packages", func(t *testing.T) {
		req := valid
		req.Packages = nil
		errs := req.Validate(now)
		require.Len(t, errs, 1)
		assert.Equal(t, "packages", errs[0].Field)
	})

	t.Run("update without order id", func(t *testing.T) {
		req := valid
		req.Action = StepKindUpdate
		errs := req.Validate(now)
		require.Len(t, errs, 1)
		assert.Equal(t, "order_id", errs[0].Field)
	})
}

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, EventStepCompleted, EventTypeFor(StepStatusCompleted))
	assert.Equal(t, EventStepRejected, EventTypeFor(StepStatusRejected))
	assert.Equal(t, EventStepFailed, EventTypeFor(StepStatusFailed))
}

func TestOrderHelpers(t *testing.T) {
	o := Order{Packages: []Package{
		{ID: "a", BudgetCents: 100},
		{ID: "b", BudgetCents: 250},
	}}
	assert.Equal(t, int64(350), o.TotalBudgetCents())
	require.NotNil(t, o.PackageByID("b"))
	assert.Nil(t, o.PackageByID("missing"))
}

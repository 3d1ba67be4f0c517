package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadex/salesagent/pkg/adapters"
	"github.com/openadex/salesagent/pkg/approval"
	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/tenants"
	"github.com/openadex/salesagent/pkg/workflow"
)

// recordingNotifier captures enqueued step events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []contracts.StepEvent
}

func (n *recordingNotifier) EnqueueStepEvent(ctx context.Context, event contracts.StepEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []contracts.StepEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]contracts.StepEvent, len(n.events))
	copy(out, n.events)
	return out
}

type fixture struct {
	orch        *Orchestrator
	store       *workflow.MemoryStore
	policies    *tenants.MemoryStore
	notifier    *recordingNotifier
	inhouse     *adapters.InHouseAdapter
	reservation *adapters.ReservationAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := workflow.NewMemoryStore()
	policies := tenants.NewMemoryStore()
	gate, err := approval.NewGate()
	require.NoError(t, err)

	registry := adapters.NewRegistry()
	inhouse := adapters.NewInHouseAdapter()
	reservation := adapters.NewReservationAdapter()
	require.NoError(t, registry.Register(inhouse, ""))
	require.NoError(t, registry.Register(reservation, ""))

	notifier := &recordingNotifier{}
	orch := New(store, registry, gate, policies).WithNotifier(notifier)
	return &fixture{
		orch:        orch,
		store:       store,
		policies:    policies,
		notifier:    notifier,
		inhouse:     inhouse,
		reservation: reservation,
	}
}

func submitReq(backend string, pkgs ...contracts.Package) contracts.SubmitRequest {
	if len(pkgs) == 0 {
		pkgs = []contracts.Package{
			{ID: "pkg-1", BudgetCents: 100_000},
			{ID: "pkg-2", BudgetCents: 250_000},
		}
	}
	return contracts.SubmitRequest{
		TenantID: "t-1",
		BuyerRef: "buyer-42",
		Action:   contracts.StepKindCreate,
		Backend:  backend,
		Packages: pkgs,
	}
}

func TestSubmitTwoPackagesSuccess(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Submit(context.Background(), submitReq("inhouse"))
	require.NoError(t, err)
	require.True(t, res.Valid())
	require.Equal(t, contracts.ResultSuccess, res.Kind)
	assert.NotEmpty(t, res.Success.BackendOrderID)
	assert.Len(t, res.Success.PackageLineIDs, 2)
	assert.Empty(t, res.Errors)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventStepCompleted, events[0].Type)

	step, err := f.orch.Poll(context.Background(), events[0].StepID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StepStatusCompleted, step.Status)
	require.NotNil(t, step.Result)
	assert.Equal(t, contracts.ResultSuccess, step.Result.Kind)
}

func TestSubmitUnsupportedTargetingDimension(t *testing.T) {
	f := newFixture(t)
	req := submitReq("inhouse", contracts.Package{
		ID:          "pkg-1",
		BudgetCents: 100_000,
		Targeting:   contracts.Targeting{Custom: map[string][]string{"lookalike_audience": {"x"}}},
	})

	res, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Valid())
	require.Equal(t, contracts.ResultError, res.Kind)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, contracts.ErrCodeBackendRejected, res.Errors[0].Code)
	assert.Contains(t, res.Errors[0].Detail, "lookalike_audience")
	assert.Nil(t, res.Success, "no committal field may be populated")

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, contracts.EventStepFailed, events[0].Type)
}

func TestSubmitValidationRejectedBeforeStepCreated(t *testing.T) {
	f := newFixture(t)
	req := submitReq("inhouse")
	req.Packages = nil

	res, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, contracts.ResultError, res.Kind)
	assert.Equal(t, contracts.ErrCodeValidation, res.Errors[0].Code)

	open, err := f.store.ListOpenSteps(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Empty(t, open, "validation failures must not create steps")
	assert.Empty(t, f.notifier.Events())
}

func TestSubmitMappingConflict(t *testing.T) {
	f := newFixture(t)
	req := submitReq("reservation")
	req.OrderID = "ord-fixed"
	req.Action = contracts.StepKindUpdate

	first, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, contracts.ResultPending, first.Kind, "reservation backend parks the order")

	second, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, contracts.ResultError, second.Kind)
	assert.Equal(t, contracts.ErrCodeConflict, second.Errors[0].Code)
}

func TestSubmitApprovalFlowToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.policies.PutPolicy(ctx, tenants.ApprovalPolicy{
		TenantID:           "t-1",
		AlwaysApproveKinds: []string{"create"},
	}))

	res, err := f.orch.Submit(ctx, submitReq("inhouse"))
	require.NoError(t, err)
	require.Equal(t, contracts.ResultPending, res.Kind)
	taskID := res.Pending.TaskID

	step, err := f.orch.Poll(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StepStatusRequiresApproval, step.Status)
	assert.Empty(t, f.notifier.Events(), "parking is not a terminal transition")

	confirmRes, err := f.orch.Confirm(ctx, taskID, contracts.Decision{
		Actor:   "ops@tenant",
		Outcome: "approved",
	})
	require.NoError(t, err)
	require.Equal(t, contracts.ResultSuccess, confirmRes.Kind)
	assert.Len(t, confirmRes.Success.PackageLineIDs, 2)

	step, err = f.orch.Poll(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StepStatusCompleted, step.Status)

	events := f.notifier.Events()
	require.Len(t, events, 1, "exactly one delivery per terminal transition")
	assert.Equal(t, contracts.EventStepCompleted, events[0].Type)
}

func TestConfirmRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.policies.PutPolicy(ctx, tenants.ApprovalPolicy{
		TenantID:           "t-1",
		AlwaysApproveKinds: []string{"create"},
	}))

	res, err := f.orch.Submit(ctx, submitReq("inhouse"))
	require.NoError(t, err)
	taskID := res.Pending.TaskID

	rej, err := f.orch.Confirm(ctx, taskID, contracts.Decision{
		Actor:   "ops@tenant",
		Outcome: "rejected",
		Note:    "budget needs sign-off",
	})
	require.NoError(t, err)
	require.Equal(t, contracts.ResultError, rej.Kind)

	step, err := f.orch.Poll(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StepStatusRejected, step.Status)
	require.NotNil(t, step.Decision)
	assert.Equal(t, "rejected", step.Decision.Outcome)
}

func TestConfirmTerminalIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Submit(ctx, submitReq("inhouse"))
	require.NoError(t, err)
	require.Equal(t, contracts.ResultSuccess, res.Kind)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	stepID := events[0].StepID

	// Duplicate confirm reports the existing outcome and triggers no
	// second notification.
	again, err := f.orch.Confirm(ctx, stepID, contracts.Decision{Actor: "dup", Outcome: "approved"})
	require.NoError(t, err)
	assert.Equal(t, contracts.ResultSuccess, again.Kind)
	assert.Equal(t, res.Success.BackendOrderID, again.Success.BackendOrderID)
	assert.Len(t, f.notifier.Events(), 1)
}

func TestConcurrentConfirmSingleTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.policies.PutPolicy(ctx, tenants.ApprovalPolicy{
		TenantID:           "t-1",
		AlwaysApproveKinds: []string{"create"},
	}))

	res, err := f.orch.Submit(ctx, submitReq("inhouse"))
	require.NoError(t, err)
	taskID := res.Pending.TaskID

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan contracts.Result, racers)
	for i := 0; i < racers; i++ {
		outcome := "approved"
		if i%2 == 1 {
			outcome = "rejected"
		}
		wg.Add(1)
		go func(outcome string) {
			defer wg.Done()
			r, err := f.orch.Confirm(ctx, taskID, contracts.Decision{Actor: "racer", Outcome: outcome})
			if err == nil {
				results <- r
			}
		}(outcome)
	}
	wg.Wait()
	close(results)

	step, err := f.orch.Poll(ctx, taskID)
	require.NoError(t, err)
	require.True(t, step.Status.IsTerminal())

	// All successful callers observe the same terminal outcome.
	for r := range results {
		if step.Status == contracts.StepStatusCompleted {
			assert.Equal(t, contracts.ResultSuccess, r.Kind)
		} else {
			assert.Equal(t, contracts.ResultError, r.Kind)
		}
	}
	assert.Len(t, f.notifier.Events(), 1, "duplicate confirms must not duplicate notifications")
}

func TestReservationPendingThenConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Submit(ctx, submitReq("reservation"))
	require.NoError(t, err)
	require.Equal(t, contracts.ResultPending, res.Kind)
	taskID := res.Pending.TaskID

	step, err := f.orch.Poll(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StepStatusInProgress, step.Status)
	require.NotEmpty(t, step.TrackingToken)

	// Platform approves the reservation; the polling loop confirms.
	require.NoError(t, f.reservation.ResolveToken(step.TrackingToken, true))
	confirmRes, err := f.orch.Confirm(ctx, taskID, contracts.Decision{Actor: "poller", Outcome: "approved"})
	require.NoError(t, err)
	require.Equal(t, contracts.ResultSuccess, confirmRes.Kind)
	assert.Len(t, confirmRes.Success.PackageLineIDs, 2)
}

func TestPostApprovalBackendRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.policies.PutPolicy(ctx, tenants.ApprovalPolicy{
		TenantID:           "t-1",
		AlwaysApproveKinds: []string{"create"},
	}))

	req := submitReq("reservation")
	res, err := f.orch.Submit(ctx, req)
	require.NoError(t, err)
	taskID := res.Pending.TaskID

	// Human approves; backend parks the reservation.
	pending, err := f.orch.Confirm(ctx, taskID, contracts.Decision{Actor: "ops", Outcome: "approved"})
	require.NoError(t, err)
	require.Equal(t, contracts.ResultPending, pending.Kind)

	step, err := f.orch.Poll(ctx, taskID)
	require.NoError(t, err)
	require.NoError(t, f.reservation.ResolveToken(step.TrackingToken, false))

	// Backend later declines the already-approved step: ordinary
	// failed terminal, decision phase records the distinction.
	failed, err := f.orch.Confirm(ctx, taskID, contracts.Decision{Actor: "poller", Outcome: "approved"})
	require.NoError(t, err)
	require.Equal(t, contracts.ResultError, failed.Kind)

	step, err = f.orch.Poll(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StepStatusFailed, step.Status)
	require.NotNil(t, step.Decision)
	assert.Equal(t, contracts.DecisionPhasePostApproval, step.Decision.Phase)
}

func TestCompleteReviewVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mkStep := func(id string) contracts.WorkflowStep {
		now := time.Now()
		step := contracts.WorkflowStep{
			ID:         id,
			TenantID:   "t-1",
			Kind:       contracts.StepKindReview,
			ObjectType: contracts.ObjectTypeCreative,
			ObjectID:   "cr-" + id,
			Status:     contracts.StepStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		require.NoError(t, f.store.CreateStep(ctx, step))
		won, err := f.store.Transition(ctx, id, contracts.StepStatusPending, contracts.StepStatusInProgress, workflow.Update{})
		require.NoError(t, err)
		require.True(t, won)
		step.Status = contracts.StepStatusInProgress
		return step
	}

	t.Run("approve completes", func(t *testing.T) {
		step := mkStep("rv-1")
		require.NoError(t, f.orch.CompleteReview(ctx, step.ID, contracts.ReviewResult{
			Decision: contracts.ReviewApprove, Confidence: 0.97,
		}))
		got, err := f.orch.Poll(ctx, step.ID)
		require.NoError(t, err)
		assert.Equal(t, contracts.StepStatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		require.NotNil(t, got.Result.Success)
		assert.Equal(t, step.ObjectID, got.Result.Success.ObjectID)
		assert.Equal(t, "approved", got.Result.Success.EffectiveState)
		assert.Empty(t, got.Result.Success.OrderID, "a creative review carries no order identifier")
	})

	t.Run("reject fails", func(t *testing.T) {
		step := mkStep("rv-2")
		require.NoError(t, f.orch.CompleteReview(ctx, step.ID, contracts.ReviewResult{
			Decision: contracts.ReviewReject, Confidence: 0.92, Categories: []string{"prohibited_claims"},
		}))
		got, err := f.orch.Poll(ctx, step.ID)
		require.NoError(t, err)
		assert.Equal(t, contracts.StepStatusFailed, got.Status)
		require.NotNil(t, got.Result)
		assert.Contains(t, got.Result.Errors[0].Detail, "prohibited_claims")
	})

	t.Run("inconclusive parks for human", func(t *testing.T) {
		step := mkStep("rv-3")
		require.NoError(t, f.orch.CompleteReview(ctx, step.ID, contracts.ReviewResult{
			Decision: contracts.ReviewInconclusive, Confidence: 0.55,
		}))
		got, err := f.orch.Poll(ctx, step.ID)
		require.NoError(t, err)
		assert.Equal(t, contracts.StepStatusRequiresApproval, got.Status)
		assert.NotEmpty(t, got.Annotation)
	})

	t.Run("worker error parks for human", func(t *testing.T) {
		step := mkStep("rv-4")
		require.NoError(t, f.orch.CompleteReview(ctx, step.ID, contracts.ReviewResult{
			Decision: contracts.ReviewError, Detail: "scorer crashed",
		}))
		got, err := f.orch.Poll(ctx, step.ID)
		require.NoError(t, err)
		assert.Equal(t, contracts.StepStatusRequiresApproval, got.Status)
		assert.Contains(t, got.Annotation, "scorer crashed")
	})
}

func TestStartReviewConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cr := contracts.Creative{ID: "cr-1", TenantID: "t-1", Copy: "hello"}

	step, err := f.orch.StartReview(ctx, cr)
	require.NoError(t, err)
	assert.Equal(t, contracts.StepStatusPending, step.Status)
	assert.Equal(t, contracts.StepKindReview, step.Kind)

	_, err = f.orch.StartReview(ctx, cr)
	require.ErrorIs(t, err, workflow.ErrConflict)

	// Once the first review terminates, a new one may open.
	require.NoError(t, f.orch.CompleteReview(ctx, step.ID, contracts.ReviewResult{
		Decision: contracts.ReviewApprove, Confidence: 0.99,
	}))
	_, err = f.orch.StartReview(ctx, cr)
	require.NoError(t, err)
}

func TestIdempotencyKeyStable(t *testing.T) {
	k1, err := IdempotencyKey("t-1", contracts.ObjectTypeOrder, "ord-1", contracts.StepKindCreate)
	require.NoError(t, err)
	k2, err := IdempotencyKey("t-1", contracts.ObjectTypeOrder, "ord-1", contracts.StepKindCreate)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := IdempotencyKey("t-1", contracts.ObjectTypeOrder, "ord-1", contracts.StepKindUpdate)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}

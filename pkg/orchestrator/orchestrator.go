// Package orchestrator drives a buy/update request through the
// backend-agnostic execution abstraction: validation, workflow-step
// and mapping creation, the approval gate, adapter execution, and the
// atomic Success/Error contract toward the caller.
//
// Finalize is the one terminal-transition path. The submit path, the
// confirm path, and the async review pool all terminate steps through
// it, which is what makes "exactly one notification per terminal
// transition" enforceable: only the compare-and-set winner enqueues
// the event.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openadex/salesagent/pkg/adapters"
	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/tenants"
	"github.com/openadex/salesagent/pkg/workflow"
)

// Gate is the approval policy decision the orchestrator consults.
type Gate interface {
	Requires(policy tenants.ApprovalPolicy, actionKind contracts.StepKind, order *contracts.Order) (bool, error)
}

// Notifier receives the step event of a won terminal transition.
// Notification failures never affect the step outcome, so the
// orchestrator ignores delivery results entirely.
type Notifier interface {
	EnqueueStepEvent(ctx context.Context, event contracts.StepEvent)
}

// NopNotifier discards events; used when no dispatcher is wired.
type NopNotifier struct{}

func (NopNotifier) EnqueueStepEvent(ctx context.Context, event contracts.StepEvent) {}

// Orchestrator coordinates heterogeneous, partially-synchronous
// backends behind one caller contract.
type Orchestrator struct {
	store    workflow.Store
	registry *adapters.Registry
	gate     Gate
	policies tenants.PolicyStore
	notifier Notifier

	execTimeout time.Duration
	clock       func() time.Time
	logger      *slog.Logger
}

// New creates an orchestrator. All collaborators are required except
// the notifier, which defaults to a no-op.
func New(store workflow.Store, registry *adapters.Registry, gate Gate, policies tenants.PolicyStore) *Orchestrator {
	return &Orchestrator{
		store:       store,
		registry:    registry,
		gate:        gate,
		policies:    policies,
		notifier:    NopNotifier{},
		execTimeout: 15 * time.Second,
		clock:       time.Now,
		logger:      slog.Default().With("component", "orchestrator"),
	}
}

// WithNotifier wires the notification dispatcher.
func (o *Orchestrator) WithNotifier(n Notifier) *Orchestrator {
	o.notifier = n
	return o
}

// WithExecTimeout bounds each backend adapter call.
func (o *Orchestrator) WithExecTimeout(d time.Duration) *Orchestrator {
	o.execTimeout = d
	return o
}

// WithClock overrides the clock for deterministic testing.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Submit accepts a buy/update request and drives it as far as it can
// go synchronously. The returned Result is Success, Error, or Pending
// under the atomic contract; the error return is reserved for
// infrastructure failures where no answer could be produced at all.
func (o *Orchestrator) Submit(ctx context.Context, req contracts.SubmitRequest) (contracts.Result, error) {
	now := o.clock()

	// 1. Validation: rejected before any step is created.
	if errs := req.Validate(now); len(errs) > 0 {
		return contracts.NewError(errs...), nil
	}

	adapter, err := o.registry.Resolve(req.Backend, req.ProtocolVersion)
	if err != nil {
		return contracts.NewError(contracts.Error{
			Code: contracts.ErrCodeValidation, Field: "backend", Detail: err.Error(),
		}), nil
	}

	order := o.buildOrder(req, now)
	key, err := IdempotencyKey(req.TenantID, contracts.ObjectTypeOrder, order.ID, req.Action)
	if err != nil {
		return contracts.Result{}, err
	}

	// 2. Step plus mapping; an open mapping for the same (object,
	// action) rejects the submission outright.
	step := contracts.WorkflowStep{
		ID:             uuid.New().String(),
		TenantID:       req.TenantID,
		Kind:           req.Action,
		ObjectType:     contracts.ObjectTypeOrder,
		ObjectID:       order.ID,
		Backend:        req.Backend,
		Status:         contracts.StepStatusPending,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateStep(ctx, step); err != nil {
		return contracts.Result{}, fmt.Errorf("orchestrator: create step: %w", err)
	}
	mapping := contracts.ObjectWorkflowMapping{
		ObjectType: contracts.ObjectTypeOrder,
		ObjectID:   order.ID,
		Action:     req.Action,
		StepID:     step.ID,
		CreatedAt:  now,
	}
	if err := o.store.CreateMapping(ctx, mapping); err != nil {
		if errors.Is(err, workflow.ErrConflict) {
			// The step we just created will never run; fail it so it
			// does not linger open. Losing this race is not possible:
			// the step is never shared before this point.
			_, _ = o.store.Transition(ctx, step.ID, contracts.StepStatusPending, contracts.StepStatusFailed, workflow.Update{
				Annotation: "mapping conflict: concurrent mutation in flight",
			})
			return contracts.NewError(contracts.Error{
				Code:   contracts.ErrCodeConflict,
				Detail: fmt.Sprintf("a %s for order %s is already in flight", req.Action, order.ID),
			}), nil
		}
		return contracts.Result{}, fmt.Errorf("orchestrator: create mapping: %w", err)
	}

	// 3. Approval gate: park the step and return Pending.
	required, err := o.requiresApproval(ctx, req, order)
	if err != nil {
		o.logger.WarnContext(ctx, "approval gate failed closed",
			"step_id", step.ID, "error", err)
	}
	if required {
		won, terr := o.store.Transition(ctx, step.ID, contracts.StepStatusPending, contracts.StepStatusRequiresApproval, workflow.Update{})
		if terr != nil {
			return contracts.Result{}, fmt.Errorf("orchestrator: park for approval: %w", terr)
		}
		if !won {
			return contracts.Result{}, fmt.Errorf("orchestrator: lost transition on fresh step %s", step.ID)
		}
		return contracts.NewPending(step.ID), nil
	}

	// 4. Execute against the backend.
	return o.execute(ctx, adapter, step, order, contracts.StepStatusPending)
}

// Confirm resolves a step waiting in requires_approval (human
// decision) or in_progress (backend confirmation). Calling it on a
// step already terminal is a no-op reporting the existing outcome.
func (o *Orchestrator) Confirm(ctx context.Context, stepID string, decision contracts.Decision) (contracts.Result, error) {
	step, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		return contracts.Result{}, err
	}

	if step.Status.IsTerminal() {
		// Duplicate click or duplicate backend callback.
		return o.terminalResult(step), nil
	}

	switch step.Status {
	case contracts.StepStatusRequiresApproval, contracts.StepStatusInProgress:
	default:
		return contracts.Result{}, fmt.Errorf("orchestrator: step %s is %s, not awaiting confirmation", stepID, step.Status)
	}

	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = o.clock()
	}

	if decision.Outcome != "approved" {
		to := contracts.StepStatusFailed
		if step.Status == contracts.StepStatusRequiresApproval {
			to = contracts.StepStatusRejected
		}
		result := contracts.NewError(contracts.Error{
			Code:   contracts.ErrCodeBackendRejected,
			Detail: rejectionDetail(decision),
		})
		won, err := o.Finalize(ctx, step, to, workflow.Update{Decision: &decision, Result: &result})
		if err != nil {
			return contracts.Result{}, err
		}
		if !won {
			return o.reloadTerminal(ctx, stepID)
		}
		return result, nil
	}

	// Approval: move through the approved state, then re-invoke the
	// adapter under the original idempotency key.
	if step.Status == contracts.StepStatusRequiresApproval {
		won, err := o.store.Transition(ctx, step.ID, contracts.StepStatusRequiresApproval, contracts.StepStatusApproved, workflow.Update{Decision: &decision})
		if err != nil {
			return contracts.Result{}, err
		}
		if !won {
			return o.reloadTerminal(ctx, stepID)
		}
		step.Status = contracts.StepStatusApproved
		step.Decision = &decision
	}

	adapter, err := o.registry.Resolve(step.Backend, "")
	if err != nil {
		return contracts.Result{}, err
	}
	return o.execute(ctx, adapter, step, o.orderForStep(step), step.Status)
}

// Poll returns the step's current status plus its terminal result if
// one is available.
func (o *Orchestrator) Poll(ctx context.Context, taskID string) (contracts.WorkflowStep, error) {
	return o.store.GetStep(ctx, taskID)
}

// ListOpen returns the tenant's non-terminal steps, oldest first.
func (o *Orchestrator) ListOpen(ctx context.Context, tenantID string) ([]contracts.WorkflowStep, error) {
	return o.store.ListOpenSteps(ctx, tenantID)
}

// StartReview opens a review step for a creative. The step stays
// pending until a review worker (or a human, if the worker punts)
// terminates it; the caller is expected to hand the creative to the
// review pool after this returns. An open review for the same creative
// is a conflict.
func (o *Orchestrator) StartReview(ctx context.Context, cr contracts.Creative) (contracts.WorkflowStep, error) {
	now := o.clock()
	key, err := IdempotencyKey(cr.TenantID, contracts.ObjectTypeCreative, cr.ID, contracts.StepKindReview)
	if err != nil {
		return contracts.WorkflowStep{}, err
	}
	step := contracts.WorkflowStep{
		ID:             uuid.New().String(),
		TenantID:       cr.TenantID,
		Kind:           contracts.StepKindReview,
		ObjectType:     contracts.ObjectTypeCreative,
		ObjectID:       cr.ID,
		Status:         contracts.StepStatusPending,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateStep(ctx, step); err != nil {
		return contracts.WorkflowStep{}, fmt.Errorf("orchestrator: create review step: %w", err)
	}
	mapping := contracts.ObjectWorkflowMapping{
		ObjectType: contracts.ObjectTypeCreative,
		ObjectID:   cr.ID,
		Action:     contracts.StepKindReview,
		StepID:     step.ID,
		CreatedAt:  now,
	}
	if err := o.store.CreateMapping(ctx, mapping); err != nil {
		if errors.Is(err, workflow.ErrConflict) {
			_, _ = o.store.Transition(ctx, step.ID, contracts.StepStatusPending, contracts.StepStatusFailed, workflow.Update{
				Annotation: "mapping conflict: review already in flight",
			})
			return contracts.WorkflowStep{}, fmt.Errorf("orchestrator: review for creative %s already in flight: %w", cr.ID, workflow.ErrConflict)
		}
		return contracts.WorkflowStep{}, fmt.Errorf("orchestrator: create review mapping: %w", err)
	}
	return step, nil
}

// CompleteReview terminates a review step on behalf of the async
// review pool. Approve and reject are terminal; inconclusive and
// error park the step for a human instead.
func (o *Orchestrator) CompleteReview(ctx context.Context, stepID string, res contracts.ReviewResult) error {
	step, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if step.Status.IsTerminal() {
		return nil
	}

	decision := &contracts.Decision{
		Actor:      "review-pool",
		Phase:      contracts.DecisionPhaseAutomatedScan,
		Confidence: res.Confidence,
		Note:       res.Detail,
		DecidedAt:  o.clock(),
	}

	switch res.Decision {
	case contracts.ReviewApprove:
		decision.Outcome = "approved"
		result := contracts.NewSuccess(contracts.SuccessPayload{
			ObjectID:       step.ObjectID,
			EffectiveState: "approved",
		})
		_, err := o.Finalize(ctx, step, contracts.StepStatusCompleted, workflow.Update{Decision: decision, Result: &result})
		return err
	case contracts.ReviewReject:
		decision.Outcome = "rejected"
		result := contracts.NewError(contracts.Error{
			Code:   contracts.ErrCodeBackendRejected,
			Detail: reviewDetail("content review rejected the creative", res),
		})
		_, err := o.Finalize(ctx, step, contracts.StepStatusFailed, workflow.Update{Decision: decision, Result: &result})
		return err
	default:
		// Inconclusive or worker error: visible, waiting for a human,
		// never silently stuck in_progress.
		won, err := o.store.Transition(ctx, step.ID, step.Status, contracts.StepStatusRequiresApproval, workflow.Update{
			Annotation: reviewDetail("automated review was "+string(res.Decision), res),
		})
		if err != nil {
			return err
		}
		if !won {
			o.logger.InfoContext(ctx, "review downgrade lost transition race", "step_id", step.ID)
		}
		return nil
	}
}

// Finalize is the single centralized terminal-transition path. It
// performs the compare-and-set, and only the winner enqueues the
// notification event; the loser triggers nothing.
func (o *Orchestrator) Finalize(ctx context.Context, step contracts.WorkflowStep, to contracts.StepStatus, upd workflow.Update) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("orchestrator: Finalize called with non-terminal status %s", to)
	}
	won, err := o.store.Transition(ctx, step.ID, step.Status, to, upd)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	o.logger.InfoContext(ctx, "step finalized",
		"step_id", step.ID, "tenant_id", step.TenantID,
		"from", step.Status, "to", to)

	o.notifier.EnqueueStepEvent(ctx, contracts.StepEvent{
		ID:         uuid.New().String(),
		Type:       contracts.EventTypeFor(to),
		TenantID:   step.TenantID,
		StepID:     step.ID,
		ObjectType: step.ObjectType,
		ObjectID:   step.ObjectID,
		Status:     to,
		Summary:    summarize(step, to, upd),
		OccurredAt: o.clock(),
	})
	return true, nil
}

// execute runs one adapter attempt and maps the three-variant result
// onto the step machine and the caller contract. from is the step's
// current status when the attempt starts.
func (o *Orchestrator) execute(ctx context.Context, adapter adapters.Adapter, step contracts.WorkflowStep, order *contracts.Order, from contracts.StepStatus) (contracts.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, o.execTimeout)
	defer cancel()

	res, err := adapter.Execute(execCtx, adapters.ExecuteRequest{
		IdempotencyKey: step.IdempotencyKey,
		Action:         step.Kind,
		Order:          order,
	})
	if err != nil {
		// Transient failure of the attempt, not a rejection: the step
		// moves (or stays) in_progress and may be retried or polled.
		o.logger.WarnContext(ctx, "adapter attempt failed",
			"step_id", step.ID, "backend", adapter.Name(), "error", err)
		if from != contracts.StepStatusInProgress {
			if _, terr := o.store.Transition(ctx, step.ID, from, contracts.StepStatusInProgress, workflow.Update{
				Annotation: "transient backend failure: " + err.Error(),
			}); terr != nil {
				return contracts.Result{}, terr
			}
		}
		return contracts.NewPending(step.ID), nil
	}

	switch res.Kind {
	case adapters.ExecutionConfirmed:
		result := contracts.NewSuccess(contracts.SuccessPayload{
			OrderID:        order.ID,
			BackendOrderID: res.Confirmed.BackendOrderID,
			PackageLineIDs: res.Confirmed.LineIDs,
			EffectiveState: res.Confirmed.EffectiveState,
		})
		won, err := o.Finalize(ctx, step, contracts.StepStatusCompleted, workflow.Update{Result: &result})
		if err != nil {
			return contracts.Result{}, err
		}
		if !won {
			return o.reloadTerminal(ctx, step.ID)
		}
		return result, nil

	case adapters.ExecutionPending:
		if from != contracts.StepStatusInProgress {
			won, err := o.store.Transition(ctx, step.ID, from, contracts.StepStatusInProgress, workflow.Update{
				TrackingToken: res.Pending.TrackingToken,
			})
			if err != nil {
				return contracts.Result{}, err
			}
			if !won {
				return o.reloadTerminal(ctx, step.ID)
			}
		}
		return contracts.NewPending(step.ID), nil

	case adapters.ExecutionRejected:
		entry := contracts.Error{
			Code:   contracts.ErrCodeBackendRejected,
			Field:  res.Rejected.Field,
			Detail: res.Rejected.Reason,
		}
		result := contracts.NewError(entry)
		upd := workflow.Update{Result: &result}
		if step.Decision != nil && step.Decision.Outcome == "approved" {
			// Backend rejection after human approval: same failed
			// terminal, the decision phase preserves the distinction.
			d := *step.Decision
			d.Phase = contracts.DecisionPhasePostApproval
			upd.Decision = &d
		}
		won, err := o.Finalize(ctx, step, contracts.StepStatusFailed, upd)
		if err != nil {
			return contracts.Result{}, err
		}
		if !won {
			return o.reloadTerminal(ctx, step.ID)
		}
		return result, nil
	}
	return contracts.Result{}, fmt.Errorf("orchestrator: adapter %s returned unknown result kind %q", adapter.Name(), res.Kind)
}

func (o *Orchestrator) requiresApproval(ctx context.Context, req contracts.SubmitRequest, order *contracts.Order) (bool, error) {
	policy, err := o.policies.GetPolicy(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			return false, nil
		}
		// Policy store unreachable: fail closed, don't execute.
		return true, err
	}
	return o.gate.Requires(policy, req.Action, order)
}

// buildOrder materializes the order from the request. Backend line IDs
// stay empty: they are committal fields assigned only on confirmation.
func (o *Orchestrator) buildOrder(req contracts.SubmitRequest, now time.Time) *contracts.Order {
	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}
	order := &contracts.Order{
		ID:        orderID,
		TenantID:  req.TenantID,
		BuyerRef:  req.BuyerRef,
		Backend:   req.Backend,
		Status:    contracts.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.Packages = make([]contracts.Package, len(req.Packages))
	copy(order.Packages, req.Packages)
	for i := range order.Packages {
		if order.Packages[i].ID == "" {
			order.Packages[i].ID = uuid.New().String()
		}
		order.Packages[i].Status = contracts.PackageStatusPending
	}
	return order
}

// orderForStep reconstructs the order an in-flight step refers to.
// The committed order lives outside this core (catalog surface); what
// the adapter needs on re-invocation is the identifier set, and the
// idempotency key guarantees the backend replays its recorded state.
func (o *Orchestrator) orderForStep(step contracts.WorkflowStep) *contracts.Order {
	return &contracts.Order{
		ID:       step.ObjectID,
		TenantID: step.TenantID,
		Backend:  step.Backend,
	}
}

func (o *Orchestrator) terminalResult(step contracts.WorkflowStep) contracts.Result {
	if step.Result != nil {
		return *step.Result
	}
	// Terminal without a stored result should not happen; answer with
	// the taxonomy rather than a raw internal state.
	return contracts.NewError(contracts.Error{
		Code:   contracts.ErrCodeInternal,
		Detail: fmt.Sprintf("step %s is %s", step.ID, step.Status),
	})
}

// reloadTerminal re-reads a step after a lost transition race and
// reports the outcome the winner produced.
func (o *Orchestrator) reloadTerminal(ctx context.Context, stepID string) (contracts.Result, error) {
	step, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		return contracts.Result{}, err
	}
	if !step.Status.IsTerminal() {
		return contracts.NewPending(step.ID), nil
	}
	return o.terminalResult(step), nil
}

func rejectionDetail(d contracts.Decision) string {
	if d.Note != "" {
		return "rejected by " + d.Actor + ": " + d.Note
	}
	return "rejected by " + d.Actor
}

func reviewDetail(prefix string, res contracts.ReviewResult) string {
	msg := prefix
	if len(res.Categories) > 0 {
		msg += " (categories: "
		for i, c := range res.Categories {
			if i > 0 {
				msg += ", "
			}
			msg += c
		}
		msg += ")"
	}
	if res.Detail != "" {
		msg += ": " + res.Detail
	}
	return msg
}

func summarize(step contracts.WorkflowStep, to contracts.StepStatus, upd workflow.Update) string {
	verb := map[contracts.StepStatus]string{
		contracts.StepStatusCompleted: "completed",
		contracts.StepStatusFailed:    "failed",
		contracts.StepStatusRejected:  "was rejected",
	}[to]
	msg := fmt.Sprintf("%s %s for %s %s", step.Kind, verb, step.ObjectType, step.ObjectID)
	if upd.Decision != nil && upd.Decision.Note != "" {
		msg += " (" + upd.Decision.Note + ")"
	}
	return msg
}

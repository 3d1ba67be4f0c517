// Package adapters defines the backend-agnostic execution contract of
// the sales agent: a uniform Adapter interface, the three-variant
// ExecutionResult union, and an explicit registry selecting an adapter
// per backend with a protocol-compatibility gate.
//
// Adapters must be idempotent under retry with the same idempotency
// key: the orchestrator may re-invoke Execute after a crash before the
// step reached a terminal status.
package adapters

import (
	"context"

	"github.com/openadex/salesagent/pkg/contracts"
)

// ExecutionKind discriminates the ExecutionResult union.
type ExecutionKind string

const (
	ExecutionConfirmed ExecutionKind = "confirmed"
	ExecutionPending   ExecutionKind = "pending"
	ExecutionRejected  ExecutionKind = "rejected"
)

// Confirmation carries the backend-assigned identifiers of a
// synchronously completed action.
type Confirmation struct {
	BackendOrderID string
	// LineIDs maps package ID to the backend's line identifier; one
	// entry per package of the request.
	LineIDs        map[string]string
	EffectiveState string
}

// PendingExecution marks an action the backend accepted but will
// complete asynchronously; TrackingToken is the backend's reference.
type PendingExecution struct {
	TrackingToken string
}

// Rejection means the backend cannot fulfill the request at all.
// Reason names the unfulfillable constraint.
type Rejection struct {
	Reason string
	Field  string
}

// ExecutionResult is the tagged union an adapter returns. Exactly one
// of Confirmed, Pending, or Rejected is set, selected by Kind.
type ExecutionResult struct {
	Kind      ExecutionKind
	Confirmed *Confirmation
	Pending   *PendingExecution
	Rejected  *Rejection
}

// Confirm builds a Confirmed result.
func Confirm(c Confirmation) ExecutionResult {
	return ExecutionResult{Kind: ExecutionConfirmed, Confirmed: &c}
}

// Park builds a Pending result with the given tracking token.
func Park(token string) ExecutionResult {
	return ExecutionResult{Kind: ExecutionPending, Pending: &PendingExecution{TrackingToken: token}}
}

// Reject builds a Rejected result.
func Reject(field, reason string) ExecutionResult {
	return ExecutionResult{Kind: ExecutionRejected, Rejected: &Rejection{Field: field, Reason: reason}}
}

// ExecuteRequest is the adapter-facing view of one orchestrated action.
type ExecuteRequest struct {
	// IdempotencyKey is stable for the lifetime of the workflow step;
	// re-invocations under the same key must replay, not repeat.
	IdempotencyKey string

	Action contracts.StepKind
	Order  *contracts.Order
}

// Adapter is the uniform execution contract one ad-serving backend
// implements. A transport-level error (returned as err) is a transient
// failure of the attempt, not a Rejection: the step stays in progress
// and the orchestrator may retry with the same key.
type Adapter interface {
	// Name is the backend identifier the registry keys on.
	Name() string

	// Execute performs the action, answering Confirmed, Pending, or
	// Rejected. Implementations honor ctx cancellation and deadlines.
	Execute(ctx context.Context, req ExecuteRequest) (ExecutionResult, error)
}

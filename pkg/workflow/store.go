// Package workflow provides the durable Workflow Store: the single
// source of truth for workflow steps and object-workflow mappings.
//
// All status writes go through Transition, a compare-and-set keyed on
// the caller's expected prior status. Under concurrent terminal
// attempts exactly one caller wins; the rest observe the step already
// terminal and become no-ops. Mapping creation applies the same
// discipline: at most one open mapping per (object, action) pair.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/openadex/salesagent/pkg/contracts"
)

var (
	// ErrNotFound is returned when a step or mapping does not exist.
	ErrNotFound = errors.New("workflow: not found")

	// ErrConflict is returned when creating a mapping for an (object,
	// action) pair that already has an open mapping.
	ErrConflict = errors.New("workflow: open mapping exists")

	// ErrBadTransition is returned when the requested from -> to pair
	// is not in the transition table, independent of the stored state.
	ErrBadTransition = errors.New("workflow: illegal transition")
)

// Update carries the optional payload applied atomically with a won
// transition.
type Update struct {
	Decision      *contracts.Decision
	Annotation    string
	TrackingToken string
	Result        *contracts.Result
}

// Store is the durable workflow state machine. Implementations must
// provide compare-and-set semantics for Transition and CreateMapping;
// optimistic concurrency, not pessimistic locking, so parallel review
// workers never block each other.
type Store interface {
	// CreateStep persists a new step. The step must be in a
	// non-terminal status.
	CreateStep(ctx context.Context, step contracts.WorkflowStep) error

	// GetStep returns the step by ID, or ErrNotFound.
	GetStep(ctx context.Context, id string) (contracts.WorkflowStep, error)

	// Transition atomically moves the step from the expected prior
	// status to the new status, applying upd, and reports whether this
	// caller won. A lost race (stored status != from) returns
	// (false, nil); the caller re-reads the step to observe the real
	// outcome. Transitions into a terminal status close every open
	// mapping owned by the step in the same atomic unit.
	Transition(ctx context.Context, stepID string, from, to contracts.StepStatus, upd Update) (bool, error)

	// CreateMapping records the association between a domain object,
	// an action, and the step mutating it. Returns ErrConflict when an
	// open mapping for the same (object, action) already exists.
	CreateMapping(ctx context.Context, m contracts.ObjectWorkflowMapping) error

	// OpenMapping returns the open mapping for (objectType, objectID,
	// action), or ErrNotFound.
	OpenMapping(ctx context.Context, objectType contracts.ObjectType, objectID string, action contracts.StepKind) (contracts.ObjectWorkflowMapping, error)

	// ListOpenSteps returns the tenant's non-terminal steps, oldest
	// first.
	ListOpenSteps(ctx context.Context, tenantID string) ([]contracts.WorkflowStep, error)

	// ListStale returns steps that have been sitting in the given
	// status since before the cutoff. Used by the administrative
	// stale-approval scan.
	ListStale(ctx context.Context, status contracts.StepStatus, cutoff time.Time) ([]contracts.WorkflowStep, error)
}

// applyUpdate folds an Update into a step in memory. Shared by the
// in-memory and SQL implementations so both serialize the same shape.
func applyUpdate(step *contracts.WorkflowStep, to contracts.StepStatus, upd Update, now time.Time) {
	step.Status = to
	step.UpdatedAt = now
	if upd.Decision != nil {
		step.Decision = upd.Decision
	}
	if upd.Annotation != "" {
		step.Annotation = upd.Annotation
	}
	if upd.TrackingToken != "" {
		step.TrackingToken = upd.TrackingToken
	}
	if upd.Result != nil {
		step.Result = upd.Result
	}
}

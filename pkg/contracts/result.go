package contracts

import (
	"fmt"
	"time"
)

// ErrorCode is the machine-readable error taxonomy surfaced to callers.
type ErrorCode string

const (
	ErrCodeValidation      ErrorCode = "validation_error"
	ErrCodeConflict        ErrorCode = "conflict"
	ErrCodeBackendRejected ErrorCode = "backend_rejected"
	ErrCodeTransient       ErrorCode = "transient"
	ErrCodeNotification    ErrorCode = "notification_failed"
	ErrCodeInternal        ErrorCode = "internal"
)

// Error is one caller-visible failure: a taxonomy code plus a
// human-readable detail. Raw internal errors are never surfaced.
type Error struct {
	Code   ErrorCode `json:"code"`
	Field  string    `json:"field,omitempty"`
	Detail string    `json:"detail"`
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Field != "" {
		return string(e.Code) + " (" + e.Field + "): " + e.Detail
	}
	return string(e.Code) + ": " + e.Detail
}

// ResultKind discriminates the caller-facing result union.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultError   ResultKind = "error"
	ResultPending ResultKind = "pending"
)

// SuccessPayload carries every committal field of a fully-honored
// request. A field appears here only when the backend honored every
// requested constraint; partial fulfillment never reaches this type.
type SuccessPayload struct {
	OrderID        string `json:"order_id,omitempty"`
	BackendOrderID string `json:"backend_order_id,omitempty"`

	// ObjectID identifies the honored object for steps that do not
	// concern an order, such as an approved creative.
	ObjectID string `json:"object_id,omitempty"`

	// PackageLineIDs maps package ID to its backend-assigned line ID.
	// Populated for every package of the order, or not at all.
	PackageLineIDs map[string]string `json:"package_line_ids"`

	EffectiveState string `json:"effective_state,omitempty"`
}

// PendingPayload is returned when the work is parked behind human
// approval or an asynchronous backend; it carries no final fields.
type PendingPayload struct {
	TaskID string `json:"task_id"`
}

// Result is the discriminated union returned to callers: exactly one of
// Success, Errors, or Pending is set, selected by Kind. A Success never
// carries errors; an Error never carries committal fields.
type Result struct {
	Kind    ResultKind      `json:"kind"`
	Success *SuccessPayload `json:"success,omitempty"`
	Errors  []Error         `json:"errors,omitempty"`
	Pending *PendingPayload `json:"pending,omitempty"`
}

// NewSuccess builds a Success result.
func NewSuccess(p SuccessPayload) Result {
	return Result{Kind: ResultSuccess, Success: &p}
}

// NewError builds an Error result from one or more taxonomy entries.
func NewError(errs ...Error) Result {
	return Result{Kind: ResultError, Errors: errs}
}

// NewPending builds a Pending result referencing the workflow step that
// will carry the work to a terminal status.
func NewPending(taskID string) Result {
	return Result{Kind: ResultPending, Pending: &PendingPayload{TaskID: taskID}}
}

// Valid reports whether the result honors the atomic contract: exactly
// one variant populated, never both, never neither.
func (r Result) Valid() bool {
	switch r.Kind {
	case ResultSuccess:
		return r.Success != nil && len(r.Errors) == 0 && r.Pending == nil
	case ResultError:
		return len(r.Errors) > 0 && r.Success == nil && r.Pending == nil
	case ResultPending:
		return r.Pending != nil && r.Success == nil && len(r.Errors) == 0
	}
	return false
}

// SubmitRequest is a buyer agent's request to create or update an order.
type SubmitRequest struct {
	TenantID string   `json:"tenant_id"`
	BuyerRef string   `json:"buyer_ref"`
	Action   StepKind `json:"action"` // create | update

	// Backend selects the ad-serving backend; ProtocolVersion is the
	// buyer protocol version the backend must support.
	Backend         string `json:"backend"`
	ProtocolVersion string `json:"protocol_version,omitempty"`

	// OrderID is required for updates; ignored on create.
	OrderID string `json:"order_id,omitempty"`

	Packages  []Package  `json:"packages"`
	Creatives []Creative `json:"creatives,omitempty"`
}

// Validate checks internal consistency. A request that fails here is
// rejected before any workflow step is created.
func (r SubmitRequest) Validate(now time.Time) []Error {
	var errs []Error
	if r.TenantID == "" {
		errs = append(errs, Error{Code: ErrCodeValidation, Field: "tenant_id", Detail: "tenant_id is required"})
	}
	if r.Backend == "" {
		errs = append(errs, Error{Code: ErrCodeValidation, Field: "backend", Detail: "backend is required"})
	}
	switch r.Action {
	case StepKindCreate, StepKindUpdate:
	case "":
		errs = append(errs, Error{Code: ErrCodeValidation, Field: "action", Detail: "action is required"})
	default:
		errs = append(errs, Error{Code: ErrCodeValidation, Field: "action", Detail: "action must be create or update"})
	}
	if r.Action == StepKindUpdate && r.OrderID == "" {
		errs = append(errs, Error{Code: ErrCodeValidation, Field: "order_id", Detail: "order_id is required for updates"})
	}
	if len(r.Packages) == 0 {
		errs = append(errs, Error{Code: ErrCodeValidation, Field: "packages", Detail: "at least one package is required"})
	}
	for i, p := range r.Packages {
		if p.BudgetCents < 0 {
			errs = append(errs, Error{Code: ErrCodeValidation, Field: packageField(i, "budget_cents"), Detail: "budget must be non-negative"})
		}
		if !p.FlightStart.IsZero() && !p.FlightEnd.IsZero() && p.FlightEnd.Before(p.FlightStart) {
			errs = append(errs, Error{Code: ErrCodeValidation, Field: packageField(i, "flight_end"), Detail: "flight end precedes flight start"})
		}
	}
	return errs
}

func packageField(i int, name string) string {
	return fmt.Sprintf("packages[%d].%s", i, name)
}

package contracts

import "time"

// StepStatus is the lifecycle state of a WorkflowStep.
type StepStatus string

const (
	StepStatusPending          StepStatus = "pending"
	StepStatusRequiresApproval StepStatus = "requires_approval"
	StepStatusApproved         StepStatus = "approved"
	StepStatusRejected         StepStatus = "rejected"
	StepStatusInProgress       StepStatus = "in_progress"
	StepStatusCompleted        StepStatus = "completed"
	StepStatusFailed           StepStatus = "failed"
)

// IsTerminal reports whether the status is immutable once reached.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusRejected:
		return true
	}
	return false
}

// allowedTransitions is the closed transition table of the step state
// machine. Every write to a step's status must name its expected prior
// status and appear here; there is no other mutation path.
var allowedTransitions = map[StepStatus][]StepStatus{
	StepStatusPending:          {StepStatusRequiresApproval, StepStatusInProgress, StepStatusCompleted, StepStatusFailed},
	StepStatusRequiresApproval: {StepStatusApproved, StepStatusRejected, StepStatusFailed},
	StepStatusApproved:         {StepStatusInProgress, StepStatusCompleted, StepStatusFailed},
	StepStatusInProgress:       {StepStatusRequiresApproval, StepStatusCompleted, StepStatusFailed},
}

// CanTransition reports whether from -> to is a legal step transition.
func CanTransition(from, to StepStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StepKind names the orchestrated action a step tracks.
type StepKind string

const (
	StepKindCreate StepKind = "create"
	StepKindUpdate StepKind = "update"
	StepKindReview StepKind = "review"
)

// ObjectType names the domain object a step or mapping refers to.
type ObjectType string

const (
	ObjectTypeOrder    ObjectType = "order"
	ObjectTypePackage  ObjectType = "package"
	ObjectTypeCreative ObjectType = "creative"
)

// DecisionPhase records when a human or automated decision was taken
// relative to approval. "post_approval" marks a backend rejection that
// arrived after a human had already approved the step.
type DecisionPhase string

const (
	DecisionPhasePreExecution  DecisionPhase = "pre_execution"
	DecisionPhasePostApproval  DecisionPhase = "post_approval"
	DecisionPhaseAutomatedScan DecisionPhase = "automated_scan"
)

// Decision is the metadata attached to a step when a human approver or
// an automated reviewer resolved it.
type Decision struct {
	Actor      string        `json:"actor"`
	Outcome    string        `json:"outcome"` // "approved" | "rejected"
	Phase      DecisionPhase `json:"phase,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Note       string        `json:"note,omitempty"`
	DecidedAt  time.Time     `json:"decided_at"`
}

// WorkflowStep is the unit of trackable work. It is created whenever an
// orchestrated action begins; terminal statuses are immutable once
// reached, and multiple unrelated subsystems (adapter confirmation,
// approval UI, async review) may be the one to transition it there.
type WorkflowStep struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Kind     StepKind `json:"kind"`

	ObjectType ObjectType `json:"object_type"`
	ObjectID   string     `json:"object_id"`

	// Backend names the ad-serving backend this step executes
	// against; confirm-time re-execution resolves the adapter by it.
	Backend string `json:"backend"`

	Status StepStatus `json:"status"`

	// IdempotencyKey is handed to the backend adapter on every execute
	// call for this step, so a crash-retry replays instead of doubling.
	IdempotencyKey string `json:"idempotency_key"`

	// TrackingToken is set when a backend answered Pending; holds the
	// backend's reference for the deferred confirmation.
	TrackingToken string `json:"tracking_token,omitempty"`

	Decision   *Decision `json:"decision,omitempty"`
	Annotation string    `json:"annotation,omitempty"`

	// Result holds the terminal caller-facing outcome once the step
	// reaches a terminal status; nil before then.
	Result *Result `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ObjectWorkflowMapping associates a domain object plus an action with
// the step responsible for that mutation. At most one open mapping may
// exist per (object, action) pair at a time.
type ObjectWorkflowMapping struct {
	ObjectType ObjectType `json:"object_type"`
	ObjectID   string     `json:"object_id"`
	Action     StepKind   `json:"action"`
	StepID     string     `json:"step_id"`
	Open       bool       `json:"open"`
	CreatedAt  time.Time  `json:"created_at"`
}

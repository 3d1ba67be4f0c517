package contracts

import "time"

// EventType names a webhook event emitted on a workflow-step terminal
// transition.
type EventType string

const (
	EventStepCompleted EventType = "workflow_step.completed"
	EventStepFailed    EventType = "workflow_step.failed"
	EventStepRejected  EventType = "workflow_step.rejected"
)

// EventTypeFor maps a terminal step status to its event type.
func EventTypeFor(status StepStatus) EventType {
	switch status {
	case StepStatusCompleted:
		return EventStepCompleted
	case StepStatusRejected:
		return EventStepRejected
	default:
		return EventStepFailed
	}
}

// StepEvent is the webhook wire payload POSTed to subscribers when a
// workflow step reaches a terminal status. Receivers acknowledge with
// any 2xx response.
type StepEvent struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	TenantID   string     `json:"tenant_id"`
	StepID     string     `json:"step_id"`
	ObjectType ObjectType `json:"object_type"`
	ObjectID   string     `json:"object_id"`

	Status  StepStatus `json:"status"`
	Summary string     `json:"summary"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Package tenants provides the tenant model and the approval-policy
// store the orchestrator consults before executing an action.
package tenants

import "time"

// Status represents the current status of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is one publisher account on the sales agent.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsActive returns true if the tenant is active.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// ApprovalPolicy is a tenant's human-approval policy for orchestrated
// actions. The approval gate consumes it read-only.
type ApprovalPolicy struct {
	TenantID string `json:"tenant_id" yaml:"tenant_id"`

	// AutoApproveKinds lists action kinds that never require human
	// approval; AlwaysApproveKinds lists kinds that always do.
	// AlwaysApproveKinds wins when a kind appears in both.
	AutoApproveKinds   []string `json:"auto_approve_kinds" yaml:"auto_approve_kinds"`
	AlwaysApproveKinds []string `json:"always_approve_kinds" yaml:"always_approve_kinds"`

	// Rule is an optional CEL expression evaluated against the order;
	// a true result requires approval. Evaluation failures fail closed.
	Rule string `json:"rule,omitempty" yaml:"rule,omitempty"`

	// ReviewConfidenceThreshold is the minimum confidence an automated
	// content review needs before its decision stands on its own;
	// below it the review is inconclusive and routes to a human.
	ReviewConfidenceThreshold float64 `json:"review_confidence_threshold" yaml:"review_confidence_threshold"`
}

// RequiresKind reports the static (non-CEL) part of the policy for an
// action kind: (required, decided). decided=false means the static
// lists are silent and the CEL rule, if any, decides.
func (p ApprovalPolicy) RequiresKind(kind string) (required, decided bool) {
	for _, k := range p.AlwaysApproveKinds {
		if k == kind {
			return true, true
		}
	}
	for _, k := range p.AutoApproveKinds {
		if k == kind {
			return false, true
		}
	}
	return false, false
}

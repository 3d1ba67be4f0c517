// Package review runs automated content evaluation off the request
// path. A bounded worker pool scores creatives and terminates the
// associated workflow step; anything the scorer cannot decide with
// confidence is parked for a human instead of silently resolved.
package review

import (
	"context"

	"github.com/openadex/salesagent/pkg/contracts"
)

// Submission is one review job: the creative under review plus the
// workflow step the verdict terminates.
type Submission struct {
	StepID   string             `json:"step_id"`
	TenantID string             `json:"tenant_id"`
	Creative contracts.Creative `json:"creative"`

	// Asset carries raw bytes fetched from the creative store when the
	// creative is stored content rather than an external URI.
	Asset []byte `json:"asset,omitempty"`
}

// Scorer evaluates a creative and produces a four-variant verdict.
// A returned error means the scorer itself broke; the pool downgrades
// it to a ReviewError verdict so the step never approves by accident.
type Scorer interface {
	Score(ctx context.Context, sub Submission) (contracts.ReviewResult, error)
}

package contracts

// ReviewDecision is the four-variant outcome of automated content
// review. Inconclusive and error route to human approval instead of
// failing the step silently.
type ReviewDecision string

const (
	ReviewApprove      ReviewDecision = "approve"
	ReviewReject       ReviewDecision = "reject"
	ReviewInconclusive ReviewDecision = "inconclusive"
	ReviewError        ReviewDecision = "error"
)

// ReviewResult is what a review worker produced for one creative.
type ReviewResult struct {
	Decision   ReviewDecision `json:"decision"`
	Confidence float64        `json:"confidence"`

	// Categories lists the policy categories that matched, e.g.
	// "prohibited_claims". Empty on a clean approve.
	Categories []string `json:"categories,omitempty"`

	// Detail carries the worker's explanation; for decision=error it
	// holds the sanitized failure summary.
	Detail string `json:"detail,omitempty"`
}

package review

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/openadex/salesagent/pkg/contracts"
)

// defaultCategories maps policy categories to the terms that trigger
// them. Matching happens on NFKC-normalized, lowercased copy so that
// full-width and compatibility forms cannot sneak terms past the scan.
var defaultCategories = map[string][]string{
	"prohibited_claims":   {"guaranteed results", "miracle cure", "risk-free returns", "doctors hate"},
	"restricted_products": {"firearms", "tobacco", "vaping", "payday loan"},
	"misleading_urgency":  {"you have been selected", "act now or lose", "final notice"},
}

// HeuristicScorer is the built-in term-scan scorer. One category match
// is treated as inconclusive (a human looks at it); two or more reject
// outright. Empty copy is inconclusive: there is nothing to clear.
type HeuristicScorer struct {
	categories map[string][]string

	// rejectAt is the number of distinct matched terms at which the
	// verdict hardens from inconclusive to reject.
	rejectAt int
}

// NewHeuristicScorer creates the scorer with the default term lists.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{categories: defaultCategories, rejectAt: 2}
}

// WithCategories replaces the term lists, for tenant-specific policy.
func (s *HeuristicScorer) WithCategories(categories map[string][]string) *HeuristicScorer {
	s.categories = categories
	return s
}

func (s *HeuristicScorer) Score(ctx context.Context, sub Submission) (contracts.ReviewResult, error) {
	if err := ctx.Err(); err != nil {
		return contracts.ReviewResult{}, err
	}

	text := sub.Creative.Copy
	if text == "" && len(sub.Asset) > 0 {
		text = string(sub.Asset)
	}
	if strings.TrimSpace(text) == "" {
		return contracts.ReviewResult{
			Decision: contracts.ReviewInconclusive,
			Detail:   "no reviewable text in creative",
		}, nil
	}

	normalized := strings.ToLower(norm.NFKC.String(text))

	matched := map[string]bool{}
	hits := 0
	for category, terms := range s.categories {
		for _, term := range terms {
			if strings.Contains(normalized, term) {
				matched[category] = true
				hits++
			}
		}
	}

	if hits == 0 {
		return contracts.ReviewResult{
			Decision:   contracts.ReviewApprove,
			Confidence: 0.9,
		}, nil
	}

	categories := make([]string, 0, len(matched))
	for c := range matched {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	confidence := 0.5 + 0.2*float64(hits)
	if confidence > 0.95 {
		confidence = 0.95
	}
	decision := contracts.ReviewInconclusive
	if hits >= s.rejectAt {
		decision = contracts.ReviewReject
	}
	return contracts.ReviewResult{
		Decision:   decision,
		Confidence: confidence,
		Categories: categories,
		Detail:     "matched restricted terms in creative copy",
	}, nil
}

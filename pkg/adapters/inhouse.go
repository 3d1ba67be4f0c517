package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// InHouseAdapter is the reference synchronous backend: it validates
// targeting against its supported axes and confirms immediately.
// Executed keys are remembered so a crash-retry replays the recorded
// outcome instead of assigning fresh identifiers.
type InHouseAdapter struct {
	mu       sync.Mutex
	executed map[string]ExecutionResult
	axes     map[string]bool
}

// defaultAxes are the targeting axes the in-house ad server supports.
var defaultAxes = []string{"geo_country", "device_type", "content_category"}

// NewInHouseAdapter creates the adapter with the default axis set.
func NewInHouseAdapter() *InHouseAdapter {
	a := &InHouseAdapter{
		executed: make(map[string]ExecutionResult),
		axes:     make(map[string]bool),
	}
	for _, axis := range defaultAxes {
		a.axes[axis] = true
	}
	return a
}

// WithAxes replaces the supported axis set.
func (a *InHouseAdapter) WithAxes(axes ...string) *InHouseAdapter {
	a.axes = make(map[string]bool, len(axes))
	for _, axis := range axes {
		a.axes[axis] = true
	}
	return a
}

func (a *InHouseAdapter) Name() string { return "inhouse" }

func (a *InHouseAdapter) Execute(ctx context.Context, req ExecuteRequest) (ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return ExecutionResult{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Idempotent replay: same key, same answer.
	if res, ok := a.executed[req.IdempotencyKey]; ok {
		return res, nil
	}

	// The atomic contract: any unsupported axis rejects the whole
	// request. Honoring a subset of constraints is not a success.
	for _, pkg := range req.Order.Packages {
		for _, axis := range pkg.Targeting.Axes() {
			if !a.axes[axis] {
				res := Reject(
					fmt.Sprintf("packages.%s.targeting.%s", pkg.ID, axis),
					fmt.Sprintf("targeting axis %q is not supported by backend inhouse", axis),
				)
				a.executed[req.IdempotencyKey] = res
				return res, nil
			}
		}
	}

	lineIDs := make(map[string]string, len(req.Order.Packages))
	for _, pkg := range req.Order.Packages {
		lineIDs[pkg.ID] = deriveID("line", req.IdempotencyKey, pkg.ID)
	}
	res := Confirm(Confirmation{
		BackendOrderID: deriveID("order", req.IdempotencyKey, req.Order.ID),
		LineIDs:        lineIDs,
		EffectiveState: "active",
	})
	a.executed[req.IdempotencyKey] = res
	return res, nil
}

// deriveID produces a stable backend identifier from the idempotency
// key, so replays and restarts agree on the assigned IDs.
func deriveID(kind, key, suffix string) string {
	h := sha256.Sum256([]byte(kind + ":" + key + ":" + suffix))
	return "ih-" + kind + "-" + hex.EncodeToString(h[:8])
}

package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/tenants"
	"github.com/openadex/salesagent/pkg/workflow"
)

func testOrder(budgetCents int64) *contracts.Order {
	return &contracts.Order{
		ID:       "ord-1",
		TenantID: "t-1",
		Backend:  "inhouse",
		Packages: []contracts.Package{{ID: "pkg-1", BudgetCents: budgetCents}},
	}
}

func TestGateStaticLists(t *testing.T) {
	g, err := NewGate()
	require.NoError(t, err)

	policy := tenants.ApprovalPolicy{
		AlwaysApproveKinds: []string{"create"},
		AutoApproveKinds:   []string{"update"},
	}

	required, err := g.Requires(policy, contracts.StepKindCreate, testOrder(100))
	require.NoError(t, err)
	assert.True(t, required)

	required, err = g.Requires(policy, contracts.StepKindUpdate, testOrder(100))
	require.NoError(t, err)
	assert.False(t, required)
}

func TestGateCELRule(t *testing.T) {
	g, err := NewGate()
	require.NoError(t, err)

	policy := tenants.ApprovalPolicy{
		Rule: "order.total_budget_cents > 5000000 && action == 'create'",
	}

	required, err := g.Requires(policy, contracts.StepKindCreate, testOrder(10_000_000))
	require.NoError(t, err)
	assert.True(t, required, "large budget trips the rule")

	required, err = g.Requires(policy, contracts.StepKindCreate, testOrder(100))
	require.NoError(t, err)
	assert.False(t, required)

	required, err = g.Requires(policy, contracts.StepKindUpdate, testOrder(10_000_000))
	require.NoError(t, err)
	assert.False(t, required, "rule only matches create")
}

func TestGateFailsClosed(t *testing.T) {
	g, err := NewGate()
	require.NoError(t, err)

	t.Run("broken rule", func(t *testing.T) {
		policy := tenants.ApprovalPolicy{Rule: "order.nonsense ++ 1"}
		required, err := g.Requires(policy, contracts.StepKindCreate, testOrder(100))
		assert.Error(t, err)
		assert.True(t, required, "uncompilable rule must require approval")
	})

	t.Run("non-boolean rule", func(t *testing.T) {
		policy := tenants.ApprovalPolicy{Rule: "order.total_budget_cents"}
		required, err := g.Requires(policy, contracts.StepKindCreate, testOrder(100))
		assert.Error(t, err)
		assert.True(t, required)
	})
}

func TestGateEmptyPolicy(t *testing.T) {
	g, err := NewGate()
	require.NoError(t, err)
	required, err := g.Requires(tenants.ApprovalPolicy{}, contracts.StepKindCreate, testOrder(100))
	require.NoError(t, err)
	assert.False(t, required)
}

func TestRuleLinter(t *testing.T) {
	l, err := NewRuleLinter()
	require.NoError(t, err)

	assert.NoError(t, l.Lint("order.total_budget_cents > 100"))
	assert.NoError(t, l.Lint("action in ['create', 'update']"))

	assert.Error(t, l.Lint("now() > timestamp('2026-01-01T00:00:00Z')"))
	assert.Error(t, l.Lint("order.targeting.keys().size() > 0"))
	assert.Error(t, l.Lint("size(order.custom.values()) == 1"))
	// Forbidden call nested inside an argument is still caught.
	assert.Error(t, l.Lint("[1, 2, now()].size() > 0"))
}

func TestGateRejectsNonDeterministicRule(t *testing.T) {
	g, err := NewGate()
	require.NoError(t, err)
	policy := tenants.ApprovalPolicy{Rule: "now() != null"}
	required, err := g.Requires(policy, contracts.StepKindCreate, testOrder(100))
	assert.Error(t, err)
	assert.True(t, required)
}

func TestStaleScanner(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	store := workflow.NewMemoryStore().WithClock(func() time.Time { return now })

	step := contracts.WorkflowStep{
		ID:         "s-1",
		TenantID:   "t-1",
		Kind:       contracts.StepKindCreate,
		ObjectType: contracts.ObjectTypeOrder,
		ObjectID:   "ord-1",
		Status:     contracts.StepStatusPending,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	require.NoError(t, store.CreateStep(ctx, step))
	won, err := store.Transition(ctx, "s-1", contracts.StepStatusPending, contracts.StepStatusRequiresApproval, workflow.Update{})
	require.NoError(t, err)
	require.True(t, won)

	scanner := NewStaleScanner(store, 24*time.Hour)

	now = base.Add(time.Hour)
	scanner.WithClock(func() time.Time { return now })
	stale, err := scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale, "one hour is within the horizon")

	now = base.Add(48 * time.Hour)
	stale, err = scanner.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "s-1", stale[0].ID)
}

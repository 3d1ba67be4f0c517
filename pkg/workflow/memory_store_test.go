package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadex/salesagent/pkg/contracts"
)

func newStep(id string, status contracts.StepStatus) contracts.WorkflowStep {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return contracts.WorkflowStep{
		ID:             id,
		TenantID:       "t-1",
		Kind:           contracts.StepKindCreate,
		ObjectType:     contracts.ObjectTypeOrder,
		ObjectID:       "ord-1",
		Status:         status,
		IdempotencyKey: "key-" + id,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMemoryStoreTransitionCAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateStep(ctx, newStep("s-1", contracts.StepStatusPending)))

	won, err := s.Transition(ctx, "s-1", contracts.StepStatusPending, contracts.StepStatusInProgress, Update{})
	require.NoError(t, err)
	assert.True(t, won)

	// Same expected prior status again: stored state moved on, so the
	// second caller loses without error.
	won, err = s.Transition(ctx, "s-1", contracts.StepStatusPending, contracts.StepStatusInProgress, Update{})
	require.NoError(t, err)
	assert.False(t, won)

	step, err := s.GetStep(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StepStatusInProgress, step.Status)
}

func TestMemoryStoreIllegalTransition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateStep(ctx, newStep("s-1", contracts.StepStatusPending)))

	_, err := s.Transition(ctx, "s-1", contracts.StepStatusCompleted, contracts.StepStatusFailed, Update{})
	assert.ErrorIs(t, err, ErrBadTransition)
}

func TestMemoryStoreSingleTerminalWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateStep(ctx, newStep("s-1", contracts.StepStatusInProgress)))

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan contracts.StepStatus, racers)
	for i := 0; i < racers; i++ {
		to := contracts.StepStatusCompleted
		if i%2 == 1 {
			to = contracts.StepStatusFailed
		}
		wg.Add(1)
		go func(to contracts.StepStatus) {
			defer wg.Done()
			won, err := s.Transition(ctx, "s-1", contracts.StepStatusInProgress, to, Update{})
			assert.NoError(t, err)
			if won {
				wins <- to
			}
		}(to)
	}
	wg.Wait()
	close(wins)

	var winners []contracts.StepStatus
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one racer must win the terminal transition")

	step, err := s.GetStep(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], step.Status)
}

func TestMemoryStoreMappingExclusivity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateStep(ctx, newStep("s-1", contracts.StepStatusPending)))

	m := contracts.ObjectWorkflowMapping{
		ObjectType: contracts.ObjectTypeOrder,
		ObjectID:   "ord-1",
		Action:     contracts.StepKindUpdate,
		StepID:     "s-1",
	}
	require.NoError(t, s.CreateMapping(ctx, m))

	// Second open mapping for the same (object, action) conflicts.
	m2 := m
	m2.StepID = "s-2"
	assert.ErrorIs(t, s.CreateMapping(ctx, m2), ErrConflict)

	// A different action on the same object is fine.
	m3 := m
	m3.Action = contracts.StepKindReview
	m3.StepID = "s-3"
	assert.NoError(t, s.CreateMapping(ctx, m3))
}

func TestMemoryStoreTerminalClosesMappings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateStep(ctx, newStep("s-1", contracts.StepStatusInProgress)))
	require.NoError(t, s.CreateMapping(ctx, contracts.ObjectWorkflowMapping{
		ObjectType: contracts.ObjectTypeOrder,
		ObjectID:   "ord-1",
		Action:     contracts.StepKindCreate,
		StepID:     "s-1",
	}))

	won, err := s.Transition(ctx, "s-1", contracts.StepStatusInProgress, contracts.StepStatusCompleted, Update{})
	require.NoError(t, err)
	require.True(t, won)

	_, err = s.OpenMapping(ctx, contracts.ObjectTypeOrder, "ord-1", contracts.StepKindCreate)
	assert.ErrorIs(t, err, ErrNotFound)

	// The slot is free again for a new mutation.
	assert.NoError(t, s.CreateMapping(ctx, contracts.ObjectWorkflowMapping{
		ObjectType: contracts.ObjectTypeOrder,
		ObjectID:   "ord-1",
		Action:     contracts.StepKindCreate,
		StepID:     "s-2",
	}))
}

func TestMemoryStoreListStale(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s := NewMemoryStore().WithClock(func() time.Time { return now })

	old := newStep("s-old", contracts.StepStatusPending)
	old.UpdatedAt = base.Add(-2 * time.Hour)
	require.NoError(t, s.CreateStep(ctx, old))
	won, err := s.Transition(ctx, "s-old", contracts.StepStatusPending, contracts.StepStatusRequiresApproval, Update{})
	require.NoError(t, err)
	require.True(t, won)

	now = base.Add(3 * time.Hour)
	fresh := newStep("s-fresh", contracts.StepStatusRequiresApproval)
	fresh.UpdatedAt = now
	require.NoError(t, s.CreateStep(ctx, fresh))

	stale, err := s.ListStale(ctx, contracts.StepStatusRequiresApproval, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "s-old", stale[0].ID)
}

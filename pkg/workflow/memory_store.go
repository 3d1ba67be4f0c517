package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openadex/salesagent/pkg/contracts"
)

// MemoryStore is an in-memory Store for tests and single-process
// development. One mutex guards both maps so a terminal transition and
// its mapping close are a single atomic unit, mirroring the SQL
// implementation's transaction.
type MemoryStore struct {
	mu       sync.Mutex
	steps    map[string]contracts.WorkflowStep
	mappings []contracts.ObjectWorkflowMapping
	clock    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps: make(map[string]contracts.WorkflowStep),
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) CreateStep(ctx context.Context, step contracts.WorkflowStep) error {
	_ = ctx
	if step.Status.IsTerminal() {
		return fmt.Errorf("workflow: cannot create step %q in terminal status %s", step.ID, step.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.steps[step.ID]; exists {
		return fmt.Errorf("workflow: step %q already exists", step.ID)
	}
	s.steps[step.ID] = step
	return nil
}

func (s *MemoryStore) GetStep(ctx context.Context, id string) (contracts.WorkflowStep, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		return contracts.WorkflowStep{}, ErrNotFound
	}
	return step, nil
}

func (s *MemoryStore) Transition(ctx context.Context, stepID string, from, to contracts.StepStatus, upd Update) (bool, error) {
	_ = ctx
	if !contracts.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[stepID]
	if !ok {
		return false, ErrNotFound
	}
	if step.Status != from {
		// Lost the race; the caller re-reads to see who won.
		return false, nil
	}

	applyUpdate(&step, to, upd, s.clock())
	s.steps[stepID] = step

	if to.IsTerminal() {
		for i := range s.mappings {
			if s.mappings[i].StepID == stepID {
				s.mappings[i].Open = false
			}
		}
	}
	return true, nil
}

func (s *MemoryStore) CreateMapping(ctx context.Context, m contracts.ObjectWorkflowMapping) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mappings {
		if existing.Open && existing.ObjectType == m.ObjectType &&
			existing.ObjectID == m.ObjectID && existing.Action == m.Action {
			return fmt.Errorf("%w: %s/%s %s held by step %s", ErrConflict, m.ObjectType, m.ObjectID, m.Action, existing.StepID)
		}
	}
	m.Open = true
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock()
	}
	s.mappings = append(s.mappings, m)
	return nil
}

func (s *MemoryStore) OpenMapping(ctx context.Context, objectType contracts.ObjectType, objectID string, action contracts.StepKind) (contracts.ObjectWorkflowMapping, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.Open && m.ObjectType == objectType && m.ObjectID == objectID && m.Action == action {
			return m, nil
		}
	}
	return contracts.ObjectWorkflowMapping{}, ErrNotFound
}

func (s *MemoryStore) ListOpenSteps(ctx context.Context, tenantID string) ([]contracts.WorkflowStep, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.WorkflowStep
	for _, step := range s.steps {
		if step.TenantID == tenantID && !step.Status.IsTerminal() {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListStale(ctx context.Context, status contracts.StepStatus, cutoff time.Time) ([]contracts.WorkflowStep, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.WorkflowStep
	for _, step := range s.steps {
		if step.Status == status && step.UpdatedAt.Before(cutoff) {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

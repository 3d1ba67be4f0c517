package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/tenants"
)

// ErrQueueFull is returned when the review queue cannot take another
// job without blocking the caller.
var ErrQueueFull = errors.New("review: queue full")

// Completer terminates the workflow step associated with a finished
// review. The orchestrator implements this.
type Completer interface {
	CompleteReview(ctx context.Context, stepID string, res contracts.ReviewResult) error
}

// JobState tracks a job through the pool for status polling.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
)

// JobRecord is the registry's view of one job. Callers always receive
// a copy, never a reference into the registry.
type JobRecord struct {
	StepID     string
	TenantID   string
	State      JobState
	EnqueuedAt time.Time
	FinishedAt time.Time
	Verdict    contracts.ReviewDecision
}

// Pool is the bounded review worker pool. Workers run independently of
// request goroutines; SubmitReview never blocks. Each worker carries
// its own context and shares nothing mutable with its peers except the
// mutex-guarded job registry.
type Pool struct {
	scorer    Scorer
	completer Completer
	policies  tenants.PolicyStore

	workers int
	jobs    chan Submission

	mu       sync.Mutex
	registry map[string]*JobRecord

	horizon time.Duration
	clock   func() time.Time
	logger  *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(scorer Scorer, completer Completer, workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Pool{
		scorer:    scorer,
		completer: completer,
		workers:   workers,
		jobs:      make(chan Submission, queueDepth),
		registry:  make(map[string]*JobRecord),
		horizon:   time.Hour,
		clock:     time.Now,
		logger:    slog.Default().With("component", "review_pool"),
	}
}

// WithPolicies wires the tenant policy store; an approve verdict below
// the tenant's review confidence threshold is downgraded to
// inconclusive before it terminates the step.
func (p *Pool) WithPolicies(policies tenants.PolicyStore) *Pool {
	p.policies = policies
	return p
}

// WithHorizon sets how long finished registry entries are retained.
func (p *Pool) WithHorizon(d time.Duration) *Pool {
	p.horizon = d
	return p
}

// WithClock overrides the clock for deterministic testing.
func (p *Pool) WithClock(clock func() time.Time) *Pool {
	p.clock = clock
	return p
}

// Start launches the workers and the registry eviction loop. Stop
// drains them.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx)
		}()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.evictLoop(ctx)
	}()
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// SubmitReview enqueues a job and returns immediately. The associated
// workflow step stays in its current status until a worker terminates
// it. A full queue is reported to the caller rather than waited out.
func (p *Pool) SubmitReview(sub Submission) error {
	if sub.StepID == "" {
		return fmt.Errorf("review: submission missing step id")
	}
	p.mu.Lock()
	p.registry[sub.StepID] = &JobRecord{
		StepID:     sub.StepID,
		TenantID:   sub.TenantID,
		State:      JobQueued,
		EnqueuedAt: p.clock(),
	}
	p.mu.Unlock()

	select {
	case p.jobs <- sub:
		return nil
	default:
		p.mu.Lock()
		delete(p.registry, sub.StepID)
		p.mu.Unlock()
		return ErrQueueFull
	}
}

// Job returns a snapshot of the registry entry for a step.
func (p *Pool) Job(stepID string) (JobRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.registry[stepID]
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}

// QueueDepth reports the number of jobs waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-p.jobs:
			p.setState(sub.StepID, JobRunning)
			res := p.score(ctx, sub)
			if err := p.completer.CompleteReview(ctx, sub.StepID, res); err != nil {
				p.logger.ErrorContext(ctx, "review completion failed",
					"step_id", sub.StepID, "error", err)
			}
			p.finish(sub.StepID, res.Decision)
		}
	}
}

// score runs the scorer with panic and error containment: whatever
// goes wrong inside a worker becomes a ReviewError verdict, which
// parks the step for a human. A broken scorer must never leave a step
// stuck in_progress, and must never approve.
func (p *Pool) score(ctx context.Context, sub Submission) (res contracts.ReviewResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "review worker panicked",
				"step_id", sub.StepID, "panic", fmt.Sprint(r))
			res = contracts.ReviewResult{
				Decision: contracts.ReviewError,
				Detail:   fmt.Sprintf("review worker panicked: %v", r),
			}
		}
	}()

	out, err := p.scorer.Score(ctx, sub)
	if err != nil {
		return contracts.ReviewResult{
			Decision: contracts.ReviewError,
			Detail:   err.Error(),
		}
	}
	return p.applyThreshold(ctx, sub.TenantID, out)
}

func (p *Pool) applyThreshold(ctx context.Context, tenantID string, res contracts.ReviewResult) contracts.ReviewResult {
	if p.policies == nil || res.Decision != contracts.ReviewApprove {
		return res
	}
	policy, err := p.policies.GetPolicy(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			return res
		}
		// Policy store down: do not auto-approve on a guess.
		res.Decision = contracts.ReviewInconclusive
		res.Detail = "approval threshold unavailable: " + err.Error()
		return res
	}
	if policy.ReviewConfidenceThreshold > 0 && res.Confidence < policy.ReviewConfidenceThreshold {
		res.Decision = contracts.ReviewInconclusive
		res.Detail = fmt.Sprintf("confidence %.2f below tenant threshold %.2f",
			res.Confidence, policy.ReviewConfidenceThreshold)
	}
	return res
}

func (p *Pool) setState(stepID string, state JobState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.registry[stepID]; ok {
		rec.State = state
	}
}

func (p *Pool) finish(stepID string, verdict contracts.ReviewDecision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.registry[stepID]; ok {
		rec.State = JobDone
		rec.FinishedAt = p.clock()
		rec.Verdict = verdict
	}
}

func (p *Pool) evictLoop(ctx context.Context) {
	interval := p.horizon / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Evict()
		}
	}
}

// Evict drops finished registry entries older than the horizon,
// bounding registry memory regardless of throughput.
func (p *Pool) Evict() int {
	cutoff := p.clock().Add(-p.horizon)
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for id, rec := range p.registry {
		if rec.State == JobDone && rec.FinishedAt.Before(cutoff) {
			delete(p.registry, id)
			evicted++
		}
	}
	return evicted
}

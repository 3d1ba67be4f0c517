package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/tenants"
)

// recordingCompleter captures review completions.
type recordingCompleter struct {
	mu      sync.Mutex
	done    map[string]contracts.ReviewResult
	signal  chan string
	failFor map[string]error
}

func newRecordingCompleter() *recordingCompleter {
	return &recordingCompleter{
		done:   make(map[string]contracts.ReviewResult),
		signal: make(chan string, 16),
	}
}

func (c *recordingCompleter) CompleteReview(ctx context.Context, stepID string, res contracts.ReviewResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failFor[stepID]; err != nil {
		return err
	}
	c.done[stepID] = res
	c.signal <- stepID
	return nil
}

func (c *recordingCompleter) result(t *testing.T, stepID string) contracts.ReviewResult {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-c.signal:
			c.mu.Lock()
			res, ok := c.done[stepID]
			c.mu.Unlock()
			if ok {
				return res
			}
		case <-deadline:
			t.Fatalf("review for %s never completed", stepID)
		}
	}
}

// panicScorer simulates a broken scorer implementation.
type panicScorer struct{}

func (panicScorer) Score(ctx context.Context, sub Submission) (contracts.ReviewResult, error) {
	panic("scorer blew up")
}

// errorScorer fails cleanly.
type errorScorer struct{}

func (errorScorer) Score(ctx context.Context, sub Submission) (contracts.ReviewResult, error) {
	return contracts.ReviewResult{}, errors.New("model endpoint unreachable")
}

func creative(copy string) contracts.Creative {
	return contracts.Creative{
		ID:       "cr-1",
		TenantID: "t-1",
		Copy:     copy,
		Status:   contracts.CreativeStatusPendingReview,
	}
}

func TestHeuristicScorer(t *testing.T) {
	s := NewHeuristicScorer()
	ctx := context.Background()

	t.Run("clean copy approves", func(t *testing.T) {
		res, err := s.Score(ctx, Submission{Creative: creative("Fresh roasted coffee, delivered weekly.")})
		require.NoError(t, err)
		assert.Equal(t, contracts.ReviewApprove, res.Decision)
		assert.InDelta(t, 0.9, res.Confidence, 0.001)
	})

	t.Run("single hit is inconclusive", func(t *testing.T) {
		res, err := s.Score(ctx, Submission{Creative: creative("Try our miracle cure today")})
		require.NoError(t, err)
		assert.Equal(t, contracts.ReviewInconclusive, res.Decision)
		assert.Equal(t, []string{"prohibited_claims"}, res.Categories)
	})

	t.Run("multiple hits reject", func(t *testing.T) {
		res, err := s.Score(ctx, Submission{Creative: creative("Miracle cure, act now or lose your spot! Final notice!")})
		require.NoError(t, err)
		assert.Equal(t, contracts.ReviewReject, res.Decision)
		assert.Contains(t, res.Categories, "misleading_urgency")
		assert.Contains(t, res.Categories, "prohibited_claims")
	})

	t.Run("compatibility forms are normalized before matching", func(t *testing.T) {
		// Full-width characters must not evade the term scan.
		res, err := s.Score(ctx, Submission{Creative: creative("ｍｉｒａｃｌｅ ｃｕｒｅ")})
		require.NoError(t, err)
		assert.NotEqual(t, contracts.ReviewApprove, res.Decision)
	})

	t.Run("empty copy never auto-approves", func(t *testing.T) {
		res, err := s.Score(ctx, Submission{Creative: creative("")})
		require.NoError(t, err)
		assert.Equal(t, contracts.ReviewInconclusive, res.Decision)
	})
}

func TestPoolCompletesJobs(t *testing.T) {
	completer := newRecordingCompleter()
	pool := NewPool(NewHeuristicScorer(), completer, 2, 8)
	pool.Start(context.Background())
	defer pool.Stop()

	require.NoError(t, pool.SubmitReview(Submission{
		StepID:   "step-1",
		TenantID: "t-1",
		Creative: creative("Plain product announcement."),
	}))

	res := completer.result(t, "step-1")
	assert.Equal(t, contracts.ReviewApprove, res.Decision)

	rec, ok := pool.Job("step-1")
	require.True(t, ok)
	assert.Equal(t, JobDone, rec.State)
	assert.Equal(t, contracts.ReviewApprove, rec.Verdict)
}

func TestPoolDowngradesPanicToError(t *testing.T) {
	completer := newRecordingCompleter()
	pool := NewPool(panicScorer{}, completer, 1, 4)
	pool.Start(context.Background())
	defer pool.Stop()

	require.NoError(t, pool.SubmitReview(Submission{StepID: "step-p", TenantID: "t-1", Creative: creative("x")}))
	res := completer.result(t, "step-p")
	assert.Equal(t, contracts.ReviewError, res.Decision)
	assert.Contains(t, res.Detail, "panicked")
}

func TestPoolDowngradesScorerError(t *testing.T) {
	completer := newRecordingCompleter()
	pool := NewPool(errorScorer{}, completer, 1, 4)
	pool.Start(context.Background())
	defer pool.Stop()

	require.NoError(t, pool.SubmitReview(Submission{StepID: "step-e", TenantID: "t-1", Creative: creative("x")}))
	res := completer.result(t, "step-e")
	assert.Equal(t, contracts.ReviewError, res.Decision)
	assert.Contains(t, res.Detail, "unreachable")
}

func TestPoolQueueFull(t *testing.T) {
	completer := newRecordingCompleter()
	// No workers started: the queue only drains if someone reads it.
	pool := NewPool(NewHeuristicScorer(), completer, 1, 1)

	require.NoError(t, pool.SubmitReview(Submission{StepID: "a", Creative: creative("x")}))
	err := pool.SubmitReview(Submission{StepID: "b", Creative: creative("x")})
	require.ErrorIs(t, err, ErrQueueFull)

	// The rejected job must not linger in the registry.
	_, ok := pool.Job("b")
	assert.False(t, ok)
}

func TestPoolConfidenceThreshold(t *testing.T) {
	policies := tenants.NewMemoryStore()
	require.NoError(t, policies.PutPolicy(context.Background(), tenants.ApprovalPolicy{
		TenantID:                  "t-strict",
		ReviewConfidenceThreshold: 0.95,
	}))

	completer := newRecordingCompleter()
	pool := NewPool(NewHeuristicScorer(), completer, 1, 4).WithPolicies(policies)
	pool.Start(context.Background())
	defer pool.Stop()

	require.NoError(t, pool.SubmitReview(Submission{
		StepID:   "step-t",
		TenantID: "t-strict",
		Creative: creative("Plain product announcement."),
	}))
	res := completer.result(t, "step-t")
	assert.Equal(t, contracts.ReviewInconclusive, res.Decision)
	assert.Contains(t, res.Detail, "below tenant threshold")
}

func TestPoolEviction(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	completer := newRecordingCompleter()
	pool := NewPool(NewHeuristicScorer(), completer, 1, 4).
		WithHorizon(time.Minute).
		WithClock(clock)
	pool.Start(context.Background())

	require.NoError(t, pool.SubmitReview(Submission{StepID: "old", TenantID: "t-1", Creative: creative("x y z")}))
	completer.result(t, "old")
	pool.Stop()

	// Nothing old enough yet.
	assert.Equal(t, 0, pool.Evict())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, pool.Evict())
	_, ok := pool.Job("old")
	assert.False(t, ok)
}

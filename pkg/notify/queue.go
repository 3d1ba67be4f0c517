package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openadex/salesagent/pkg/contracts"
)

// QueuedDelivery is one scheduled webhook delivery: an event bound to
// a subscription, with the attempt counter carried across retries.
type QueuedDelivery struct {
	SubscriptionID string              `json:"subscription_id"`
	Event          contracts.StepEvent `json:"event"`
	Attempt        int                 `json:"attempt"`
}

// Queue schedules deliveries by due time. Claim hands out only entries
// whose due time has passed, and an entry is claimed by at most one
// caller.
type Queue interface {
	Enqueue(ctx context.Context, d QueuedDelivery, due time.Time) error
	Claim(ctx context.Context, now time.Time, max int) ([]QueuedDelivery, error)
	Depth(ctx context.Context) (int, error)
}

// MemoryQueue is a mutex-guarded in-process Queue.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []memoryEntry
}

type memoryEntry struct {
	delivery QueuedDelivery
	due      time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, d QueuedDelivery, due time.Time) error {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, memoryEntry{delivery: d, due: due})
	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.entries[i].due.Before(q.entries[j].due)
	})
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, now time.Time, max int) ([]QueuedDelivery, error) {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()
	var claimed []QueuedDelivery
	remaining := q.entries[:0]
	for _, e := range q.entries {
		if len(claimed) < max && !e.due.After(now) {
			claimed = append(claimed, e.delivery)
			continue
		}
		remaining = append(remaining, e)
	}
	q.entries = remaining
	return claimed, nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// deliveryQueueKey is the sorted set holding scheduled deliveries,
// scored by due time in microseconds.
const deliveryQueueKey = "salesagent:delivery_queue"

// RedisQueue schedules deliveries in a Redis sorted set so multiple
// dispatcher instances can share one backlog. ZREM after the ranged
// read is the claim: whichever instance removes the member owns it.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on the shared delivery key.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: deliveryQueueKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, d QueuedDelivery, due time.Time) error {
	member, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("notify: marshal delivery: %w", err)
	}
	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(due.UnixMicro()),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("notify: enqueue delivery: %w", err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, max int) ([]QueuedDelivery, error) {
	results, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(float64(now.UnixMicro()), 'f', -1, 64),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("notify: poll delivery queue: %w", err)
	}

	var claimed []QueuedDelivery
	for _, member := range results {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return claimed, fmt.Errorf("notify: claim delivery: %w", err)
		}
		if removed == 0 {
			// Another dispatcher instance already took this one.
			continue
		}
		var d QueuedDelivery
		if err := json.Unmarshal([]byte(member), &d); err != nil {
			return claimed, fmt.Errorf("notify: corrupt queued delivery: %w", err)
		}
		claimed = append(claimed, d)
	}
	return claimed, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("notify: queue depth: %w", err)
	}
	return int(n), nil
}

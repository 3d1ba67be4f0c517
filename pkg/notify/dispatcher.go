package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/openadex/salesagent/pkg/contracts"
)

// Backoff computes retry delays: exponential doubling from Base,
// capped at Cap. Delays are non-decreasing across attempts.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the delivery contract: quick first retry,
// capped growth, bounded total attempts.
var DefaultBackoff = Backoff{
	Base:        2 * time.Second,
	Cap:         5 * time.Minute,
	MaxAttempts: 6,
}

// Delay returns the wait before the attempt numbered next (2 = first
// retry). Attempts at or below 1 get the base delay.
func (b Backoff) Delay(next int) time.Duration {
	d := b.Base
	for i := 2; i < next; i++ {
		if d >= b.Cap/2 {
			return b.Cap
		}
		d *= 2
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Dispatcher fans a terminal step event out to the tenant's active
// subscriptions and drives scheduled deliveries to completion. It is
// the orchestrator's Notifier: EnqueueStepEvent never blocks on and
// never reports delivery problems, because notification failure must
// not affect the order outcome.
type Dispatcher struct {
	subs      SubscriptionStore
	queue     Queue
	deliverer *Deliverer
	recorder  Recorder
	backoff   Backoff

	pollInterval time.Duration
	batchSize    int
	clock        func() time.Time
	logger       *slog.Logger
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(subs SubscriptionStore, queue Queue, deliverer *Deliverer, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		subs:         subs,
		queue:        queue,
		deliverer:    deliverer,
		recorder:     recorder,
		backoff:      DefaultBackoff,
		pollInterval: 250 * time.Millisecond,
		batchSize:    16,
		clock:        time.Now,
		logger:       slog.Default().With("component", "dispatcher"),
	}
}

// WithBackoff overrides the retry policy.
func (d *Dispatcher) WithBackoff(b Backoff) *Dispatcher {
	d.backoff = b
	return d
}

// WithPollInterval sets how often Run checks for due deliveries.
func (d *Dispatcher) WithPollInterval(interval time.Duration) *Dispatcher {
	d.pollInterval = interval
	return d
}

// WithClock overrides the clock for deterministic testing.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// EnqueueStepEvent schedules the event for every matching active
// subscription of the tenant. Called by the terminal-transition winner
// exactly once per transition.
func (d *Dispatcher) EnqueueStepEvent(ctx context.Context, event contracts.StepEvent) {
	subs, err := d.subs.ListActive(ctx, event.TenantID)
	if err != nil {
		d.logger.ErrorContext(ctx, "subscription lookup failed",
			"tenant_id", event.TenantID, "event_id", event.ID, "error", err)
		return
	}
	now := d.clock()
	queued := 0
	for _, sub := range subs {
		if !sub.Wants(event.Type) {
			continue
		}
		delivery := QueuedDelivery{SubscriptionID: sub.ID, Event: event, Attempt: 1}
		if err := d.queue.Enqueue(ctx, delivery, now); err != nil {
			d.logger.ErrorContext(ctx, "enqueue failed",
				"subscription_id", sub.ID, "event_id", event.ID, "error", err)
			continue
		}
		queued++
	}
	if queued > 0 {
		d.logger.InfoContext(ctx, "event fanned out",
			"event_id", event.ID, "type", string(event.Type), "deliveries_queued", queued)
	}
}

// Run polls for due deliveries until the context is cancelled. Retry
// waits are realized as future due times in the queue, never as sleeps
// holding a worker.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.ProcessDue(ctx); err != nil {
				d.logger.ErrorContext(ctx, "delivery poll failed", "error", err)
			}
		}
	}
}

// ProcessDue claims and delivers everything currently due, and returns
// how many deliveries were attempted.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	due, err := d.queue.Claim(ctx, d.clock(), d.batchSize)
	if err != nil {
		return 0, err
	}
	for _, delivery := range due {
		d.process(ctx, delivery)
	}
	return len(due), nil
}

func (d *Dispatcher) process(ctx context.Context, delivery QueuedDelivery) {
	sub, err := d.subs.Get(ctx, delivery.SubscriptionID)
	if err != nil {
		if d.recorder != nil {
			d.recorder.Record(DeliveryAttempt{
				SubscriptionID: delivery.SubscriptionID,
				EventID:        delivery.Event.ID,
				Attempt:        delivery.Attempt,
				Outcome:        OutcomeClientError,
				At:             d.clock(),
				Detail:         "subscription no longer resolvable: " + err.Error(),
			})
		}
		d.logger.WarnContext(ctx, "subscription vanished",
			"subscription_id", delivery.SubscriptionID, "event_id", delivery.Event.ID, "error", err)
		return
	}

	outcome := d.deliverer.Deliver(ctx, sub, delivery.Event, delivery.Attempt)
	if outcome.Terminal() {
		return
	}

	next := delivery.Attempt + 1
	if next > d.backoff.MaxAttempts {
		if d.recorder != nil {
			d.recorder.Record(DeliveryAttempt{
				SubscriptionID: sub.ID,
				EventID:        delivery.Event.ID,
				Attempt:        delivery.Attempt,
				Outcome:        OutcomeMaxRetries,
				At:             d.clock(),
				Detail:         "retry budget exhausted",
			})
		}
		d.logger.WarnContext(ctx, "delivery abandoned",
			"subscription_id", sub.ID, "event_id", delivery.Event.ID, "attempts", delivery.Attempt)
		return
	}

	delivery.Attempt = next
	due := d.clock().Add(d.backoff.Delay(next))
	if err := d.queue.Enqueue(ctx, delivery, due); err != nil {
		d.logger.ErrorContext(ctx, "requeue failed",
			"subscription_id", sub.ID, "event_id", delivery.Event.ID, "error", err)
	}
}

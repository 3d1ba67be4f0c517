package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openadex/salesagent/pkg/contracts"
)

// Deliverer performs one webhook POST and classifies the outcome.
// Retry scheduling lives in the Dispatcher; the deliverer never waits
// out a backoff itself.
type Deliverer struct {
	client   *http.Client
	signer   *Signer
	recorder Recorder
	logger   *slog.Logger

	// One limiter per endpoint host, so a slow subscriber cannot eat
	// the whole pool's throughput.
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
	perHost    rate.Limit
	burst      int

	clock func() time.Time
}

// NewDeliverer creates a deliverer with a bounded HTTP client.
func NewDeliverer(signer *Signer, recorder Recorder) *Deliverer {
	return &Deliverer{
		client:   &http.Client{Timeout: 10 * time.Second},
		signer:   signer,
		recorder: recorder,
		logger:   slog.Default().With("component", "deliverer"),
		limiters: make(map[string]*rate.Limiter),
		perHost:  rate.Limit(20),
		burst:    10,
		clock:    time.Now,
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func (d *Deliverer) WithHTTPClient(c *http.Client) *Deliverer {
	d.client = c
	return d
}

// WithHostRate sets the per-endpoint-host rate limit.
func (d *Deliverer) WithHostRate(limit rate.Limit, burst int) *Deliverer {
	d.perHost = limit
	d.burst = burst
	return d
}

// WithClock overrides the clock for deterministic testing.
func (d *Deliverer) WithClock(clock func() time.Time) *Deliverer {
	d.clock = clock
	return d
}

// Deliver POSTs the event to the subscription and returns the outcome
// classification. Every attempt is recorded, including ones that never
// reach the network.
func (d *Deliverer) Deliver(ctx context.Context, sub Subscription, event contracts.StepEvent, attempt int) Outcome {
	start := d.clock()

	if err := sub.Validate(); err != nil {
		d.record(sub, event, attempt, OutcomeValidationFailed, 0, start, err.Error())
		return OutcomeValidationFailed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.record(sub, event, attempt, OutcomeValidationFailed, 0, start, "marshal event: "+err.Error())
		return OutcomeValidationFailed
	}
	signature, err := d.signer.Sign(sub.ID, payload)
	if err != nil {
		d.record(sub, event, attempt, OutcomeValidationFailed, 0, start, err.Error())
		return OutcomeValidationFailed
	}

	if err := d.limiterFor(sub.URL).Wait(ctx); err != nil {
		d.record(sub, event, attempt, OutcomeTransient, 0, start, "rate limit wait: "+err.Error())
		return OutcomeTransient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.record(sub, event, attempt, OutcomeValidationFailed, 0, start, err.Error())
		return OutcomeValidationFailed
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set("X-Sales-Event", string(event.Type))
	req.Header.Set("X-Sales-Delivery", event.ID)
	req.Header.Set("X-Sales-Attempt", strconv.Itoa(attempt))

	resp, err := d.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient: the step's
		// outcome is settled, only the telling of it is retried.
		d.record(sub, event, attempt, OutcomeTransient, 0, start, err.Error())
		return OutcomeTransient
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	outcome := classify(resp.StatusCode)
	d.record(sub, event, attempt, outcome, resp.StatusCode, start, "")
	return outcome
}

// classify maps an HTTP status to the delivery taxonomy: 2xx done,
// 4xx permanently refused, everything else worth another try.
func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status >= 400 && status < 500:
		return OutcomeClientError
	default:
		return OutcomeTransient
	}
}

func (d *Deliverer) limiterFor(rawURL string) *rate.Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(d.perHost, d.burst)
		d.limiters[host] = l
	}
	return l
}

func (d *Deliverer) record(sub Subscription, event contracts.StepEvent, attempt int, outcome Outcome, status int, start time.Time, detail string) {
	a := DeliveryAttempt{
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		Attempt:        attempt,
		Outcome:        outcome,
		StatusCode:     status,
		Latency:        d.clock().Sub(start),
		At:             start,
		Detail:         detail,
	}
	if d.recorder != nil {
		d.recorder.Record(a)
	}
	level := slog.LevelInfo
	if outcome != OutcomeSuccess {
		level = slog.LevelWarn
	}
	d.logger.Log(context.Background(), level, "delivery attempt",
		"subscription_id", sub.ID,
		"event_id", event.ID,
		"attempt", attempt,
		"outcome", string(outcome),
		"status_code", status,
		"latency_ms", a.Latency.Milliseconds(),
	)
}

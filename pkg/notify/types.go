// Package notify delivers webhook callbacks for workflow-step terminal
// transitions. Delivery failures stay inside this package: a completed
// order stays completed even if every attempt at telling the world
// about it fails.
package notify

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/openadex/salesagent/pkg/contracts"
)

// Subscription is a registered callback URL scoped to a tenant.
// Created out-of-band by the caller; the dispatcher only reads it.
type Subscription struct {
	ID       string                `json:"id"`
	TenantID string                `json:"tenant_id"`
	URL      string                `json:"url"`
	// EventTypes filters delivery; empty means every event.
	EventTypes []contracts.EventType `json:"event_types,omitempty"`
	Active     bool                  `json:"active"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Validate checks the subscription before any network attempt is made.
func (s Subscription) Validate() error {
	if !s.Active {
		return fmt.Errorf("notify: subscription %s is inactive", s.ID)
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("notify: subscription %s has malformed url: %w", s.ID, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notify: subscription %s url %q is not an absolute http(s) url", s.ID, s.URL)
	}
	return nil
}

// Wants reports whether the subscription's filter admits the event.
func (s Subscription) Wants(t contracts.EventType) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, et := range s.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Outcome classifies one delivery attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeClientError      Outcome = "client_error"
	OutcomeTransient        Outcome = "transient"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeMaxRetries       Outcome = "max_retries_exceeded"
)

// Terminal reports whether the outcome ends the delivery; transient is
// the only retryable classification.
func (o Outcome) Terminal() bool {
	return o != OutcomeTransient
}

// DeliveryAttempt records one webhook POST attempt, kept for
// operational visibility only.
type DeliveryAttempt struct {
	SubscriptionID string        `json:"subscription_id"`
	EventID        string        `json:"event_id"`
	Attempt        int           `json:"attempt"`
	Outcome        Outcome       `json:"outcome"`
	StatusCode     int           `json:"status_code,omitempty"`
	Latency        time.Duration `json:"latency"`
	At             time.Time     `json:"at"`
	Detail         string        `json:"detail,omitempty"`
}

// Recorder receives every delivery attempt regardless of outcome.
type Recorder interface {
	Record(a DeliveryAttempt)
}

// MemoryRecorder keeps the most recent attempts up to a fixed cap.
type MemoryRecorder struct {
	mu       sync.Mutex
	attempts []DeliveryAttempt
	cap      int
}

// NewMemoryRecorder creates a recorder retaining at most capacity
// attempts; older ones are dropped first.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryRecorder{cap: capacity}
}

func (r *MemoryRecorder) Record(a DeliveryAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	if len(r.attempts) > r.cap {
		r.attempts = r.attempts[len(r.attempts)-r.cap:]
	}
}

// Attempts returns a copy of the retained attempts, oldest first.
func (r *MemoryRecorder) Attempts() []DeliveryAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeliveryAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

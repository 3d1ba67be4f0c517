package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("notify: not found")

// SubscriptionStore persists callback registrations. The dispatcher
// only ever reads; mutation happens through the API surface.
type SubscriptionStore interface {
	Create(ctx context.Context, sub Subscription) error
	Get(ctx context.Context, id string) (Subscription, error)
	// ListActive returns the tenant's active subscriptions.
	ListActive(ctx context.Context, tenantID string) ([]Subscription, error)
	Deactivate(ctx context.Context, id string) error
}

// MemorySubscriptionStore is a mutex-guarded in-memory store for tests
// and single-process development.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

// NewMemorySubscriptionStore creates an empty store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]Subscription)}
}

func (s *MemorySubscriptionStore) Create(ctx context.Context, sub Subscription) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.ID]; exists {
		return fmt.Errorf("notify: subscription %s already exists", sub.ID)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s.subs[sub.ID] = sub
	return nil
}

func (s *MemorySubscriptionStore) Get(ctx context.Context, id string) (Subscription, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *MemorySubscriptionStore) ListActive(ctx context.Context, tenantID string) ([]Subscription, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Subscription
	for _, sub := range s.subs {
		if sub.TenantID == tenantID && sub.Active {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *MemorySubscriptionStore) Deactivate(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Active = false
	s.subs[id] = sub
	return nil
}

// SQLSubscriptionStore is the database/sql implementation, one dialect
// for both Postgres and SQLite.
type SQLSubscriptionStore struct {
	db *sql.DB
}

// NewSQLSubscriptionStore wraps an opened database handle.
func NewSQLSubscriptionStore(db *sql.DB) *SQLSubscriptionStore {
	return &SQLSubscriptionStore{db: db}
}

var schemaStatements = []string{`
CREATE TABLE IF NOT EXISTS notification_subscriptions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	url TEXT NOT NULL,
	event_types_json TEXT,
	active BOOLEAN NOT NULL,
	created_at TIMESTAMP NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS ix_subscriptions_tenant
	ON notification_subscriptions (tenant_id, active)`}

// Init creates the schema. Safe to call repeatedly.
func (s *SQLSubscriptionStore) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("notify schema init: %w", err)
		}
	}
	return nil
}

func (s *SQLSubscriptionStore) Create(ctx context.Context, sub Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	var eventTypes sql.NullString
	if len(sub.EventTypes) > 0 {
		b, err := json.Marshal(sub.EventTypes)
		if err != nil {
			return fmt.Errorf("notify: marshal event types: %w", err)
		}
		eventTypes = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_subscriptions (id, tenant_id, url, event_types_json, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.TenantID, sub.URL, eventTypes, sub.Active, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("notify: insert subscription: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, tenant_id, url, event_types_json, active, created_at`

func (s *SQLSubscriptionStore) Get(ctx context.Context, id string) (Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM notification_subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, err
	}
	return sub, nil
}

func (s *SQLSubscriptionStore) ListActive(ctx context.Context, tenantID string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM notification_subscriptions
		 WHERE tenant_id = $1 AND active`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("notify: list subscriptions: %w", err)
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLSubscriptionStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_subscriptions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("notify: deactivate subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("notify: deactivate subscription: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (Subscription, error) {
	var sub Subscription
	var eventTypes sql.NullString
	if err := row.Scan(&sub.ID, &sub.TenantID, &sub.URL, &eventTypes, &sub.Active, &sub.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, err
		}
		return Subscription{}, fmt.Errorf("notify: scan subscription: %w", err)
	}
	if eventTypes.Valid && eventTypes.String != "" {
		if err := json.Unmarshal([]byte(eventTypes.String), &sub.EventTypes); err != nil {
			return Subscription{}, fmt.Errorf("notify: corrupt event types for %s: %w", sub.ID, err)
		}
	}
	return sub, nil
}

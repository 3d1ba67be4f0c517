package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a tenant or policy does not exist.
var ErrNotFound = errors.New("tenants: not found")

// PolicyStore serves approval policies to the orchestrator, read-only
// on the request path.
type PolicyStore interface {
	// GetPolicy returns the tenant's approval policy, or ErrNotFound
	// when the tenant has none configured.
	GetPolicy(ctx context.Context, tenantID string) (ApprovalPolicy, error)
}

// Store persists tenants and their policies.
type Store interface {
	PolicyStore
	GetTenant(ctx context.Context, id string) (Tenant, error)
	PutTenant(ctx context.Context, t Tenant) error
	PutPolicy(ctx context.Context, p ApprovalPolicy) error
}

// MemoryStore is a mutex-guarded in-memory Store for tests and
// single-process development.
type MemoryStore struct {
	mu       sync.RWMutex
	tenants  map[string]Tenant
	policies map[string]ApprovalPolicy
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  make(map[string]Tenant),
		policies: make(map[string]ApprovalPolicy),
	}
}

func (s *MemoryStore) GetTenant(ctx context.Context, id string) (Tenant, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) PutTenant(ctx context.Context, t Tenant) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.tenants[t.ID] = t
	return nil
}

func (s *MemoryStore) GetPolicy(ctx context.Context, tenantID string) (ApprovalPolicy, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[tenantID]
	if !ok {
		return ApprovalPolicy{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) PutPolicy(ctx context.Context, p ApprovalPolicy) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.TenantID] = p
	return nil
}

// SQLStore is the database/sql implementation, one dialect for both
// Postgres and SQLite. Policies are stored as a JSON document per
// tenant; they are small, read-heavy, and fetched whole.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an opened database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

var schemaStatements = []string{`
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	metadata_json TEXT
)`, `
CREATE TABLE IF NOT EXISTS approval_policies (
	tenant_id TEXT PRIMARY KEY,
	policy_json TEXT NOT NULL
)`}

// Init creates the schema. Safe to call repeatedly.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("tenants schema init: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) GetTenant(ctx context.Context, id string) (Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at, metadata_json FROM tenants WHERE id = $1`, id)
	var t Tenant
	var status string
	var metadata sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &status, &t.CreatedAt, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("tenants: scan tenant: %w", err)
	}
	t.Status = Status(status)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
			return Tenant{}, fmt.Errorf("tenants: corrupt metadata for %s: %w", id, err)
		}
	}
	return t, nil
}

func (s *SQLStore) PutTenant(ctx context.Context, t Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var metadata sql.NullString
	if t.Metadata != nil {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("tenants: marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, status, created_at, metadata_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = $2, status = $3, metadata_json = $5
	`, t.ID, t.Name, string(t.Status), t.CreatedAt, metadata)
	if err != nil {
		return fmt.Errorf("tenants: upsert tenant: %w", err)
	}
	return nil
}

func (s *SQLStore) GetPolicy(ctx context.Context, tenantID string) (ApprovalPolicy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT policy_json FROM approval_policies WHERE tenant_id = $1`, tenantID)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ApprovalPolicy{}, ErrNotFound
		}
		return ApprovalPolicy{}, fmt.Errorf("tenants: scan policy: %w", err)
	}
	var p ApprovalPolicy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return ApprovalPolicy{}, fmt.Errorf("tenants: corrupt policy for %s: %w", tenantID, err)
	}
	p.TenantID = tenantID
	return p, nil
}

func (s *SQLStore) PutPolicy(ctx context.Context, p ApprovalPolicy) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("tenants: marshal policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_policies (tenant_id, policy_json)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET policy_json = $2
	`, p.TenantID, string(b))
	if err != nil {
		return fmt.Errorf("tenants: upsert policy: %w", err)
	}
	return nil
}

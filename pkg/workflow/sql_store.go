package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openadex/salesagent/pkg/contracts"
)

// SQLStore implements Store using database/sql. It supports both
// Postgres (lib/pq) and SQLite (modernc.org/sqlite) with one dialect:
// $1 placeholders, TEXT/TIMESTAMP columns, and a partial unique index
// enforcing mapping exclusivity at the schema level.
type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLStore wraps an opened database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *SQLStore) WithClock(clock func() time.Time) *SQLStore {
	s.clock = clock
	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS workflow_steps (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	object_type TEXT NOT NULL,
	object_id TEXT NOT NULL,
	backend TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	tracking_token TEXT NOT NULL DEFAULT '',
	decision_json TEXT,
	annotation TEXT NOT NULL DEFAULT '',
	result_json TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_steps_tenant_status ON workflow_steps (tenant_id, status);

CREATE TABLE IF NOT EXISTS object_workflow_mappings (
	object_type TEXT NOT NULL,
	object_id TEXT NOT NULL,
	action TEXT NOT NULL,
	step_id TEXT NOT NULL,
	open BOOLEAN NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_open_mapping
	ON object_workflow_mappings (object_type, object_id, action)
	WHERE open;
`

// Init creates the schema. Safe to call repeatedly.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("workflow schema init: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) CreateStep(ctx context.Context, step contracts.WorkflowStep) error {
	if step.Status.IsTerminal() {
		return fmt.Errorf("workflow: cannot create step %q in terminal status %s", step.ID, step.Status)
	}
	decisionJSON, resultJSON, err := marshalStepJSON(step)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO workflow_steps
			(id, tenant_id, kind, object_type, object_id, backend, status,
			 idempotency_key, tracking_token, decision_json, annotation,
			 result_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		step.ID, step.TenantID, string(step.Kind), string(step.ObjectType), step.ObjectID,
		step.Backend, string(step.Status), step.IdempotencyKey, step.TrackingToken,
		decisionJSON, step.Annotation, resultJSON, step.CreatedAt, step.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("workflow: insert step: %w", err)
	}
	return nil
}

const stepColumns = `id, tenant_id, kind, object_type, object_id, backend,
	status, idempotency_key, tracking_token, decision_json, annotation,
	result_json, created_at, updated_at`

func (s *SQLStore) GetStep(ctx context.Context, id string) (contracts.WorkflowStep, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE id = $1`, id)
	return scanStep(row)
}

func (s *SQLStore) Transition(ctx context.Context, stepID string, from, to contracts.StepStatus, upd Update) (bool, error) {
	if !contracts.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("workflow: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE id = $1`, stepID)
	step, err := scanStep(row)
	if err != nil {
		return false, err
	}
	if step.Status != from {
		// Lost the race; no write, no error.
		return false, nil
	}

	applyUpdate(&step, to, upd, s.clock())
	decisionJSON, resultJSON, err := marshalStepJSON(step)
	if err != nil {
		return false, err
	}

	// The WHERE status clause is the compare-and-set: a concurrent
	// transition that committed between our read and this write makes
	// RowsAffected zero and we report a lost race.
	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = $1, tracking_token = $2, decision_json = $3,
		    annotation = $4, result_json = $5, updated_at = $6
		WHERE id = $7 AND status = $8
	`, string(step.Status), step.TrackingToken, decisionJSON,
		step.Annotation, resultJSON, step.UpdatedAt, stepID, string(from))
	if err != nil {
		return false, fmt.Errorf("workflow: transition update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("workflow: transition rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if to.IsTerminal() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE object_workflow_mappings SET open = FALSE WHERE step_id = $1 AND open`,
			stepID); err != nil {
			return false, fmt.Errorf("workflow: close mappings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("workflow: commit transition: %w", err)
	}
	return true, nil
}

func (s *SQLStore) CreateMapping(ctx context.Context, m contracts.ObjectWorkflowMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO object_workflow_mappings
			(object_type, object_id, action, step_id, open, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
	`, string(m.ObjectType), m.ObjectID, string(m.Action), m.StepID, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s %s", ErrConflict, m.ObjectType, m.ObjectID, m.Action)
		}
		return fmt.Errorf("workflow: insert mapping: %w", err)
	}
	return nil
}

func (s *SQLStore) OpenMapping(ctx context.Context, objectType contracts.ObjectType, objectID string, action contracts.StepKind) (contracts.ObjectWorkflowMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT object_type, object_id, action, step_id, open, created_at
		FROM object_workflow_mappings
		WHERE object_type = $1 AND object_id = $2 AND action = $3 AND open
	`, string(objectType), objectID, string(action))

	var m contracts.ObjectWorkflowMapping
	var objType, act string
	err := row.Scan(&objType, &m.ObjectID, &act, &m.StepID, &m.Open, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.ObjectWorkflowMapping{}, ErrNotFound
		}
		return contracts.ObjectWorkflowMapping{}, fmt.Errorf("workflow: scan mapping: %w", err)
	}
	m.ObjectType = contracts.ObjectType(objType)
	m.Action = contracts.StepKind(act)
	return m, nil
}

func (s *SQLStore) ListOpenSteps(ctx context.Context, tenantID string) ([]contracts.WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_steps
		WHERE tenant_id = $1 AND status NOT IN ('completed', 'failed', 'rejected')
		ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("workflow: list open steps: %w", err)
	}
	return collectSteps(rows)
}

func (s *SQLStore) ListStale(ctx context.Context, status contracts.StepStatus, cutoff time.Time) ([]contracts.WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM workflow_steps
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`, string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("workflow: list stale steps: %w", err)
	}
	return collectSteps(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (contracts.WorkflowStep, error) {
	var step contracts.WorkflowStep
	var kind, objType, status string
	var decisionJSON, resultJSON sql.NullString
	err := row.Scan(&step.ID, &step.TenantID, &kind, &objType, &step.ObjectID,
		&step.Backend, &status, &step.IdempotencyKey, &step.TrackingToken,
		&decisionJSON, &step.Annotation, &resultJSON,
		&step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.WorkflowStep{}, ErrNotFound
		}
		return contracts.WorkflowStep{}, fmt.Errorf("workflow: scan step: %w", err)
	}
	step.Kind = contracts.StepKind(kind)
	step.ObjectType = contracts.ObjectType(objType)
	step.Status = contracts.StepStatus(status)

	if decisionJSON.Valid && decisionJSON.String != "" {
		var d contracts.Decision
		if err := json.Unmarshal([]byte(decisionJSON.String), &d); err != nil {
			return contracts.WorkflowStep{}, fmt.Errorf("workflow: corrupt decision JSON on step %s: %w", step.ID, err)
		}
		step.Decision = &d
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var r contracts.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &r); err != nil {
			return contracts.WorkflowStep{}, fmt.Errorf("workflow: corrupt result JSON on step %s: %w", step.ID, err)
		}
		step.Result = &r
	}
	return step, nil
}

func collectSteps(rows *sql.Rows) ([]contracts.WorkflowStep, error) {
	defer func() { _ = rows.Close() }()
	var out []contracts.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow: iterate steps: %w", err)
	}
	return out, nil
}

func marshalStepJSON(step contracts.WorkflowStep) (decision, result sql.NullString, err error) {
	if step.Decision != nil {
		b, merr := json.Marshal(step.Decision)
		if merr != nil {
			return decision, result, fmt.Errorf("workflow: marshal decision: %w", merr)
		}
		decision = sql.NullString{String: string(b), Valid: true}
	}
	if step.Result != nil {
		b, merr := json.Marshal(step.Result)
		if merr != nil {
			return decision, result, fmt.Errorf("workflow: marshal result: %w", merr)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}
	return decision, result, nil
}

// isUniqueViolation detects a unique-index violation across both
// supported drivers without importing their error types.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/core/ports"
)

const uniqueViolation = "23505"

// WorkflowRepository is the workflow instance store. The partial unique
// index on (document_ref, workflow_type) over non-terminal rows enforces
// the single-active-workflow contract at the storage level.
type WorkflowRepository struct {
	db *sql.DB
	// reviewType is excluded from "open review exists" checks in the due
	// review query.
	reviewType string
}

func NewWorkflowRepository(db *sql.DB, reviewWorkflowType string) *WorkflowRepository {
	if reviewWorkflowType == "" {
		reviewWorkflowType = "periodic_review"
	}
	return &WorkflowRepository{db: db, reviewType: reviewWorkflowType}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *WorkflowRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/scheduler startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026070401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS document_workflows (
	id TEXT PRIMARY KEY,
	document_ref TEXT NOT NULL,
	workflow_type TEXT NOT NULL,
	current_state TEXT NOT NULL,
	assignee TEXT NOT NULL DEFAULT '',
	due_date TIMESTAMPTZ,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	is_terminal BOOLEAN NOT NULL DEFAULT FALSE,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_one_active
	ON document_workflows(document_ref, workflow_type) WHERE NOT is_terminal;
CREATE INDEX IF NOT EXISTS idx_workflows_state_due ON document_workflows(current_state, due_date);
CREATE INDEX IF NOT EXISTS idx_workflows_document ON document_workflows(document_ref);

CREATE TABLE IF NOT EXISTS document_transitions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES document_workflows(id),
	document_ref TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	actor TEXT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	transition_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_workflow ON document_transitions(workflow_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_transitions_document ON document_transitions(document_ref, occurred_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *domain.DocumentWorkflow) error {
	metaJSON, err := json.Marshal(orEmpty(wf.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO document_workflows (
	id, document_ref, workflow_type, current_state, assignee, due_date, metadata, is_terminal, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		wf.ID, wf.DocumentRef, wf.WorkflowType, string(wf.CurrentState), wf.Assignee, wf.DueDate,
		metaJSON, wf.Terminal, wf.Version, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: document %s already has an active %s workflow",
				domain.ErrAlreadyActive, wf.DocumentRef, wf.WorkflowType)
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

const workflowColumns = `id, document_ref, workflow_type, current_state, assignee, due_date, metadata, is_terminal, version, created_at, updated_at`

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*domain.DocumentWorkflow, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+workflowColumns+`
FROM document_workflows
WHERE id = $1
`, id)

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id=%s", domain.ErrWorkflowNotFound, id)
		}
		return nil, fmt.Errorf("get workflow by id: %w", err)
	}
	return &wf, nil
}

func (r *WorkflowRepository) GetActiveByDocument(ctx context.Context, documentRef, workflowType string) (*domain.DocumentWorkflow, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+workflowColumns+`
FROM document_workflows
WHERE document_ref = $1 AND workflow_type = $2 AND NOT is_terminal
`, documentRef, workflowType)

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active %s workflow for document %s",
				domain.ErrWorkflowNotFound, workflowType, documentRef)
		}
		return nil, fmt.Errorf("get active workflow: %w", err)
	}
	return &wf, nil
}

func (r *WorkflowRepository) LatestByDocumentAndType(ctx context.Context, documentRef, workflowType string) (*domain.DocumentWorkflow, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+workflowColumns+`
FROM document_workflows
WHERE document_ref = $1 AND workflow_type = $2
ORDER BY created_at DESC, id DESC
LIMIT 1
`, documentRef, workflowType)

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no %s workflow for document %s",
				domain.ErrWorkflowNotFound, workflowType, documentRef)
		}
		return nil, fmt.Errorf("get latest workflow: %w", err)
	}
	return &wf, nil
}

func (r *WorkflowRepository) ListActiveByDocument(ctx context.Context, documentRef string) ([]domain.DocumentWorkflow, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+workflowColumns+`
FROM document_workflows
WHERE document_ref = $1 AND NOT is_terminal
ORDER BY created_at
`, documentRef)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	return collectWorkflows(rows)
}

// ApplyTransition performs the atomic unit of a state change: the guarded
// workflow update and the audit insert commit together or not at all.
func (r *WorkflowRepository) ApplyTransition(ctx context.Context, params ports.ApplyTransitionParams) (*domain.DocumentTransition, error) {
	patchJSON, err := json.Marshal(orEmpty(params.MetadataPatch))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata patch: %w", err)
	}
	dataJSON, err := json.Marshal(orEmpty(params.Transition.TransitionData))
	if err != nil {
		return nil, fmt.Errorf("marshal transition data: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE document_workflows
SET current_state = $4,
	is_terminal = $5,
	assignee = COALESCE($6, assignee),
	due_date = COALESCE($7, due_date),
	metadata = jsonb_strip_nulls(metadata || $8::jsonb),
	version = version + 1,
	updated_at = $9
WHERE id = $1 AND current_state = $2 AND version = $3
`,
		params.WorkflowID, string(params.ExpectedState), params.ExpectedVersion,
		string(params.ToState), params.ToTerminal, params.Assignee, params.DueDate,
		patchJSON, params.Transition.OccurredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update workflow state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update workflow rows affected: %w", err)
	}
	if affected == 0 {
		return nil, r.classifyMissedUpdate(ctx, params.WorkflowID)
	}

	t := params.Transition
	_, err = tx.ExecContext(ctx, `
INSERT INTO document_transitions (
	id, workflow_id, document_ref, from_state, to_state, actor, comment, transition_data, occurred_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		t.ID, t.WorkflowID, t.DocumentRef, string(t.FromState), string(t.ToState),
		t.Actor, t.Comment, dataJSON, t.OccurredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition tx: %w", err)
	}
	return &t, nil
}

func (r *WorkflowRepository) PatchMetadata(ctx context.Context, workflowID string, expectedVersion int64, patch map[string]any) error {
	patchJSON, err := json.Marshal(orEmpty(patch))
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE document_workflows
SET metadata = jsonb_strip_nulls(metadata || $3::jsonb),
	version = version + 1,
	updated_at = $4
WHERE id = $1 AND version = $2
`, workflowID, expectedVersion, patchJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("patch workflow metadata: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("patch metadata rows affected: %w", err)
	}
	if affected == 0 {
		return r.classifyMissedUpdate(ctx, workflowID)
	}
	return nil
}

// classifyMissedUpdate distinguishes a vanished row from a concurrent
// writer having bumped the version.
func (r *WorkflowRepository) classifyMissedUpdate(ctx context.Context, workflowID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM document_workflows WHERE id = $1`, workflowID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id=%s", domain.ErrWorkflowNotFound, workflowID)
	}
	if err != nil {
		return fmt.Errorf("check workflow existence: %w", err)
	}
	return fmt.Errorf("%w: id=%s", domain.ErrVersionConflict, workflowID)
}

func (r *WorkflowRepository) ListDueEffective(ctx context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+workflowColumns+`
FROM document_workflows
WHERE current_state = $1 AND due_date IS NOT NULL AND due_date <= $2 AND NOT is_terminal
ORDER BY due_date
LIMIT $3
`, string(domain.StateApprovedPendingEffective), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due effective: %w", err)
	}
	return collectWorkflows(rows)
}

func (r *WorkflowRepository) ListDueObsolescence(ctx context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+workflowColumns+`
FROM document_workflows
WHERE current_state = $1
	AND metadata ? 'obsolete_at'
	AND (metadata->>'obsolete_at')::timestamptz <= $2
	AND NOT is_terminal
ORDER BY (metadata->>'obsolete_at')::timestamptz
LIMIT $3
`, string(domain.StateEffective), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due obsolescence: %w", err)
	}
	return collectWorkflows(rows)
}

func (r *WorkflowRepository) ListDueReview(ctx context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+workflowColumns+`
FROM document_workflows w
WHERE w.current_state = $1
	AND w.metadata ? 'next_review_at'
	AND (w.metadata->>'next_review_at')::timestamptz <= $2
	AND NOT w.is_terminal
	AND NOT EXISTS (
		SELECT 1 FROM document_workflows r
		WHERE r.document_ref = w.document_ref AND r.workflow_type = $3 AND NOT r.is_terminal
	)
ORDER BY (w.metadata->>'next_review_at')::timestamptz
LIMIT $4
`, string(domain.StateEffective), now, r.reviewType, limit)
	if err != nil {
		return nil, fmt.Errorf("list due review: %w", err)
	}
	return collectWorkflows(rows)
}

func (r *WorkflowRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+workflowColumns+`
FROM document_workflows
WHERE NOT is_terminal
	AND due_date IS NOT NULL AND due_date <= $1
	AND current_state <> $2
ORDER BY due_date
LIMIT $3
`, now, string(domain.StateApprovedPendingEffective), limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	return collectWorkflows(rows)
}

const transitionColumns = `id, workflow_id, document_ref, from_state, to_state, actor, comment, transition_data, occurred_at`

func (r *WorkflowRepository) ListTransitionsByWorkflow(ctx context.Context, workflowID string) ([]domain.DocumentTransition, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+transitionColumns+`
FROM document_transitions
WHERE workflow_id = $1
ORDER BY occurred_at, id
`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list transitions by workflow: %w", err)
	}
	return collectTransitions(rows)
}

func (r *WorkflowRepository) ListTransitionsByDocument(ctx context.Context, documentRef string, filter domain.AuditFilter) ([]domain.DocumentTransition, error) {
	query := `
SELECT ` + transitionColumns + `
FROM document_transitions
WHERE document_ref = $1
`
	args := []any{documentRef}
	if filter.Actor != "" {
		args = append(args, filter.Actor)
		query += fmt.Sprintf("AND actor = $%d\n", len(args))
	}
	if filter.FromState != "" {
		args = append(args, string(filter.FromState))
		query += fmt.Sprintf("AND from_state = $%d\n", len(args))
	}
	if filter.ToState != "" {
		args = append(args, string(filter.ToState))
		query += fmt.Sprintf("AND to_state = $%d\n", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf("AND occurred_at >= $%d\n", len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += fmt.Sprintf("AND occurred_at <= $%d\n", len(args))
	}
	query += "ORDER BY occurred_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transitions by document: %w", err)
	}
	return collectTransitions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (domain.DocumentWorkflow, error) {
	var wf domain.DocumentWorkflow
	var state string
	var metaRaw []byte
	err := row.Scan(
		&wf.ID,
		&wf.DocumentRef,
		&wf.WorkflowType,
		&state,
		&wf.Assignee,
		&wf.DueDate,
		&metaRaw,
		&wf.Terminal,
		&wf.Version,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return domain.DocumentWorkflow{}, err
	}
	if err := json.Unmarshal(metaRaw, &wf.Metadata); err != nil {
		return domain.DocumentWorkflow{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	wf.CurrentState = domain.StateCode(state)
	return wf, nil
}

func scanTransition(row rowScanner) (domain.DocumentTransition, error) {
	var t domain.DocumentTransition
	var from, to string
	var dataRaw []byte
	err := row.Scan(
		&t.ID,
		&t.WorkflowID,
		&t.DocumentRef,
		&from,
		&to,
		&t.Actor,
		&t.Comment,
		&dataRaw,
		&t.OccurredAt,
	)
	if err != nil {
		return domain.DocumentTransition{}, err
	}
	if err := json.Unmarshal(dataRaw, &t.TransitionData); err != nil {
		return domain.DocumentTransition{}, fmt.Errorf("unmarshal transition data: %w", err)
	}
	t.FromState = domain.StateCode(from)
	t.ToState = domain.StateCode(to)
	return t, nil
}

func collectWorkflows(rows *sql.Rows) ([]domain.DocumentWorkflow, error) {
	defer rows.Close()
	out := make([]domain.DocumentWorkflow, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return out, nil
}

func collectTransitions(rows *sql.Rows) ([]domain.DocumentTransition, error) {
	defer rows.Close()
	out := make([]domain.DocumentTransition, 0)
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

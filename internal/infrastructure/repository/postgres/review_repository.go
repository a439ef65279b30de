package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/veracta/doclifecycle/internal/core/domain"
)

// ReviewRepository persists periodic review records. Rows are append-only;
// there is no update or delete path.
type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026070402)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS review_records (
	id TEXT PRIMARY KEY,
	document_ref TEXT NOT NULL,
	reviewed_by TEXT NOT NULL,
	review_date TIMESTAMPTZ NOT NULL,
	outcome TEXT NOT NULL,
	next_review_date TIMESTAMPTZ NOT NULL,
	new_version_ref TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reviews_document ON review_records(document_ref, review_date DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ReviewRepository) CreateRecord(ctx context.Context, rec *domain.ReviewRecord) error {
	// Record IDs are derived from the review workflow, so a retried
	// completion re-inserting the same record is a no-op.
	_, err := r.db.ExecContext(ctx, `
INSERT INTO review_records (
	id, document_ref, reviewed_by, review_date, outcome, next_review_date, new_version_ref, comment, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING
`,
		rec.ID, rec.DocumentRef, rec.ReviewedBy, rec.ReviewDate, string(rec.Outcome),
		rec.NextReviewDate, rec.NewVersionRef, rec.Comment, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review record: %w", err)
	}
	return nil
}

const reviewColumns = `id, document_ref, reviewed_by, review_date, outcome, next_review_date, new_version_ref, comment, created_at`

func (r *ReviewRepository) LatestByDocument(ctx context.Context, documentRef string) (*domain.ReviewRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+reviewColumns+`
FROM review_records
WHERE document_ref = $1
ORDER BY review_date DESC
LIMIT 1
`, documentRef)

	rec, err := scanReview(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no review records for document %s", domain.ErrWorkflowNotFound, documentRef)
		}
		return nil, fmt.Errorf("get latest review: %w", err)
	}
	return &rec, nil
}

func (r *ReviewRepository) ListByDocument(ctx context.Context, documentRef string) ([]domain.ReviewRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+reviewColumns+`
FROM review_records
WHERE document_ref = $1
ORDER BY review_date DESC
`, documentRef)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ReviewRecord, 0)
	for rows.Next() {
		rec, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, nil
}

func scanReview(row rowScanner) (domain.ReviewRecord, error) {
	var rec domain.ReviewRecord
	var outcome string
	err := row.Scan(
		&rec.ID,
		&rec.DocumentRef,
		&rec.ReviewedBy,
		&rec.ReviewDate,
		&outcome,
		&rec.NextReviewDate,
		&rec.NewVersionRef,
		&rec.Comment,
		&rec.CreatedAt,
	)
	if err != nil {
		return domain.ReviewRecord{}, err
	}
	rec.Outcome = domain.ReviewOutcome(outcome)
	return rec, nil
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/veracta/doclifecycle/internal/core/domain"
)

func newMockReviews(t *testing.T) (*ReviewRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewReviewRepository(db), mock
}

func reviewRows(recs ...domain.ReviewRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "document_ref", "reviewed_by", "review_date", "outcome",
		"next_review_date", "new_version_ref", "comment", "created_at",
	})
	for _, rec := range recs {
		rows.AddRow(rec.ID, rec.DocumentRef, rec.ReviewedBy, rec.ReviewDate, string(rec.Outcome),
			rec.NextReviewDate, rec.NewVersionRef, rec.Comment, rec.CreatedAt)
	}
	return rows
}

func TestCreateRecord(t *testing.T) {
	repo, mock := newMockReviews(t)

	next := repoNow.AddDate(0, 24, 0)
	mock.ExpectExec("INSERT INTO review_records[\\s\\S]+ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs("r-1", "SOP-001", "alice", repoNow, "CONFIRMED", next, "", "still accurate", repoNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateRecord(context.Background(), &domain.ReviewRecord{
		ID: "r-1", DocumentRef: "SOP-001", ReviewedBy: "alice",
		ReviewDate: repoNow, Outcome: domain.ReviewConfirmed,
		NextReviewDate: next, Comment: "still accurate", CreatedAt: repoNow,
	})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	finish(t, mock)
}

func TestLatestByDocument(t *testing.T) {
	repo, mock := newMockReviews(t)

	mock.ExpectQuery("FROM review_records\\s+WHERE document_ref = \\$1\\s+ORDER BY review_date DESC\\s+LIMIT 1").
		WithArgs("SOP-001").
		WillReturnRows(reviewRows(domain.ReviewRecord{
			ID: "r-2", DocumentRef: "SOP-001", ReviewedBy: "bob",
			ReviewDate: repoNow, Outcome: domain.ReviewUpdated,
			NextReviewDate: repoNow.AddDate(0, 12, 0), CreatedAt: repoNow,
		}))

	rec, err := repo.LatestByDocument(context.Background(), "SOP-001")
	if err != nil {
		t.Fatalf("LatestByDocument: %v", err)
	}
	if rec.ID != "r-2" || rec.Outcome != domain.ReviewUpdated {
		t.Errorf("record = %+v", rec)
	}
	finish(t, mock)
}

func TestLatestByDocumentNotFound(t *testing.T) {
	repo, mock := newMockReviews(t)

	mock.ExpectQuery("FROM review_records").
		WithArgs("SOP-404").
		WillReturnRows(reviewRows())

	_, err := repo.LatestByDocument(context.Background(), "SOP-404")
	if !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
	finish(t, mock)
}

func TestListByDocument(t *testing.T) {
	repo, mock := newMockReviews(t)

	mock.ExpectQuery("FROM review_records\\s+WHERE document_ref = \\$1").
		WithArgs("SOP-001").
		WillReturnRows(reviewRows(
			domain.ReviewRecord{ID: "r-2", DocumentRef: "SOP-001", ReviewedBy: "bob", ReviewDate: repoNow, Outcome: domain.ReviewConfirmed, NextReviewDate: repoNow, CreatedAt: repoNow},
			domain.ReviewRecord{ID: "r-1", DocumentRef: "SOP-001", ReviewedBy: "alice", ReviewDate: repoNow.Add(-time.Hour), Outcome: domain.ReviewConfirmed, NextReviewDate: repoNow, CreatedAt: repoNow},
		))

	recs, err := repo.ListByDocument(context.Background(), "SOP-001")
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "r-2" {
		t.Errorf("records = %+v", recs)
	}
	finish(t, mock)
}

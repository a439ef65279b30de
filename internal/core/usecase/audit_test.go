package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/veracta/doclifecycle/internal/core/domain"
)

func seedAuditTrail(repo *memoryRepo) {
	repo.transitions = []domain.DocumentTransition{
		{ID: "t-1", WorkflowID: "wf-1", DocumentRef: "SOP-001", FromState: domain.StateDraft, ToState: domain.StatePendingReview, Actor: "alice"},
		{ID: "t-2", WorkflowID: "wf-1", DocumentRef: "SOP-001", FromState: domain.StatePendingReview, ToState: domain.StateUnderReview, Actor: "bob"},
		{ID: "t-3", WorkflowID: "wf-2", DocumentRef: "SOP-001", FromState: domain.StatePendingReview, ToState: domain.StateReviewCompleted, Actor: "alice"},
		{ID: "t-4", WorkflowID: "wf-3", DocumentRef: "SOP-002", FromState: domain.StateDraft, ToState: domain.StatePendingReview, Actor: "alice"},
	}
}

func TestAuditByWorkflow(t *testing.T) {
	repo := newMemoryRepo()
	seedAuditTrail(repo)
	svc := NewAuditService(repo)

	rows, err := svc.ByWorkflow(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("ByWorkflow: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	if _, err := svc.ByWorkflow(context.Background(), " "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("blank workflow id: %v", err)
	}
}

func TestAuditByDocumentWithFilters(t *testing.T) {
	repo := newMemoryRepo()
	seedAuditTrail(repo)
	svc := NewAuditService(repo)
	ctx := context.Background()

	rows, err := svc.ByDocument(ctx, "SOP-001", domain.AuditFilter{})
	if err != nil {
		t.Fatalf("ByDocument: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	rows, _ = svc.ByDocument(ctx, "SOP-001", domain.AuditFilter{Actor: "alice"})
	if len(rows) != 2 {
		t.Fatalf("actor-filtered rows = %d, want 2", len(rows))
	}

	rows, _ = svc.ByDocument(ctx, "SOP-001", domain.AuditFilter{ToState: domain.StateReviewCompleted})
	if len(rows) != 1 || rows[0].ID != "t-3" {
		t.Fatalf("state-filtered rows = %+v", rows)
	}

	if _, err := svc.ByDocument(ctx, "", domain.AuditFilter{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("blank document ref: %v", err)
	}
}

func TestAuditGetByID(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(domain.DocumentWorkflow{ID: "wf-1", DocumentRef: "SOP-001", WorkflowType: "standard_review", CurrentState: domain.StateDraft})
	svc := NewAuditService(repo)

	wf, err := svc.GetByID(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if wf.DocumentRef != "SOP-001" {
		t.Errorf("workflow = %+v", wf)
	}

	if _, err := svc.GetByID(context.Background(), ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("blank id: %v", err)
	}
	if _, err := svc.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Errorf("missing id: %v", err)
	}
}

package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/core/ports"
)

// AuditService is the read-only query surface over the immutable transition
// log, for compliance reporting.
type AuditService struct {
	repo ports.WorkflowRepository
}

func NewAuditService(repo ports.WorkflowRepository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) GetByID(ctx context.Context, id string) (*domain.DocumentWorkflow, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: workflow id is required", domain.ErrInvalidInput)
	}
	return s.repo.GetByID(ctx, id)
}

func (s *AuditService) ByWorkflow(ctx context.Context, workflowID string) ([]domain.DocumentTransition, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, fmt.Errorf("%w: workflow id is required", domain.ErrInvalidInput)
	}
	return s.repo.ListTransitionsByWorkflow(ctx, workflowID)
}

func (s *AuditService) ByDocument(ctx context.Context, documentRef string, filter domain.AuditFilter) ([]domain.DocumentTransition, error) {
	if strings.TrimSpace(documentRef) == "" {
		return nil, fmt.Errorf("%w: document ref is required", domain.ErrInvalidInput)
	}
	return s.repo.ListTransitionsByDocument(ctx, documentRef, filter)
}

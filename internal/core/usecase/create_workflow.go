package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/core/ports"
)

// CreateWorkflowUseCase opens a new workflow instance at the type's initial
// state. The store's uniqueness guarantee turns a duplicate create into a
// typed AlreadyActive rejection.
type CreateWorkflowUseCase struct {
	repo     ports.WorkflowRepository
	registry *domain.StateRegistry
	notifier ports.Notifier
	now      func() time.Time
}

func NewCreateWorkflowUseCase(
	repo ports.WorkflowRepository,
	registry *domain.StateRegistry,
	notifier ports.Notifier,
) *CreateWorkflowUseCase {
	return &CreateWorkflowUseCase{
		repo:     repo,
		registry: registry,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the use case clock.
func (uc *CreateWorkflowUseCase) WithClock(now func() time.Time) *CreateWorkflowUseCase {
	uc.now = now
	return uc
}

func (uc *CreateWorkflowUseCase) CreateWorkflow(ctx context.Context, documentRef, workflowType, assignee string) (*domain.DocumentWorkflow, error) {
	if strings.TrimSpace(documentRef) == "" {
		return nil, fmt.Errorf("%w: document ref is required", domain.ErrInvalidInput)
	}
	wt, ok := uc.registry.Type(workflowType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown workflow type %s", domain.ErrInvalidInput, workflowType)
	}

	now := uc.now()
	wf := &domain.DocumentWorkflow{
		ID:           uuid.NewString(),
		DocumentRef:  documentRef,
		WorkflowType: wt.Code,
		CurrentState: wt.InitialState,
		Assignee:     assignee,
		Metadata:     map[string]any{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if wt.TimeoutDays > 0 {
		due := now.AddDate(0, 0, wt.TimeoutDays)
		wf.DueDate = &due
	}

	if err := uc.repo.Create(ctx, wf); err != nil {
		return nil, err
	}

	event := domain.NotificationEvent{
		ID:          uuid.NewString(),
		Type:        domain.EventWorkflowCreated,
		WorkflowID:  wf.ID,
		DocumentRef: wf.DocumentRef,
		ToState:     wf.CurrentState,
		Recipients:  recipients(assignee, nil),
		OccurredAt:  now,
	}
	if err := uc.notifier.Publish(ctx, event); err != nil {
		slog.Warn("notification_publish_failed",
			"event_type", string(event.Type),
			"workflow_id", wf.ID,
			"error", err,
		)
	}
	return wf, nil
}

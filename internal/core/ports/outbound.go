package ports

import (
	"context"
	"time"

	"github.com/veracta/doclifecycle/internal/core/domain"
)

// ApplyTransitionParams is the atomic unit of mutation: one workflow row
// update plus one audit row insert, both in the same transaction. The update
// is guarded by the expected state and version so concurrent writers
// serialize; the loser gets domain.ErrVersionConflict.
type ApplyTransitionParams struct {
	WorkflowID      string
	ExpectedState   domain.StateCode
	ExpectedVersion int64

	ToState    domain.StateCode
	ToTerminal bool
	Assignee   *string
	DueDate    *time.Time
	// MetadataPatch is merged into the workflow metadata; a nil map value
	// for a key removes it.
	MetadataPatch map[string]any

	Transition domain.DocumentTransition
}

// WorkflowRepository persists workflow instances and their immutable
// transition log.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *domain.DocumentWorkflow) error
	GetByID(ctx context.Context, id string) (*domain.DocumentWorkflow, error)
	GetActiveByDocument(ctx context.Context, documentRef, workflowType string) (*domain.DocumentWorkflow, error)
	ListActiveByDocument(ctx context.Context, documentRef string) ([]domain.DocumentWorkflow, error)

	// LatestByDocumentAndType returns the most recently opened workflow of
	// the given type, terminal rows included. Review completion uses it to
	// resume after a crash between closing the review task and recording
	// the outcome.
	LatestByDocumentAndType(ctx context.Context, documentRef, workflowType string) (*domain.DocumentWorkflow, error)
	ApplyTransition(ctx context.Context, params ApplyTransitionParams) (*domain.DocumentTransition, error)

	// PatchMetadata updates scheduling markers only; it never touches
	// current_state. Guarded by the same version column as transitions.
	PatchMetadata(ctx context.Context, workflowID string, expectedVersion int64, patch map[string]any) error

	// Due-item queries are advisory: the scheduler re-validates state
	// inside ApplyTransition, so stale results are harmless.
	ListDueEffective(ctx context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error)
	ListDueObsolescence(ctx context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error)
	ListDueReview(ctx context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error)

	ListTransitionsByWorkflow(ctx context.Context, workflowID string) ([]domain.DocumentTransition, error)
	ListTransitionsByDocument(ctx context.Context, documentRef string, filter domain.AuditFilter) ([]domain.DocumentTransition, error)
}

// ReviewRepository persists append-only periodic review records.
type ReviewRepository interface {
	CreateRecord(ctx context.Context, rec *domain.ReviewRecord) error
	LatestByDocument(ctx context.Context, documentRef string) (*domain.ReviewRecord, error)
	ListByDocument(ctx context.Context, documentRef string) ([]domain.ReviewRecord, error)
}

// DependencyQuerier reads the external dependency graph. Results are never
// cached; the validator re-queries at the moment of transition.
type DependencyQuerier interface {
	ActiveDependents(ctx context.Context, documentRef string) ([]domain.DependentDocument, error)
}

// Notifier delivers events to the external notification collaborator.
type Notifier interface {
	Publish(ctx context.Context, event domain.NotificationEvent) error
}

package ports

import (
	"context"

	"github.com/veracta/doclifecycle/internal/core/domain"
)

// WorkflowCreator opens a lifecycle workflow for a document.
type WorkflowCreator interface {
	CreateWorkflow(ctx context.Context, documentRef, workflowType, assignee string) (*domain.DocumentWorkflow, error)
}

// TransitionService is the single write path for workflow state.
type TransitionService interface {
	Transition(ctx context.Context, workflowID string, toState domain.StateCode, actor, comment string, opts domain.TransitionOptions) (*domain.DocumentTransition, error)
}

// WorkflowReader exposes workflow instances to the outer layers.
type WorkflowReader interface {
	GetByID(ctx context.Context, id string) (*domain.DocumentWorkflow, error)
}

// AuditReader is the read-only compliance surface over the transition log.
type AuditReader interface {
	ByWorkflow(ctx context.Context, workflowID string) ([]domain.DocumentTransition, error)
	ByDocument(ctx context.Context, documentRef string, filter domain.AuditFilter) ([]domain.DocumentTransition, error)
}

// CompleteReviewInput is the human completion of a review task spawned by
// the periodic review sweep.
type CompleteReviewInput struct {
	DocumentRef   string
	ReviewedBy    string
	Outcome       domain.ReviewOutcome
	Comment       string
	NewVersionRef string
}

// ReviewCompleter records a periodic review outcome and closes the review
// workflow.
type ReviewCompleter interface {
	CompleteReview(ctx context.Context, in CompleteReviewInput) (*domain.ReviewRecord, error)
}

// SweepReport summarizes one scheduler sweep run.
type SweepReport struct {
	Policy  string `json:"policy"`
	Scanned int    `json:"scanned"`
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
	Blocked int    `json:"blocked"`
	Failed  int    `json:"failed"`
}

// Sweeper drives due automated transitions. Every entrypoint is safe to
// re-run: duplicate pickups fail the engine's state check harmlessly.
type Sweeper interface {
	RunEffectiveDateSweep(ctx context.Context) (SweepReport, error)
	RunObsolescenceSweep(ctx context.Context) (SweepReport, error)
	RunPeriodicReviewSweep(ctx context.Context) (SweepReport, error)
	RunOverdueEscalationSweep(ctx context.Context) (SweepReport, error)
}

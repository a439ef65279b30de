package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/core/ports"
)

// ReviewConfig parameterizes periodic review completion.
type ReviewConfig struct {
	ReviewWorkflowType string
	// DefaultIntervalMonths applies when the document's workflow type does
	// not mandate its own review interval.
	DefaultIntervalMonths int
}

func (c ReviewConfig) normalize() ReviewConfig {
	out := c
	if out.ReviewWorkflowType == "" {
		out.ReviewWorkflowType = "periodic_review"
	}
	if out.DefaultIntervalMonths <= 0 {
		out.DefaultIntervalMonths = 12
	}
	return out
}

// CompleteReviewUseCase records the human outcome of a review task created
// by the periodic review sweep. The record is append-only and created here
// only; the scheduler never writes review records.
type CompleteReviewUseCase struct {
	repo     ports.WorkflowRepository
	reviews  ports.ReviewRepository
	engine   ports.TransitionService
	registry *domain.StateRegistry
	cfg      ReviewConfig
	now      func() time.Time
}

func NewCompleteReviewUseCase(
	repo ports.WorkflowRepository,
	reviews ports.ReviewRepository,
	engine ports.TransitionService,
	registry *domain.StateRegistry,
	cfg ReviewConfig,
) *CompleteReviewUseCase {
	return &CompleteReviewUseCase{
		repo:     repo,
		reviews:  reviews,
		engine:   engine,
		registry: registry,
		cfg:      cfg.normalize(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the use case clock.
func (uc *CompleteReviewUseCase) WithClock(now func() time.Time) *CompleteReviewUseCase {
	uc.now = now
	return uc
}

func (uc *CompleteReviewUseCase) CompleteReview(ctx context.Context, in ports.CompleteReviewInput) (*domain.ReviewRecord, error) {
	if strings.TrimSpace(in.DocumentRef) == "" {
		return nil, fmt.Errorf("%w: document ref is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(in.ReviewedBy) == "" {
		return nil, fmt.Errorf("%w: reviewer is required", domain.ErrInvalidInput)
	}
	if !domain.ValidOutcome(in.Outcome) {
		return nil, fmt.Errorf("%w: unknown review outcome %s", domain.ErrInvalidInput, in.Outcome)
	}
	if in.Outcome == domain.ReviewUpversioned && strings.TrimSpace(in.NewVersionRef) == "" {
		return nil, fmt.Errorf("%w: outcome %s requires a new version ref", domain.ErrInvalidInput, in.Outcome)
	}

	active, err := uc.repo.ListActiveByDocument(ctx, in.DocumentRef)
	if err != nil {
		return nil, err
	}
	var reviewWf, docWf *domain.DocumentWorkflow
	for i := range active {
		if active[i].WorkflowType == uc.cfg.ReviewWorkflowType {
			reviewWf = &active[i]
		} else {
			docWf = &active[i]
		}
	}
	if reviewWf == nil {
		return uc.resumeCompletion(ctx, in, docWf)
	}

	now := uc.now()
	next := now.AddDate(0, uc.reviewInterval(docWf), 0)

	// Closing the review workflow first makes completion single-shot: a
	// concurrent completion loses the state check inside the engine.
	data := map[string]any{"outcome": string(in.Outcome)}
	if in.NewVersionRef != "" {
		data["new_version_ref"] = in.NewVersionRef
	}
	if _, err := uc.engine.Transition(ctx, reviewWf.ID, domain.StateReviewCompleted,
		in.ReviewedBy, in.Comment, domain.TransitionOptions{TransitionData: data}); err != nil {
		return nil, err
	}

	rec := uc.newRecord(reviewWf.ID, in, now, next)
	if err := uc.reviews.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create review record: %w", err)
	}

	if err := uc.applyOutcome(ctx, docWf, in, next); err != nil {
		return nil, err
	}
	return rec, nil
}

// resumeCompletion handles a retry after the review workflow was already
// closed but the record never made it to the store. The record ID is
// derived from the review workflow, so a fully recorded completion is
// detected and refused rather than recorded twice.
func (uc *CompleteReviewUseCase) resumeCompletion(ctx context.Context, in ports.CompleteReviewInput, docWf *domain.DocumentWorkflow) (*domain.ReviewRecord, error) {
	latest, err := uc.repo.LatestByDocumentAndType(ctx, in.DocumentRef, uc.cfg.ReviewWorkflowType)
	if err != nil || latest.CurrentState != domain.StateReviewCompleted {
		return nil, fmt.Errorf("%w: no open review workflow for document %s",
			domain.ErrWorkflowNotFound, in.DocumentRef)
	}

	recID := reviewRecordID(latest.ID)
	recs, err := uc.reviews.ListByDocument(ctx, in.DocumentRef)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.ID == recID {
			return nil, fmt.Errorf("%w: review for document %s is already recorded",
				domain.ErrWorkflowNotFound, in.DocumentRef)
		}
	}

	// The closing transition fixed the outcome; the retry must agree.
	if err := uc.verifyClosedOutcome(ctx, latest.ID, in.Outcome); err != nil {
		return nil, err
	}

	now := uc.now()
	next := now.AddDate(0, uc.reviewInterval(docWf), 0)
	rec := uc.newRecord(latest.ID, in, now, next)
	if err := uc.reviews.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create review record: %w", err)
	}
	if err := uc.applyOutcome(ctx, docWf, in, next); err != nil {
		return nil, err
	}
	return rec, nil
}

func (uc *CompleteReviewUseCase) verifyClosedOutcome(ctx context.Context, reviewWorkflowID string, outcome domain.ReviewOutcome) error {
	rows, err := uc.repo.ListTransitionsByWorkflow(ctx, reviewWorkflowID)
	if err != nil {
		return err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].ToState != domain.StateReviewCompleted {
			continue
		}
		if got, _ := rows[i].TransitionData["outcome"].(string); got != string(outcome) {
			return fmt.Errorf("%w: outcome %s does not match the closed review", domain.ErrInvalidInput, outcome)
		}
		return nil
	}
	return nil
}

func (uc *CompleteReviewUseCase) newRecord(reviewWorkflowID string, in ports.CompleteReviewInput, now, next time.Time) *domain.ReviewRecord {
	return &domain.ReviewRecord{
		ID:             reviewRecordID(reviewWorkflowID),
		DocumentRef:    in.DocumentRef,
		ReviewedBy:     in.ReviewedBy,
		ReviewDate:     now,
		Outcome:        in.Outcome,
		NextReviewDate: next,
		NewVersionRef:  in.NewVersionRef,
		Comment:        in.Comment,
		CreatedAt:      now,
	}
}

// reviewRecordID makes the record for one review workflow stable across
// retries.
func reviewRecordID(reviewWorkflowID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("review-record:"+reviewWorkflowID)).String()
}

// applyOutcome advances the document workflow's review schedule, or sends
// it back to draft when the type's policy demands a rework after UPDATED.
func (uc *CompleteReviewUseCase) applyOutcome(ctx context.Context, docWf *domain.DocumentWorkflow, in ports.CompleteReviewInput, next time.Time) error {
	if docWf == nil {
		return nil
	}

	if in.Outcome == domain.ReviewUpdated && uc.updatePolicy(docWf) == domain.ReviewUpdateReturnToDraft {
		_, err := uc.engine.Transition(ctx, docWf.ID, domain.StateDraft, in.ReviewedBy,
			"periodic review requires update", domain.TransitionOptions{
				MetadataPatch: map[string]any{domain.MetaNextReviewAt: nil},
			})
		if err != nil {
			return fmt.Errorf("return document to draft: %w", err)
		}
		return nil
	}

	err := uc.repo.PatchMetadata(ctx, docWf.ID, docWf.Version, map[string]any{
		domain.MetaNextReviewAt: next.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("advance review schedule: %w", err)
	}
	return nil
}

func (uc *CompleteReviewUseCase) reviewInterval(docWf *domain.DocumentWorkflow) int {
	if docWf != nil {
		if wt, ok := uc.registry.Type(docWf.WorkflowType); ok && wt.ReviewIntervalMonths > 0 {
			return wt.ReviewIntervalMonths
		}
	}
	return uc.cfg.DefaultIntervalMonths
}

func (uc *CompleteReviewUseCase) updatePolicy(docWf *domain.DocumentWorkflow) domain.ReviewUpdatePolicy {
	if wt, ok := uc.registry.Type(docWf.WorkflowType); ok && wt.OnReviewUpdated != "" {
		return wt.OnReviewUpdated
	}
	return domain.ReviewUpdateKeepEffective
}

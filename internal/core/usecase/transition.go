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

// TransitionEngine is the single authoritative write path for workflow
// state. No other code mutates current_state.
type TransitionEngine struct {
	repo     ports.WorkflowRepository
	registry *domain.StateRegistry
	deps     ports.DependencyQuerier
	notifier ports.Notifier
	now      func() time.Time
}

func NewTransitionEngine(
	repo ports.WorkflowRepository,
	registry *domain.StateRegistry,
	deps ports.DependencyQuerier,
	notifier ports.Notifier,
) *TransitionEngine {
	return &TransitionEngine{
		repo:     repo,
		registry: registry,
		deps:     deps,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine's clock.
func (e *TransitionEngine) WithClock(now func() time.Time) *TransitionEngine {
	e.now = now
	return e
}

// Transition validates and applies one state change, appends the audit row
// atomically with the workflow update, and returns the audit row as the
// caller's receipt. Notification is best effort and never rolls back the
// transition.
func (e *TransitionEngine) Transition(
	ctx context.Context,
	workflowID string,
	toState domain.StateCode,
	actor, comment string,
	opts domain.TransitionOptions,
) (*domain.DocumentTransition, error) {
	if strings.TrimSpace(workflowID) == "" {
		return nil, fmt.Errorf("%w: workflow id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(string(toState)) == "" {
		return nil, fmt.Errorf("%w: target state is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	wf, err := e.repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	wt, ok := e.registry.Type(wf.WorkflowType)
	if !ok {
		return nil, fmt.Errorf("workflow %s: unknown workflow type %s", wf.ID, wf.WorkflowType)
	}
	if _, ok := e.registry.State(toState); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownState, toState)
	}

	if e.registry.IsTerminalFor(wt.Code, wf.CurrentState) {
		return nil, fmt.Errorf("%w: workflow %s is in terminal state %s",
			domain.ErrInvalidState, wf.ID, wf.CurrentState)
	}
	if !e.registry.IsLegalTransition(wt.Code, wf.CurrentState, toState) {
		return nil, fmt.Errorf("%w: %s -> %s is not permitted for workflow type %s",
			domain.ErrIllegalTransition, wf.CurrentState, toState, wt.Code)
	}

	// The dependency graph changes independently of this workflow, so the
	// check runs at the moment of transition, never from a cache.
	if toState == domain.StateObsolete {
		if err := e.checkObsolescence(ctx, wf.DocumentRef); err != nil {
			return nil, err
		}
	}

	now := e.now()
	transition := domain.DocumentTransition{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		DocumentRef:    wf.DocumentRef,
		FromState:      wf.CurrentState,
		ToState:        toState,
		Actor:          actor,
		Comment:        comment,
		TransitionData: opts.TransitionData,
		OccurredAt:     now,
	}

	patch := mergePatches(opts.MetadataPatch, e.schedulingPatch(wt, toState, now))

	receipt, err := e.repo.ApplyTransition(ctx, ports.ApplyTransitionParams{
		WorkflowID:      wf.ID,
		ExpectedState:   wf.CurrentState,
		ExpectedVersion: wf.Version,
		ToState:         toState,
		ToTerminal:      e.registry.IsTerminalFor(wt.Code, toState),
		Assignee:        opts.Assignee,
		DueDate:         opts.DueDate,
		MetadataPatch:   patch,
		Transition:      transition,
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrVersionConflict) {
			// A concurrent writer won the row. Report against the state it
			// left behind, not the one we loaded.
			return nil, e.conflictError(ctx, wf.ID, toState)
		}
		return nil, err
	}

	e.publish(ctx, wf, receipt, opts)
	return receipt, nil
}

func (e *TransitionEngine) checkObsolescence(ctx context.Context, documentRef string) error {
	dependents, err := e.deps.ActiveDependents(ctx, documentRef)
	if err != nil {
		return fmt.Errorf("query dependents of %s: %w", documentRef, err)
	}
	var blocking []string
	for _, d := range dependents {
		if d.Blocking() {
			blocking = append(blocking, d.DocumentRef)
		}
	}
	if len(blocking) > 0 {
		return &domain.DependencyBlockedError{DocumentRef: documentRef, BlockingRefs: blocking}
	}
	return nil
}

// schedulingPatch seeds the periodic review marker when a document becomes
// effective under a type that mandates periodic review.
func (e *TransitionEngine) schedulingPatch(wt domain.WorkflowType, toState domain.StateCode, now time.Time) map[string]any {
	if toState != domain.StateEffective || wt.ReviewIntervalMonths <= 0 {
		return nil
	}
	next := now.AddDate(0, wt.ReviewIntervalMonths, 0)
	return map[string]any{domain.MetaNextReviewAt: next.Format(time.RFC3339)}
}

func (e *TransitionEngine) conflictError(ctx context.Context, workflowID string, toState domain.StateCode) error {
	current, err := e.repo.GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("%w: workflow %s changed concurrently", domain.ErrIllegalTransition, workflowID)
	}
	return fmt.Errorf("%w: workflow %s is now in state %s, cannot apply %s",
		domain.ErrIllegalTransition, workflowID, current.CurrentState, toState)
}

func (e *TransitionEngine) publish(ctx context.Context, wf *domain.DocumentWorkflow, receipt *domain.DocumentTransition, opts domain.TransitionOptions) {
	event := domain.NotificationEvent{
		ID:          uuid.NewString(),
		Type:        domain.EventTransitioned,
		WorkflowID:  wf.ID,
		DocumentRef: wf.DocumentRef,
		FromState:   receipt.FromState,
		ToState:     receipt.ToState,
		Actor:       receipt.Actor,
		Recipients:  recipients(wf.Assignee, opts.Assignee),
		OccurredAt:  receipt.OccurredAt,
	}
	if err := e.notifier.Publish(ctx, event); err != nil {
		slog.Warn("notification_publish_failed",
			"event_type", string(event.Type),
			"workflow_id", wf.ID,
			"error", err,
		)
	}

	if opts.Assignee != nil && *opts.Assignee != "" && *opts.Assignee != wf.Assignee {
		assigned := domain.NotificationEvent{
			ID:          uuid.NewString(),
			Type:        domain.EventAssigned,
			WorkflowID:  wf.ID,
			DocumentRef: wf.DocumentRef,
			ToState:     receipt.ToState,
			Actor:       receipt.Actor,
			Recipients:  []string{*opts.Assignee},
			OccurredAt:  receipt.OccurredAt,
		}
		if err := e.notifier.Publish(ctx, assigned); err != nil {
			slog.Warn("notification_publish_failed",
				"event_type", string(assigned.Type),
				"workflow_id", wf.ID,
				"error", err,
			)
		}
	}
}

func recipients(current string, next *string) []string {
	out := make([]string, 0, 2)
	if current != "" {
		out = append(out, current)
	}
	if next != nil && *next != "" && *next != current {
		out = append(out, *next)
	}
	return out
}

func mergePatches(patches ...map[string]any) map[string]any {
	var out map[string]any
	for _, p := range patches {
		if len(p) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(p))
		}
		for k, v := range p {
			out[k] = v
		}
	}
	return out
}

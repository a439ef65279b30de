package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/core/ports"
)

// SweepConfig is the typed scheduler configuration. Every cadence binding
// and threshold is injected; nothing is discovered at runtime.
type SweepConfig struct {
	BatchSize int
	// ReviewWorkflowType is the type used for review tasks spawned by the
	// periodic review sweep.
	ReviewWorkflowType string
	// EscalateAfterBlockedSweeps is the number of consecutive blocked
	// obsolescence sweeps before an escalation event is emitted.
	EscalateAfterBlockedSweeps int
}

func (c SweepConfig) normalize() SweepConfig {
	out := c
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.ReviewWorkflowType == "" {
		out.ReviewWorkflowType = "periodic_review"
	}
	if out.EscalateAfterBlockedSweeps <= 0 {
		out.EscalateAfterBlockedSweeps = 3
	}
	return out
}

// SweepRunner drives due automated transitions through the transition
// engine as actor SYSTEM. The due queries are advisory only: the engine
// re-validates state under the row lock, so a sweep is safe to run twice
// and safe to race against replicas.
type SweepRunner struct {
	repo     ports.WorkflowRepository
	engine   ports.TransitionService
	creator  ports.WorkflowCreator
	notifier ports.Notifier
	cfg      SweepConfig
	now      func() time.Time
}

func NewSweepRunner(
	repo ports.WorkflowRepository,
	engine ports.TransitionService,
	creator ports.WorkflowCreator,
	notifier ports.Notifier,
	cfg SweepConfig,
) *SweepRunner {
	return &SweepRunner{
		repo:     repo,
		engine:   engine,
		creator:  creator,
		notifier: notifier,
		cfg:      cfg.normalize(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the sweep clock.
func (s *SweepRunner) WithClock(now func() time.Time) *SweepRunner {
	s.now = now
	return s
}

// RunEffectiveDateSweep activates workflows in APPROVED_PENDING_EFFECTIVE
// whose effective date has arrived.
func (s *SweepRunner) RunEffectiveDateSweep(ctx context.Context) (ports.SweepReport, error) {
	report := ports.SweepReport{Policy: "effective_date"}
	items, err := s.repo.ListDueEffective(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list due effective: %w", err)
	}
	report.Scanned = len(items)

	for _, wf := range items {
		_, err := s.engine.Transition(ctx, wf.ID, domain.StateEffective, domain.SystemActor,
			"effective date reached", domain.TransitionOptions{})
		switch {
		case err == nil:
			report.Applied++
		case alreadyHandled(err):
			// Another replica or a manual action got there first.
			report.Skipped++
		default:
			report.Failed++
			slog.Error("sweep_item_failed",
				"policy", report.Policy, "workflow_id", wf.ID, "error", err)
		}
	}
	s.logReport(report)
	return report, nil
}

// RunObsolescenceSweep retires workflows whose scheduled obsolescence date
// has arrived. A dependency rejection is not retried in a loop: the blocked
// counter is bumped and the item is left for the next run, escalating once
// the counter crosses the configured threshold.
func (s *SweepRunner) RunObsolescenceSweep(ctx context.Context) (ports.SweepReport, error) {
	report := ports.SweepReport{Policy: "obsolescence"}
	items, err := s.repo.ListDueObsolescence(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list due obsolescence: %w", err)
	}
	report.Scanned = len(items)

	for _, wf := range items {
		_, err := s.engine.Transition(ctx, wf.ID, domain.StateObsolete, domain.SystemActor,
			"obsolescence date reached", domain.TransitionOptions{})
		switch {
		case err == nil:
			report.Applied++
		case domain.IsKind(err, domain.ErrDependencyBlocked):
			report.Blocked++
			s.recordBlocked(ctx, wf, err)
		case alreadyHandled(err):
			report.Skipped++
		default:
			report.Failed++
			slog.Error("sweep_item_failed",
				"policy", report.Policy, "workflow_id", wf.ID, "error", err)
		}
	}
	s.logReport(report)
	return report, nil
}

// RunPeriodicReviewSweep spawns review workflows for effective documents
// whose next review date has arrived. It never transitions the effective
// document itself; the review outcome decides that later. AlreadyActive
// from the store makes a duplicate pickup a no-op.
func (s *SweepRunner) RunPeriodicReviewSweep(ctx context.Context) (ports.SweepReport, error) {
	report := ports.SweepReport{Policy: "periodic_review"}
	items, err := s.repo.ListDueReview(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list due review: %w", err)
	}
	report.Scanned = len(items)

	for _, wf := range items {
		review, err := s.creator.CreateWorkflow(ctx, wf.DocumentRef, s.cfg.ReviewWorkflowType, wf.Assignee)
		switch {
		case err == nil:
			report.Applied++
			s.publish(ctx, domain.NotificationEvent{
				ID:          uuid.NewString(),
				Type:        domain.EventReviewDue,
				WorkflowID:  review.ID,
				DocumentRef: wf.DocumentRef,
				Actor:       domain.SystemActor,
				Recipients:  recipients(wf.Assignee, nil),
				OccurredAt:  s.now(),
			})
		case domain.IsKind(err, domain.ErrAlreadyActive):
			report.Skipped++
		default:
			report.Failed++
			slog.Error("sweep_item_failed",
				"policy", report.Policy, "document_ref", wf.DocumentRef, "error", err)
		}
	}
	s.logReport(report)
	return report, nil
}

// RunOverdueEscalationSweep emits escalation events for workflows past
// their due date. The due date is a soft SLA: nothing is auto-terminated.
func (s *SweepRunner) RunOverdueEscalationSweep(ctx context.Context) (ports.SweepReport, error) {
	report := ports.SweepReport{Policy: "overdue_escalation"}
	items, err := s.repo.ListOverdue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list overdue: %w", err)
	}
	report.Scanned = len(items)

	for _, wf := range items {
		s.publish(ctx, domain.NotificationEvent{
			ID:          uuid.NewString(),
			Type:        domain.EventOverdue,
			WorkflowID:  wf.ID,
			DocumentRef: wf.DocumentRef,
			ToState:     wf.CurrentState,
			Actor:       domain.SystemActor,
			Recipients:  recipients(wf.Assignee, nil),
			Detail:      map[string]any{"due_date": wf.DueDate},
			OccurredAt:  s.now(),
		})
		report.Applied++
	}
	s.logReport(report)
	return report, nil
}

func (s *SweepRunner) recordBlocked(ctx context.Context, wf domain.DocumentWorkflow, cause error) {
	blocked := metaInt(wf.Metadata, domain.MetaBlockedSweeps) + 1
	if err := s.repo.PatchMetadata(ctx, wf.ID, wf.Version, map[string]any{
		domain.MetaBlockedSweeps: blocked,
	}); err != nil {
		slog.Warn("blocked_counter_update_failed", "workflow_id", wf.ID, "error", err)
	}

	blockers, _ := domain.BlockedBy(cause)
	slog.Warn("obsolescence_blocked",
		"workflow_id", wf.ID,
		"document_ref", wf.DocumentRef,
		"blocking_refs", blockers,
		"consecutive_sweeps", blocked,
	)

	if blocked >= s.cfg.EscalateAfterBlockedSweeps {
		s.publish(ctx, domain.NotificationEvent{
			ID:          uuid.NewString(),
			Type:        domain.EventObsolescenceBlocked,
			WorkflowID:  wf.ID,
			DocumentRef: wf.DocumentRef,
			Actor:       domain.SystemActor,
			Recipients:  recipients(wf.Assignee, nil),
			Detail: map[string]any{
				"blocking_refs":      blockers,
				"consecutive_sweeps": blocked,
			},
			OccurredAt: s.now(),
		})
	}
}

func (s *SweepRunner) publish(ctx context.Context, event domain.NotificationEvent) {
	if err := s.notifier.Publish(ctx, event); err != nil {
		slog.Warn("notification_publish_failed",
			"event_type", string(event.Type),
			"document_ref", event.DocumentRef,
			"error", err,
		)
	}
}

func (s *SweepRunner) logReport(report ports.SweepReport) {
	slog.Info("sweep_completed",
		"policy", report.Policy,
		"scanned", report.Scanned,
		"applied", report.Applied,
		"skipped", report.Skipped,
		"blocked", report.Blocked,
		"failed", report.Failed,
	)
}

// alreadyHandled reports errors that mean the due item left its due state
// between the advisory query and the claim: a no-op, not a failure.
func alreadyHandled(err error) bool {
	return domain.IsKind(err, domain.ErrIllegalTransition) ||
		domain.IsKind(err, domain.ErrInvalidState) ||
		domain.IsKind(err, domain.ErrWorkflowNotFound)
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

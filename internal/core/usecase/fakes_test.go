package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/core/ports"
)

func testRegistry(t *testing.T) *domain.StateRegistry {
	t.Helper()
	types := []domain.WorkflowType{
		{
			Code:                 "standard_review",
			Name:                 "Standard review and approval",
			InitialState:         domain.StateDraft,
			TimeoutDays:          30,
			RequiresApproval:     true,
			ReviewIntervalMonths: 24,
			OnReviewUpdated:      domain.ReviewUpdateKeepEffective,
			Transitions: []domain.Edge{
				{From: domain.StateDraft, To: domain.StatePendingReview},
				{From: domain.StatePendingReview, To: domain.StateUnderReview},
				{From: domain.StateUnderReview, To: domain.StateReviewCompleted},
				{From: domain.StateReviewCompleted, To: domain.StatePendingApproval},
				{From: domain.StatePendingApproval, To: domain.StateUnderApproval},
				{From: domain.StateUnderApproval, To: domain.StateApprovedPendingEffective},
				{From: domain.StateApprovedPendingEffective, To: domain.StateEffective},
				{From: domain.StateEffective, To: domain.StateSuperseded},
				{From: domain.StateEffective, To: domain.StateObsolete},
			},
		},
		{
			Code:                 "emergency_approval",
			Name:                 "Emergency approval",
			InitialState:         domain.StateDraft,
			TimeoutDays:          3,
			ReviewIntervalMonths: 12,
			OnReviewUpdated:      domain.ReviewUpdateReturnToDraft,
			Transitions: []domain.Edge{
				{From: domain.StateDraft, To: domain.StatePendingApproval},
				{From: domain.StatePendingApproval, To: domain.StateApprovedPendingEffective},
				{From: domain.StateApprovedPendingEffective, To: domain.StateEffective},
				{From: domain.StateEffective, To: domain.StateDraft},
				{From: domain.StateEffective, To: domain.StateObsolete},
			},
		},
		{
			Code:         "periodic_review",
			Name:         "Periodic review task",
			InitialState: domain.StatePendingReview,
			TimeoutDays:  14,
			FinalStates:  []domain.StateCode{domain.StateReviewCompleted},
			Transitions: []domain.Edge{
				{From: domain.StatePendingReview, To: domain.StateUnderReview},
				{From: domain.StatePendingReview, To: domain.StateReviewCompleted},
				{From: domain.StateUnderReview, To: domain.StateReviewCompleted},
			},
		},
	}
	reg, err := domain.NewStateRegistry(domain.DefaultStates(), types)
	if err != nil {
		t.Fatalf("build test registry: %v", err)
	}
	return reg
}

// memoryRepo is an in-memory WorkflowRepository with the store's contract:
// per-(document, type) uniqueness for live workflows and version-guarded
// writes.
type memoryRepo struct {
	mu          sync.Mutex
	workflows   map[string]*domain.DocumentWorkflow
	transitions []domain.DocumentTransition
	reviewType  string

	applyErr error // next ApplyTransition fails with this once
	patchErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		workflows:  make(map[string]*domain.DocumentWorkflow),
		reviewType: "periodic_review",
	}
}

func (m *memoryRepo) seed(wf domain.DocumentWorkflow) *domain.DocumentWorkflow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf.Version == 0 {
		wf.Version = 1
	}
	if wf.Metadata == nil {
		wf.Metadata = map[string]any{}
	}
	stored := wf
	m.workflows[wf.ID] = &stored
	return &stored
}

func (m *memoryRepo) Create(_ context.Context, wf *domain.DocumentWorkflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.workflows {
		if existing.DocumentRef == wf.DocumentRef && existing.WorkflowType == wf.WorkflowType && !existing.Terminal {
			return fmt.Errorf("%w: %s/%s", domain.ErrAlreadyActive, wf.DocumentRef, wf.WorkflowType)
		}
	}
	stored := *wf
	m.workflows[wf.ID] = &stored
	return nil
}

func (m *memoryRepo) GetByID(_ context.Context, id string) (*domain.DocumentWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
	}
	out := *wf
	return &out, nil
}

func (m *memoryRepo) GetActiveByDocument(_ context.Context, documentRef, workflowType string) (*domain.DocumentWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.DocumentRef == documentRef && wf.WorkflowType == workflowType && !wf.Terminal {
			out := *wf
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", domain.ErrWorkflowNotFound, documentRef, workflowType)
}

func (m *memoryRepo) LatestByDocumentAndType(_ context.Context, documentRef, workflowType string) (*domain.DocumentWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.DocumentWorkflow
	for _, wf := range m.workflows {
		if wf.DocumentRef != documentRef || wf.WorkflowType != workflowType {
			continue
		}
		if latest == nil || wf.CreatedAt.After(latest.CreatedAt) {
			latest = wf
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrWorkflowNotFound, documentRef, workflowType)
	}
	out := *latest
	return &out, nil
}

func (m *memoryRepo) ListActiveByDocument(_ context.Context, documentRef string) ([]domain.DocumentWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DocumentWorkflow
	for _, wf := range m.workflows {
		if wf.DocumentRef == documentRef && !wf.Terminal {
			out = append(out, *wf)
		}
	}
	return out, nil
}

func (m *memoryRepo) ApplyTransition(_ context.Context, p ports.ApplyTransitionParams) (*domain.DocumentTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		err := m.applyErr
		m.applyErr = nil
		return nil, err
	}

	wf, ok := m.workflows[p.WorkflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, p.WorkflowID)
	}
	if wf.CurrentState != p.ExpectedState || wf.Version != p.ExpectedVersion {
		return nil, fmt.Errorf("%w: workflow %s", domain.ErrVersionConflict, p.WorkflowID)
	}

	wf.CurrentState = p.ToState
	wf.Terminal = p.ToTerminal
	wf.Version++
	wf.UpdatedAt = p.Transition.OccurredAt
	if p.Assignee != nil {
		wf.Assignee = *p.Assignee
	}
	if p.DueDate != nil {
		due := *p.DueDate
		wf.DueDate = &due
	}
	applyPatch(wf, p.MetadataPatch)

	m.transitions = append(m.transitions, p.Transition)
	receipt := p.Transition
	return &receipt, nil
}

func (m *memoryRepo) PatchMetadata(_ context.Context, workflowID string, expectedVersion int64, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.patchErr != nil {
		return m.patchErr
	}
	wf, ok := m.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
	}
	if wf.Version != expectedVersion {
		return fmt.Errorf("%w: workflow %s", domain.ErrVersionConflict, workflowID)
	}
	wf.Version++
	applyPatch(wf, patch)
	return nil
}

// applyPatch mirrors jsonb_strip_nulls(metadata || patch): a nil value
// removes the key.
func applyPatch(wf *domain.DocumentWorkflow, patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	if wf.Metadata == nil {
		wf.Metadata = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(wf.Metadata, k)
			continue
		}
		wf.Metadata[k] = v
	}
}

func (m *memoryRepo) ListDueEffective(_ context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error) {
	return m.list(limit, func(wf *domain.DocumentWorkflow) bool {
		return wf.CurrentState == domain.StateApprovedPendingEffective &&
			wf.DueDate != nil && !wf.DueDate.After(now)
	})
}

func (m *memoryRepo) ListDueObsolescence(_ context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error) {
	return m.list(limit, func(wf *domain.DocumentWorkflow) bool {
		return wf.CurrentState == domain.StateEffective && metaTimeDue(wf.Metadata, domain.MetaObsoleteAt, now)
	})
}

func (m *memoryRepo) ListDueReview(_ context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error) {
	return m.list(limit, func(wf *domain.DocumentWorkflow) bool {
		if wf.CurrentState != domain.StateEffective || !metaTimeDue(wf.Metadata, domain.MetaNextReviewAt, now) {
			return false
		}
		for _, other := range m.workflows {
			if other.DocumentRef == wf.DocumentRef && other.WorkflowType == m.reviewType && !other.Terminal {
				return false
			}
		}
		return true
	})
}

func (m *memoryRepo) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.DocumentWorkflow, error) {
	return m.list(limit, func(wf *domain.DocumentWorkflow) bool {
		return !wf.Terminal &&
			wf.CurrentState != domain.StateApprovedPendingEffective &&
			wf.DueDate != nil && !wf.DueDate.After(now)
	})
}

func (m *memoryRepo) list(limit int, keep func(*domain.DocumentWorkflow) bool) ([]domain.DocumentWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DocumentWorkflow
	for _, wf := range m.workflows {
		if keep(wf) {
			out = append(out, *wf)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func metaTimeDue(meta map[string]any, key string, now time.Time) bool {
	raw, ok := meta[key].(string)
	if !ok {
		return false
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return !at.After(now)
}

func (m *memoryRepo) ListTransitionsByWorkflow(_ context.Context, workflowID string) ([]domain.DocumentTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DocumentTransition
	for _, tr := range m.transitions {
		if tr.WorkflowID == workflowID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListTransitionsByDocument(_ context.Context, documentRef string, filter domain.AuditFilter) ([]domain.DocumentTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DocumentTransition
	for _, tr := range m.transitions {
		if tr.DocumentRef != documentRef {
			continue
		}
		if filter.Actor != "" && tr.Actor != filter.Actor {
			continue
		}
		if filter.FromState != "" && tr.FromState != filter.FromState {
			continue
		}
		if filter.ToState != "" && tr.ToState != filter.ToState {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

type fakeDeps struct {
	dependents []domain.DependentDocument
	err        error
	calls      int
}

func (f *fakeDeps) ActiveDependents(context.Context, string) ([]domain.DependentDocument, error) {
	f.calls++
	return f.dependents, f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
	err    error
}

func (f *fakeNotifier) Publish(_ context.Context, event domain.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) byType(eventType domain.EventType) []domain.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.NotificationEvent
	for _, ev := range f.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// scriptedEngine fails transitions for selected workflow IDs.
type scriptedEngine struct {
	errs    map[string]error
	applied []string
}

func (s *scriptedEngine) Transition(_ context.Context, workflowID string, toState domain.StateCode, _, _ string, _ domain.TransitionOptions) (*domain.DocumentTransition, error) {
	if err := s.errs[workflowID]; err != nil {
		return nil, err
	}
	s.applied = append(s.applied, workflowID)
	return &domain.DocumentTransition{WorkflowID: workflowID, ToState: toState}, nil
}

// scriptedCreator fails creates for selected document refs.
type scriptedCreator struct {
	errs    map[string]error
	created []string
}

func (s *scriptedCreator) CreateWorkflow(_ context.Context, documentRef, workflowType, _ string) (*domain.DocumentWorkflow, error) {
	if err := s.errs[documentRef]; err != nil {
		return nil, err
	}
	s.created = append(s.created, documentRef)
	return &domain.DocumentWorkflow{ID: "wf-" + documentRef, DocumentRef: documentRef, WorkflowType: workflowType}, nil
}

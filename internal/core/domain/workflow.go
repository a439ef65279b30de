package domain

import "time"

// StateCode identifies a lifecycle state in the registry.
type StateCode string

const (
	StateDraft                    StateCode = "DRAFT"
	StatePendingReview            StateCode = "PENDING_REVIEW"
	StateUnderReview              StateCode = "UNDER_REVIEW"
	StateReviewCompleted          StateCode = "REVIEW_COMPLETED"
	StatePendingApproval          StateCode = "PENDING_APPROVAL"
	StateUnderApproval            StateCode = "UNDER_APPROVAL"
	StateApprovedPendingEffective StateCode = "APPROVED_PENDING_EFFECTIVE"
	StateEffective                StateCode = "EFFECTIVE"
	StateSuperseded               StateCode = "SUPERSEDED"
	StateObsolete                 StateCode = "OBSOLETE"
	StateTerminated               StateCode = "TERMINATED"
)

// SystemActor is recorded on transitions driven by the scheduler.
const SystemActor = "SYSTEM"

// Metadata keys understood by the scheduler. The metadata map is otherwise
// opaque to the engine.
const (
	MetaObsoleteAt    = "obsolete_at"
	MetaNextReviewAt  = "next_review_at"
	MetaBlockedSweeps = "blocked_sweeps"
)

// State is a named node in the lifecycle graph. Reference data, loaded once
// at startup from the workflow-type catalog.
type State struct {
	Code     StateCode `json:"code"`
	Initial  bool      `json:"initial"`
	Terminal bool      `json:"terminal"`
}

// ReviewUpdatePolicy decides what happens to the document workflow when a
// periodic review completes with outcome UPDATED.
type ReviewUpdatePolicy string

const (
	ReviewUpdateKeepEffective ReviewUpdatePolicy = "keep_effective"
	ReviewUpdateReturnToDraft ReviewUpdatePolicy = "return_to_draft"
)

// Edge is one legal (from, to) transition of a workflow type.
type Edge struct {
	From StateCode `json:"from" yaml:"from"`
	To   StateCode `json:"to" yaml:"to"`
}

// WorkflowType is a named workflow configuration. Types share the state
// registry but carry their own edge table and policy knobs.
type WorkflowType struct {
	Code                 string             `json:"code"`
	Name                 string             `json:"name"`
	InitialState         StateCode          `json:"initial_state"`
	TimeoutDays          int                `json:"timeout_days"`
	RequiresApproval     bool               `json:"requires_approval"`
	ReviewIntervalMonths int                `json:"review_interval_months"`
	OnReviewUpdated      ReviewUpdatePolicy `json:"on_review_updated"`
	// FinalStates are terminal for this type only, on top of the globally
	// terminal states (e.g. REVIEW_COMPLETED closes a periodic review).
	FinalStates []StateCode `json:"final_states"`
	Transitions []Edge      `json:"transitions"`
}

// DocumentWorkflow is the live state-machine instance bound to one document.
// CurrentState is writable solely through the transition engine.
type DocumentWorkflow struct {
	ID           string         `json:"id"`
	DocumentRef  string         `json:"document_ref"`
	WorkflowType string         `json:"workflow_type"`
	CurrentState StateCode      `json:"current_state"`
	Assignee     string         `json:"assignee,omitempty"`
	DueDate      *time.Time     `json:"due_date,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Terminal     bool           `json:"terminal"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DocumentTransition is one immutable audit row per state change.
// Append-only; rows for one workflow replayed in order reconstruct its state.
type DocumentTransition struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	DocumentRef    string         `json:"document_ref"`
	FromState      StateCode      `json:"from_state"`
	ToState        StateCode      `json:"to_state"`
	Actor          string         `json:"actor"`
	Comment        string         `json:"comment,omitempty"`
	TransitionData map[string]any `json:"transition_data,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// TransitionOptions carries optional mutations applied together with a
// transition and opaque data recorded on the audit row.
type TransitionOptions struct {
	Assignee       *string
	DueDate        *time.Time
	TransitionData map[string]any
	MetadataPatch  map[string]any
}

// ReviewOutcome is the result of a completed periodic review cycle.
type ReviewOutcome string

const (
	ReviewConfirmed   ReviewOutcome = "CONFIRMED"
	ReviewUpdated     ReviewOutcome = "UPDATED"
	ReviewUpversioned ReviewOutcome = "UPVERSIONED"
)

func ValidOutcome(o ReviewOutcome) bool {
	switch o {
	case ReviewConfirmed, ReviewUpdated, ReviewUpversioned:
		return true
	}
	return false
}

// ReviewRecord is one append-only row per completed periodic review cycle.
type ReviewRecord struct {
	ID             string        `json:"id"`
	DocumentRef    string        `json:"document_ref"`
	ReviewedBy     string        `json:"reviewed_by"`
	ReviewDate     time.Time     `json:"review_date"`
	Outcome        ReviewOutcome `json:"outcome"`
	NextReviewDate time.Time     `json:"next_review_date"`
	NewVersionRef  string        `json:"new_version_ref,omitempty"`
	Comment        string        `json:"comment,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DependentDocument is a document that declares a dependency on another,
// as reported by the external dependency collaborator.
type DependentDocument struct {
	DocumentRef string    `json:"document_ref"`
	State       StateCode `json:"state"`
}

// Blocking reports whether the dependent's state blocks obsolescence of the
// document it depends on.
func (d DependentDocument) Blocking() bool {
	switch d.State {
	case StateEffective, StateApprovedPendingEffective:
		return true
	default:
		return false
	}
}

// AuditFilter narrows audit-trail queries. Zero values mean "no filter".
type AuditFilter struct {
	Actor     string
	FromState StateCode
	ToState   StateCode
	Since     time.Time
	Until     time.Time
}

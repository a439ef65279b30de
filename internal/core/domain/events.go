package domain

import "time"

// EventType classifies notification events emitted to the external
// notification collaborator.
type EventType string

const (
	EventWorkflowCreated     EventType = "workflow.created"
	EventTransitioned        EventType = "workflow.transitioned"
	EventAssigned            EventType = "workflow.assigned"
	EventReviewDue           EventType = "review.due"
	EventOverdue             EventType = "workflow.overdue"
	EventObsolescenceBlocked EventType = "obsolescence.blocked"
)

// NotificationEvent is the structured payload handed to the dispatcher.
// Delivery is best effort and never affects the operation that produced it.
type NotificationEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	DocumentRef string         `json:"document_ref"`
	FromState   StateCode      `json:"from_state,omitempty"`
	ToState     StateCode      `json:"to_state,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	Recipients  []string       `json:"recipients,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

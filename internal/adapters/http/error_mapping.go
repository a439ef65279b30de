package httpadapter

import (
	"net/http"

	"github.com/veracta/doclifecycle/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrUnknownState):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrWorkflowNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrAlreadyActive),
		domain.IsKind(err, domain.ErrIllegalTransition),
		domain.IsKind(err, domain.ErrInvalidState),
		domain.IsKind(err, domain.ErrDependencyBlocked),
		domain.IsKind(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrUnknownState):
		return "unknown_state"
	case domain.IsKind(err, domain.ErrWorkflowNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrAlreadyActive):
		return "already_active"
	case domain.IsKind(err, domain.ErrDependencyBlocked):
		return "dependency_blocked"
	case domain.IsKind(err, domain.ErrIllegalTransition),
		domain.IsKind(err, domain.ErrVersionConflict):
		return "illegal_transition"
	case domain.IsKind(err, domain.ErrInvalidState):
		return "invalid_state"
	case domain.IsKind(err, domain.ErrTemporary):
		return "temporary_failure"
	default:
		return "internal_error"
	}
}

// errorBody is the uniform error payload. Dependency rejections carry the
// blocking document refs so callers see exactly what stands in the way.
func errorBody(err error) map[string]any {
	body := map[string]any{
		"error":  errorCode(err),
		"detail": err.Error(),
	}
	if refs, ok := domain.BlockedBy(err); ok {
		body["blocking_document_refs"] = refs
	}
	return body
}

package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/veracta/doclifecycle/internal/core/domain"
	"github.com/veracta/doclifecycle/internal/core/ports"
	"github.com/veracta/doclifecycle/internal/infrastructure/export/excel"
	"github.com/veracta/doclifecycle/internal/observability/metrics"
)

const serviceName = "doclifecycle-api"

type Router struct {
	creator  ports.WorkflowCreator
	engine   ports.TransitionService
	reader   ports.WorkflowReader
	audit    ports.AuditReader
	reviews  ports.ReviewCompleter
	exporter *excel.AuditExporter
	metrics  *metrics.HTTPServerMetrics

	rateLimitRPS   float64
	rateLimitBurst int
}

func NewRouter(
	creator ports.WorkflowCreator,
	engine ports.TransitionService,
	reader ports.WorkflowReader,
	audit ports.AuditReader,
	reviews ports.ReviewCompleter,
	exporter *excel.AuditExporter,
	m *metrics.HTTPServerMetrics,
	rateLimitRPS float64,
	rateLimitBurst int,
) *Router {
	return &Router{
		creator:        creator,
		engine:         engine,
		reader:         reader,
		audit:          audit,
		reviews:        reviews,
		exporter:       exporter,
		metrics:        m,
		rateLimitRPS:   rateLimitRPS,
		rateLimitBurst: rateLimitBurst,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("/v1/workflows", rt.createWorkflow)
	mux.HandleFunc("/v1/workflows/", rt.workflowByID)
	mux.HandleFunc("/v1/documents/", rt.documentRoutes)

	var handler http.Handler = mux
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) createWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		DocumentRef  string `json:"document_ref"`
		WorkflowType string `json:"workflow_type"`
		Assignee     string `json:"assignee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	wf, err := rt.creator.CreateWorkflow(r.Context(), req.DocumentRef, req.WorkflowType, req.Assignee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// workflowByID serves /v1/workflows/{id} and /v1/workflows/{id}/transitions.
func (rt *Router) workflowByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/workflows/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		rt.getWorkflow(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "transitions":
		switch r.Method {
		case http.MethodPost:
			rt.requestTransition(w, r, parts[0])
		case http.MethodGet:
			rt.listWorkflowTransitions(w, r, parts[0])
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		}
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	}
}

func (rt *Router) getWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	wf, err := rt.reader.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (rt *Router) requestTransition(w http.ResponseWriter, r *http.Request, workflowID string) {
	var req struct {
		ToState        string         `json:"to_state"`
		Actor          string         `json:"actor"`
		Comment        string         `json:"comment"`
		Assignee       *string        `json:"assignee"`
		DueDate        *time.Time     `json:"due_date"`
		ObsoleteAt     *time.Time     `json:"obsolete_at"`
		TransitionData map[string]any `json:"transition_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	opts := domain.TransitionOptions{
		Assignee:       req.Assignee,
		DueDate:        req.DueDate,
		TransitionData: req.TransitionData,
	}
	// obsolete_at arms the retirement sweep; a date already in the past
	// would retire the document on the next tick, so it is rejected here.
	if req.ObsoleteAt != nil {
		if !req.ObsoleteAt.After(time.Now()) {
			writeError(w, r, fmt.Errorf("%w: obsolete_at must be in the future", domain.ErrInvalidInput))
			return
		}
		opts.MetadataPatch = map[string]any{
			domain.MetaObsoleteAt: req.ObsoleteAt.UTC().Format(time.RFC3339),
		}
	}

	receipt, err := rt.engine.Transition(r.Context(), workflowID, domain.StateCode(req.ToState),
		req.Actor, req.Comment, opts)
	if rt.metrics != nil {
		result := "applied"
		if err != nil {
			result = errorCode(err)
		}
		rt.metrics.RecordTransition(serviceName, req.ToState, result)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (rt *Router) listWorkflowTransitions(w http.ResponseWriter, r *http.Request, workflowID string) {
	transitions, err := rt.audit.ByWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": transitions})
}

// documentRoutes serves /v1/documents/{ref}/transitions[/export] and
// /v1/documents/{ref}/reviews.
func (rt *Router) documentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	documentRef := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "transitions" && r.Method == http.MethodGet:
		rt.listDocumentTransitions(w, r, documentRef)
	case len(parts) == 3 && parts[1] == "transitions" && parts[2] == "export" && r.Method == http.MethodGet:
		rt.exportDocumentTransitions(w, r, documentRef)
	case len(parts) == 2 && parts[1] == "reviews" && r.Method == http.MethodPost:
		rt.completeReview(w, r, documentRef)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	}
}

func (rt *Router) listDocumentTransitions(w http.ResponseWriter, r *http.Request, documentRef string) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	transitions, err := rt.audit.ByDocument(r.Context(), documentRef, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": transitions})
}

func (rt *Router) exportDocumentTransitions(w http.ResponseWriter, r *http.Request, documentRef string) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	transitions, err := rt.audit.ByDocument(r.Context(), documentRef, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transitions_"+documentRef+".xlsx"))
	if err := rt.exporter.Write(w, documentRef, transitions); err != nil {
		slog.Error("audit_export_failed",
			"request_id", requestIDFromContext(r.Context()),
			"document_ref", documentRef,
			"error", err,
		)
	}
}

func (rt *Router) completeReview(w http.ResponseWriter, r *http.Request, documentRef string) {
	var req struct {
		ReviewedBy    string `json:"reviewed_by"`
		Outcome       string `json:"outcome"`
		Comment       string `json:"comment"`
		NewVersionRef string `json:"new_version_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	rec, err := rt.reviews.CompleteReview(r.Context(), ports.CompleteReviewInput{
		DocumentRef:   documentRef,
		ReviewedBy:    req.ReviewedBy,
		Outcome:       domain.ReviewOutcome(req.Outcome),
		Comment:       req.Comment,
		NewVersionRef: req.NewVersionRef,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func parseAuditFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	filter := domain.AuditFilter{
		Actor:     q.Get("actor"),
		FromState: domain.StateCode(q.Get("from")),
		ToState:   domain.StateCode(q.Get("to")),
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.AuditFilter{}, fmt.Errorf("%w: since must be RFC3339", domain.ErrInvalidInput)
		}
		filter.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.AuditFilter{}, fmt.Errorf("%w: until must be RFC3339", domain.ErrInvalidInput)
		}
		filter.Until = t
	}
	return filter, nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, errorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write_response_failed", "error", err)
	}
}

package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tacita/internal/audit"
	"tacita/pkg/domain"
	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/httputil"
)

type auditEntryResponse struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Action       string         `json:"action"`
	ResourceKind string         `json:"resource_kind,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Outcome      string         `json:"outcome"`
	Detail       map[string]any `json:"detail,omitempty"`
}

func (h *Handler) handleAuditHistory(w http.ResponseWriter, r *http.Request) {
	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.pipeline.AuditHistory(r.Context(), subject, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

type reportRowResponse struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// handleComplianceReport aggregates audit activity over a window. Bounds
// default to the last 24 hours when absent.
func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC 3339"))
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC 3339"))
			return
		}
		to = t
	}

	rows, err := h.pipeline.ComplianceReport(r.Context(), from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]reportRowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, reportRowResponse{Action: string(row.Action), Outcome: string(row.Outcome), Count: row.Count})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "rows": out})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	export, err := h.pipeline.ExportSubjectData(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, export)
}

func (h *Handler) handleEraseSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.enforcer.EraseSubject(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSweepResponse(report))
}

func toAuditResponse(e audit.Entry) auditEntryResponse {
	return auditEntryResponse{
		ID:           e.ID.String(),
		Timestamp:    e.Timestamp,
		Action:       string(e.Action),
		ResourceKind: e.ResourceKind.String(),
		ResourceID:   e.ResourceID,
		Outcome:      string(e.Outcome),
		Detail:       e.Detail,
	}
}

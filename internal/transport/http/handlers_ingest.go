package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tacita/internal/pipeline"
	"tacita/pkg/domain"
	"tacita/pkg/platform/httputil"
)

// ingestRequest is the wire form of an ingest call. Redact is a pointer so
// an absent field falls back to the operator-configured default instead of
// silently disabling redaction.
type ingestRequest struct {
	SubjectID string `json:"subject_id"`
	Hint      string `json:"resource_hint"`
	Text      string `json:"text"`
	Filename  string `json:"filename,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
	Redact    *bool  `json:"redact,omitempty"`
}

type ingestResponse struct {
	Kind           string    `json:"kind"`
	ResourceID     string    `json:"resource_id"`
	DetectionCount int       `json:"detection_count"`
	Degraded       bool      `json:"degraded"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[ingestRequest](w, r)
	if !ok {
		return
	}
	subject, err := domain.ParseSubjectID(req.SubjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	redact := h.redactDefault
	if req.Redact != nil {
		redact = *req.Redact
	}

	result, err := h.pipeline.Ingest(r.Context(), pipeline.IngestRequest{
		SubjectID: subject,
		Hint:      pipeline.ResourceHint(req.Hint),
		Text:      req.Text,
		Filename:  req.Filename,
		MIMEType:  req.MIMEType,
		Redact:    redact,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, ingestResponse{
		Kind:           result.Kind.String(),
		ResourceID:     result.ResourceID,
		DetectionCount: result.DetectionCount,
		Degraded:       result.Degraded,
		ExpiresAt:      result.ExpiresAt,
	})
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type searchHit struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[searchRequest](w, r)
	if !ok {
		return
	}

	hits, err := h.pipeline.Search(r.Context(), req.Query, req.K)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]searchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, searchHit{
			DocumentID: hit.Ref.DocumentID.String(),
			ChunkIndex: hit.Ref.Index,
			Text:       hit.Text,
			Score:      hit.Score,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"hits": out})
}

func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	subject, err := domain.ParseSubjectID(r.URL.Query().Get("subject_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.pipeline.DeleteDocument(r.Context(), subject, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

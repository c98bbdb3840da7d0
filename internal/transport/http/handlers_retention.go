package httptransport

import (
	"net/http"
	"time"

	"tacita/internal/retention"
	"tacita/pkg/domain"
	"tacita/pkg/platform/httputil"
)

type sweepResponse struct {
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	TotalDeleted int64             `json:"total_deleted"`
	Kinds        []sweepKindResult `json:"kinds"`
}

type sweepKindResult struct {
	Kind    string `json:"kind"`
	Deleted int64  `json:"deleted"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type policyResponse struct {
	Kind       string `json:"kind"`
	TTLSeconds int64  `json:"ttl_seconds"`
	AutoDelete bool   `json:"auto_delete"`
}

type setPolicyRequest struct {
	Kind       string `json:"kind"`
	TTLSeconds int64  `json:"ttl_seconds"`
	AutoDelete bool   `json:"auto_delete"`
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.enforcer.RunSweep(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSweepResponse(report))
}

func (h *Handler) handlePolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.enforcer.Policies(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]policyResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, policyResponse{
			Kind:       p.Kind.String(),
			TTLSeconds: int64(p.TTL.Seconds()),
			AutoDelete: p.AutoDelete,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"policies": out})
}

func (h *Handler) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[setPolicyRequest](w, r)
	if !ok {
		return
	}
	kind, err := domain.ParseResourceKind(req.Kind)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	policy := retention.Policy{
		Kind:       kind,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
		AutoDelete: req.AutoDelete,
	}
	if err := h.enforcer.SetPolicy(r.Context(), policy); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSweepResponse(report retention.SweepReport) sweepResponse {
	out := sweepResponse{
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		TotalDeleted: report.TotalDeleted(),
	}
	for _, k := range report.Kinds {
		out.Kinds = append(out.Kinds, sweepKindResult{
			Kind:    k.Kind.String(),
			Deleted: k.Deleted,
			Skipped: k.Skipped,
			Error:   k.Err,
		})
	}
	return out
}

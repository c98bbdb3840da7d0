package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tacita/internal/consent"
	"tacita/pkg/domain"
	"tacita/pkg/platform/httputil"
	"tacita/pkg/requestcontext"
)

type grantConsentRequest struct {
	SubjectID     string `json:"subject_id"`
	Purpose       string `json:"purpose"`
	PolicyVersion string `json:"policy_version"`
}

type withdrawConsentRequest struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose"`
	Reason    string `json:"reason,omitempty"`
}

type consentRecordResponse struct {
	ID            string     `json:"id"`
	Purpose       string     `json:"purpose"`
	Granted       bool       `json:"granted"`
	PolicyVersion string     `json:"policy_version"`
	GrantedAt     time.Time  `json:"granted_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokeReason  string     `json:"revoke_reason,omitempty"`
	AgentSummary  string     `json:"agent_summary,omitempty"`
}

func (h *Handler) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[grantConsentRequest](w, r)
	if !ok {
		return
	}
	subject, err := domain.ParseSubjectID(req.SubjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	purpose, err := domain.ParseConsentPurpose(req.Purpose)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	ctx := r.Context()
	evidence := consent.NewEvidence(requestcontext.ClientIP(ctx), requestcontext.UserAgent(ctx))
	record, err := h.consent.Grant(ctx, subject, purpose, req.PolicyVersion, evidence)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toConsentResponse(record))
}

func (h *Handler) handleWithdrawConsent(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[withdrawConsentRequest](w, r)
	if !ok {
		return
	}
	subject, err := domain.ParseSubjectID(req.SubjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	purpose, err := domain.ParseConsentPurpose(req.Purpose)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "withdrawn"
	}
	if err := h.consent.Withdraw(r.Context(), subject, purpose, reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConsentHistory(w http.ResponseWriter, r *http.Request) {
	subject, err := domain.ParseSubjectID(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.consent.History(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]consentRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toConsentResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": out})
}

func toConsentResponse(rec consent.Record) consentRecordResponse {
	return consentRecordResponse{
		ID:            rec.ID.String(),
		Purpose:       rec.Purpose.String(),
		Granted:       rec.Granted,
		PolicyVersion: rec.PolicyVersion,
		GrantedAt:     rec.GrantedAt,
		RevokedAt:     rec.RevokedAt,
		RevokeReason:  rec.RevokeReason,
		AgentSummary:  rec.Evidence.AgentSummary,
	}
}

// Package httptransport wires the pipeline's inbound surface onto a
// chi router. Handlers translate between JSON and domain types; all
// policy lives in the services underneath.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tacita/internal/consent"
	"tacita/internal/pipeline"
	"tacita/internal/retention"
	"tacita/pkg/platform/httputil"
)

const requestTimeout = 60 * time.Second

type Handler struct {
	pipeline *pipeline.Service
	consent  *consent.Service
	enforcer *retention.Enforcer
	logger   *slog.Logger

	// redactDefault applies when an ingest request leaves "redact" unset.
	redactDefault bool
}

func NewHandler(p *pipeline.Service, c *consent.Service, e *retention.Enforcer, redactDefault bool, logger *slog.Logger) *Handler {
	return &Handler{pipeline: p, consent: c, enforcer: e, redactDefault: redactDefault, logger: logger}
}

// Router builds the full route table.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Recovery(h.logger))
	r.Use(RequestID)
	r.Use(CaptureClient)
	r.Use(RequestLogger(h.logger))
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", h.handleIngest)
		r.Post("/search", h.handleSearch)
		r.Delete("/documents/{id}", h.handleDeleteDocument)

		r.Post("/consent/grant", h.handleGrantConsent)
		r.Post("/consent/withdraw", h.handleWithdrawConsent)
		r.Get("/consent/{subject}", h.handleConsentHistory)

		r.Get("/audit/report", h.handleComplianceReport)
		r.Get("/audit/{subject}", h.handleAuditHistory)
		r.Get("/export/{subject}", h.handleExport)
		r.Delete("/subjects/{subject}", h.handleEraseSubject)

		r.Post("/retention/sweep", h.handleSweep)
		r.Get("/retention/policies", h.handlePolicies)
		r.Put("/retention/policies", h.handleSetPolicy)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

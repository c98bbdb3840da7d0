package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	IngestsTotal        *prometheus.CounterVec
	ConsentDenials      prometheus.Counter
	CapacityRejections  prometheus.Counter
	DetectionsTotal     *prometheus.CounterVec
	DetectionDegraded   prometheus.Counter
	SweepDeletionsTotal *prometheus.CounterVec
	SearchesTotal       prometheus.Counter
}

// New creates all Prometheus metrics and registers them with reg. Production
// passes prometheus.DefaultRegisterer; tests pass a fresh registry so suites
// do not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tacita_ingests_total",
			Help: "Ingestion attempts by resource kind and outcome",
		}, []string{"kind", "outcome"}),
		ConsentDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "tacita_consent_denials_total",
			Help: "Operations rejected for lack of an active consent grant",
		}),
		CapacityRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "tacita_capacity_rejections_total",
			Help: "Document writes rejected at the capacity ceiling",
		}),
		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tacita_pii_detections_total",
			Help: "PII detections surviving merge and threshold, by entity kind",
		}, []string{"entity_kind"}),
		DetectionDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "tacita_detection_degraded_total",
			Help: "Ingestions processed with the pattern engine only",
		}),
		SweepDeletionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tacita_sweep_deletions_total",
			Help: "Entities deleted by retention sweeps, by resource kind",
		}, []string{"kind"}),
		SearchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tacita_searches_total",
			Help: "Similarity searches served",
		}),
	}
}

package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects request-level counters for the query and ingestion
// surfaces.
type Metrics struct {
	queries     *prometheus.CounterVec
	escalations *prometheus.CounterVec
	ingests     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the API metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navigatord",
			Name:      "queries_total",
			Help:      "Answered queries by confidence outcome.",
		}, []string{"confidence", "groundable"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navigatord",
			Name:      "escalations_total",
			Help:      "Escalation decisions by reason.",
		}, []string{"reason"}),
		ingests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navigatord",
			Name:      "ingest_documents_total",
			Help:      "Document ingestions by terminal state.",
		}, []string{"state"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "navigatord",
			Name:      "request_duration_seconds",
			Help:      "Request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

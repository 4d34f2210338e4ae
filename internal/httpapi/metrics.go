package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide Prometheus registry exposed by GET /metrics.
// prometheus.Counter satisfies internal/projection.Counter's Inc() directly,
// so no wrapper type is needed between the two packages.
type Metrics struct {
	registry   *prometheus.Registry
	Malformed  prometheus.Counter
	Persisted  prometheus.Counter
	Promotions prometheus.Counter
}

// NewMetrics builds a fresh registry and registers the three counters the
// projection worker and ingest handler report against.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		Malformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "workspace_memory_malformed_total",
			Help: "Backbone messages dropped as malformed by the projection worker.",
		}),
		Persisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "workspace_memory_events_persisted_total",
			Help: "Envelopes accepted by POST /events.",
		}),
		Promotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "workspace_memory_promotions_emitted_total",
			Help: "Auto-promotion envelopes emitted by the projection worker's sweep.",
		}),
	}
}

func (m *Metrics) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// Package metrics provides Prometheus instrumentation for the order client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChunkCalls counts batch query calls by outcome (ok, call_error, decode_error).
	ChunkCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderscope_chunk_calls_total",
		Help: "Batch query calls issued, by outcome",
	}, []string{"template", "outcome"})

	// DroppedRecords counts decoded records rejected by schema validation.
	DroppedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderscope_dropped_records_total",
		Help: "Records dropped because they did not match the declared schema",
	}, []string{"template"})

	// SkippedTemplates counts reads short-circuited by an unconfigured template.
	SkippedTemplates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderscope_skipped_template_reads_total",
		Help: "Reads skipped because the query template is a placeholder",
	}, []string{"template"})

	// CatalogFetches counts market catalog refreshes by outcome.
	CatalogFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderscope_catalog_fetches_total",
		Help: "Market catalog fetches, by outcome",
	}, []string{"outcome"})

	// MarketFetchFailures counts per-market order fetches that failed.
	MarketFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderscope_market_fetch_failures_total",
		Help: "Per-market order fetches that failed and were isolated",
	})

	// CacheLookups counts read-through cache lookups by namespace and result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderscope_cache_lookups_total",
		Help: "Read-through cache lookups, by namespace and result",
	}, []string{"namespace", "result"})

	// WorkflowTransitions counts workflow state entries by operation kind.
	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderscope_workflow_transitions_total",
		Help: "Transaction workflow state transitions",
	}, []string{"kind", "state"})

	// FetchDuration tracks logical fetch latency by resource.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderscope_fetch_duration_seconds",
		Help:    "Duration of logical fetches in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"resource"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics declares the Prometheus collectors for ingestion,
// geolocation and aggregation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VisitsRecordedTotal counts persisted visits by bot flag.
	VisitsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usertracker_visits_recorded_total",
			Help: "Visits written to the store",
		},
		[]string{"bot"},
	)

	// VisitsSkippedTotal counts page views dropped by an ingestion guard.
	VisitsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usertracker_visits_skipped_total",
			Help: "Page views ignored before any work was done",
		},
		[]string{"reason"},
	)

	// VisitInsertErrorsTotal counts failed visit inserts.
	VisitInsertErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usertracker_visit_insert_errors_total",
			Help: "Visit inserts that failed",
		},
	)

	// GeoLookupsTotal counts geolocation resolutions by outcome
	// (cache_hit, success, failure, skipped).
	GeoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usertracker_geo_lookups_total",
			Help: "Geolocation resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// GeoLookupDuration observes external lookup latency.
	GeoLookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "usertracker_geo_lookup_duration_seconds",
			Help:    "Latency of external geolocation lookups",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	// GeoBreakerState mirrors the lookup circuit breaker
	// (0 closed, 1 half-open, 2 open).
	GeoBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usertracker_geo_breaker_state",
			Help: "Circuit breaker state of the external geolocation lookup",
		},
		[]string{"breaker"},
	)

	// DiagnosticsDroppedTotal counts diagnostic entries lost to a full buffer.
	DiagnosticsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usertracker_diagnostics_dropped_total",
			Help: "Diagnostic log entries dropped because the buffer was full",
		},
	)

	// AggregationRunsTotal counts aggregation runs by status.
	AggregationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usertracker_aggregation_runs_total",
			Help: "Daily aggregation runs",
		},
		[]string{"status"},
	)

	// AggregationRowsWritten counts summary rows written.
	AggregationRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usertracker_aggregation_rows_written_total",
			Help: "Daily summary rows upserted",
		},
	)

	// RetentionDeletedTotal counts rows removed by retention, per table.
	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usertracker_retention_deleted_total",
			Help: "Rows purged by retention",
		},
		[]string{"table"},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usertracker_job_runs_total",
			Help: "Background job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)
)

// Package metrics holds the engine's Prometheus instrumentation:
// shared bucket/label definitions plus the counters and histograms
// internal/engine records against, grounded on
// internal/staging/stage/metrics.go in the teacher repo (one package
// owning every metric's registration so call sites only ever
// reference a name, never construct a collector themselves).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets are the histogram buckets shared by every
// duration-valued metric in the engine, expressed in seconds.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30,
}

// MappingLabels is the common label set for per-mapping counters and
// histograms.
var MappingLabels = []string{"mapping", "namespace"}

var (
	// EventsProcessed counts actions the Writer has durably resolved
	// (written or conditionally skipped) per mapping.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "puffgres_events_processed_total",
		Help: "Actions durably resolved by the writer, per mapping.",
	}, MappingLabels)

	// DLQEntriesTotal counts rows dead-lettered per mapping and error
	// kind (spec.md 4.11).
	DLQEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "puffgres_dlq_entries_total",
		Help: "Rows appended to the dead-letter queue, per mapping and error kind.",
	}, []string{"mapping", "namespace", "error_kind"})

	// WriteLatencySeconds observes how long a writer.Write call over
	// one batch took, per mapping.
	WriteLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "puffgres_write_latency_seconds",
		Help:    "Wall time spent in writer.Write per batch, per mapping.",
		Buckets: LatencyBuckets,
	}, MappingLabels)

	// CheckpointLSN exposes each mapping's last durably-applied LSN so
	// checkpoint progress is visible without querying the state store
	// directly.
	CheckpointLSN = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "puffgres_checkpoint_lsn",
		Help: "Highest source LSN durably applied, per mapping.",
	}, MappingLabels)
)

// Package metrics exposes Prometheus instrumentation for the import
// pipeline and duplicate detector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donorhub_import_rows_total",
		Help: "Import rows processed, by outcome.",
	}, []string{"outcome"}) // created, updated, skipped, error

	importJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donorhub_import_jobs_total",
		Help: "Import jobs finished, by terminal status.",
	}, []string{"status"})

	importBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "donorhub_import_batch_seconds",
		Help:    "Wall time per import batch.",
		Buckets: prometheus.DefBuckets,
	})

	dedupScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "donorhub_dedup_scan_seconds",
		Help:    "Wall time per duplicate detection call.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

// CountRow records one processed import row outcome.
func CountRow(outcome string) { importRows.WithLabelValues(outcome).Inc() }

// CountJob records a job reaching a terminal status.
func CountJob(status string) { importJobs.WithLabelValues(status).Inc() }

// ObserveBatch records the duration of one import batch.
func ObserveBatch(d time.Duration) { importBatchDuration.Observe(d.Seconds()) }

// ObserveDedupScan records the duration of one detector call.
func ObserveDedupScan(d time.Duration) { dedupScanDuration.Observe(d.Seconds()) }

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrexport_export_total",
		Help: "Finished exports, by protocol and result.",
	}, []string{"protocol", "result"})

	exportFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrexport_export_failure_total",
		Help: "Failed exports, by the stage that failed.",
	}, []string{"stage"})

	exportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "abrexport_export_duration_seconds",
		Help:    "End-to-end export duration.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"protocol"})

	ladderRungs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "abrexport_ladder_rungs",
		Help:    "Number of representations selected per export.",
		Buckets: prometheus.LinearBuckets(1, 1, 8),
	})

	ingestFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrexport_ingest_files_total",
		Help: "Files seen by the watch folder, by result (queued, skipped, failed, exported).",
	}, []string{"result"})
)

// ObserveExport records a finished export.
func ObserveExport(protocol string, ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	exportTotal.WithLabelValues(protocol, result).Inc()
	exportDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// IncExportFailure records the stage an export failed in.
func IncExportFailure(stage string) {
	exportFailureTotal.WithLabelValues(stage).Inc()
}

// ObserveLadder records the size of a computed ladder.
func ObserveLadder(rungs int) {
	ladderRungs.Observe(float64(rungs))
}

// IncIngest records a watch-folder event outcome.
func IncIngest(result string) {
	ingestFilesTotal.WithLabelValues(result).Inc()
}

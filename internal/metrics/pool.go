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
	// PoolWorkers tracks pool workers by state (idle, busy).
	PoolWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "abrexport_pool_workers",
		Help: "Current pool workers, by state.",
	}, []string{"state"})

	// PoolWaiting tracks submitted tasks that have no worker yet.
	PoolWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "abrexport_pool_waiting",
		Help: "Tasks queued for a free worker.",
	})

	poolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrexport_pool_executions_total",
		Help: "Finished pool executions, by terminal status.",
	}, []string{"status"})

	poolWorkerCrashTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "abrexport_pool_worker_crash_total",
		Help: "Workers replaced after a panic in task code.",
	})

	poolQueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "abrexport_pool_queue_wait_seconds",
		Help:    "Time between submission and start of execution.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

// SetPoolWorkers publishes the pool's worker split.
func SetPoolWorkers(idle, busy, waiting int) {
	PoolWorkers.WithLabelValues("idle").Set(float64(idle))
	PoolWorkers.WithLabelValues("busy").Set(float64(busy))
	PoolWaiting.Set(float64(waiting))
}

// IncPoolExecution records a terminal execution status.
func IncPoolExecution(status string) {
	poolExecutionsTotal.WithLabelValues(status).Inc()
}

// IncPoolWorkerCrash records a worker replacement.
func IncPoolWorkerCrash() {
	poolWorkerCrashTotal.Inc()
}

// ObserveQueueWait records how long a task waited for a worker.
func ObserveQueueWait(d time.Duration) {
	poolQueueWait.Observe(d.Seconds())
}

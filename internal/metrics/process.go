// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the export pipeline.
//
// Labels are bounded: no export IDs, paths or execution IDs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrexport_proc_terminate_total",
		Help: "Signals sent to encoder process groups, by signal and result.",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrexport_proc_wait_total",
		Help: "Encoder process reaps after termination, by outcome.",
	}, []string{"outcome"})

	// EncoderExitTotal counts encoder exits by protocol and exit class.
	EncoderExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrexport_encoder_exit_total",
		Help: "Total encoder process exits, by protocol and exit class.",
	}, []string{"protocol", "class"})

	encodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "abrexport_encode_duration_seconds",
		Help:    "Wall time of a single encoder invocation.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68min
	}, []string{"protocol"})

	encoderStallTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "abrexport_encoder_stall_total",
		Help: "Encoder invocations killed by the progress watchdog.",
	})

	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrexport_probe_total",
		Help: "Source probes, by result (ok, unreadable, no_video, malformed, error).",
	}, []string{"result"})
)

// IncProcTerminate records a signal sent to a process group.
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(outcome).Inc()
}

// ObserveEncode records one encoder run.
func ObserveEncode(protocol, class string, d time.Duration) {
	EncoderExitTotal.WithLabelValues(protocol, class).Inc()
	encodeDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// IncEncoderStall records a watchdog kill.
func IncEncoderStall() {
	encoderStallTotal.Inc()
}

// IncProbe records a probe outcome.
func IncProbe(result string) {
	probeTotal.WithLabelValues(result).Inc()
}

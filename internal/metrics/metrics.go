// Package metrics exposes the Prometheus instrumentation shared across the
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecognitionPasses counts orchestrator passes by terminal status
	// (ok, failed, skipped).
	RecognitionPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billscan",
		Subsystem: "recognize",
		Name:      "passes_total",
		Help:      "Recognition passes by terminal status.",
	}, []string{"status"})

	// PassDuration observes per-pass wall time in seconds.
	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "billscan",
		Subsystem: "recognize",
		Name:      "pass_duration_seconds",
		Help:      "Wall time of individual recognition passes.",
		Buckets:   prometheus.DefBuckets,
	})

	// GateDecisions counts approval-gate outcomes.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billscan",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Approval gate decisions by outcome.",
	}, []string{"outcome"})

	// Documents counts pipeline runs by terminal status.
	Documents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billscan",
		Subsystem: "pipeline",
		Name:      "documents_total",
		Help:      "Documents processed by terminal status.",
	}, []string{"status"})

	// CalibrationError tracks the latest mean absolute calibration error.
	CalibrationError = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "billscan",
		Subsystem: "calibrate",
		Name:      "error",
		Help:      "Mean absolute deviation between predicted and observed accuracy.",
	})

	// QueueDepth tracks the number of cases awaiting review.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "billscan",
		Subsystem: "review",
		Name:      "queue_depth",
		Help:      "Review cases in pending or in-review state.",
	})
)

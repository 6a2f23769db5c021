package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agent_router"

var (
	// runsTotal counts finished runs.
	// Labels: status (completed, failed, cancelled)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "runs_total",
		Help:      "Finished runs by terminal status",
	}, []string{"status"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock run duration",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"status"})

	iterationsPerRun = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "iterations_per_run",
		Help:      "Iterations appended per run",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	})

	// reasoningErrors counts failed Think attempts, including repaired ones.
	// Labels: error_type (model_unavailable, malformed_output, ...)
	reasoningErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reasoning",
		Name:      "errors_total",
		Help:      "Reasoning attempts that failed",
	}, []string{"error_type"})

	// toolCalls counts executed calls.
	// Labels: type (tool, agent), outcome (ok, error)
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Tool and agent calls by outcome",
	}, []string{"type", "outcome"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "tools",
		Name:      "latency_seconds",
		Help:      "Tool call latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "sessions",
		Help:      "Sessions currently held by the stream manager",
	})

	activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "subscribers",
		Help:      "Attached stream subscribers",
	})

	subscriberOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "overflows_total",
		Help:      "Subscribers dropped because their queue was full",
	})

	traceSaveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "save_errors_total",
		Help:      "Traces that could not be persisted",
	})
)

// RecordRun records a finished run.
func RecordRun(status string, iterations int, d time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.WithLabelValues(status).Observe(d.Seconds())
	iterationsPerRun.Observe(float64(iterations))
}

// RecordReasoningError records one failed Think attempt.
func RecordReasoningError(errorType string) {
	reasoningErrors.WithLabelValues(errorType).Inc()
}

// RecordToolCall records one executed call.
func RecordToolCall(callType string, failed bool, d time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	toolCalls.WithLabelValues(callType, outcome).Inc()
	toolLatency.WithLabelValues(callType).Observe(d.Seconds())
}

// SessionOpened and SessionClosed track the stream manager's session count.
func SessionOpened() { activeSessions.Inc() }
func SessionClosed() { activeSessions.Dec() }

// SubscriberAttached and SubscriberDetached track live subscriptions.
func SubscriberAttached() { activeSubscribers.Inc() }
func SubscriberDetached() { activeSubscribers.Dec() }

// RecordOverflow records a subscriber dropped for falling behind.
func RecordOverflow() { subscriberOverflows.Inc() }

// RecordTraceSaveError records a failed trace persist.
func RecordTraceSaveError() { traceSaveErrors.Inc() }

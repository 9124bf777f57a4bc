// Package metrics exposes Prometheus instruments for the send pipeline.
// All collectors register on the default registry through promauto.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// submitsTotal counts submit_send calls.
	// Labels:
	// - result: "created", "duplicate" or "invalid"
	submitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emailengine",
			Subsystem: "sends",
			Name:      "submitted_total",
			Help:      "Number of send requests by result.",
		},
		[]string{"result"},
	)

	// dispatchTotal counts dispatch results.
	// Labels:
	// - action: "skipped", "stale", "dropped", "sent", "retry_scheduled", "failed"
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emailengine",
			Subsystem: "dispatch",
			Name:      "results_total",
			Help:      "Number of dispatch calls by resulting action.",
		},
		[]string{"action"},
	)

	// providerDurationSeconds observes provider call latency.
	// Labels:
	// - provider: "smtp", "resend", "ses", "dryrun"
	// - outcome:  "delivered", "transient", "permanent"
	providerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emailengine",
			Subsystem: "provider",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of a single provider delivery attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "outcome"},
	)

	// sweepProcessedTotal counts records processed by background sweeps.
	// Labels:
	// - sweep: "retry", "stale" or "pending"
	sweepProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emailengine",
			Subsystem: "sweep",
			Name:      "processed_total",
			Help:      "Number of records processed by background sweeps.",
		},
		[]string{"sweep"},
	)

	// feedbackTotal counts bounce and complaint signals.
	feedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emailengine",
			Subsystem: "feedback",
			Name:      "signals_total",
			Help:      "Number of bounce and complaint signals recorded.",
		},
		[]string{"kind"},
	)
)

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// IncSubmit increments the submit counter for result.
func IncSubmit(result string) {
	submitsTotal.WithLabelValues(orUnknown(result)).Inc()
}

// IncDispatch increments the dispatch counter for action.
func IncDispatch(action string) {
	dispatchTotal.WithLabelValues(orUnknown(action)).Inc()
}

// ObserveProvider records the duration of one provider attempt.
func ObserveProvider(provider, outcome string, d time.Duration) {
	providerDurationSeconds.WithLabelValues(orUnknown(provider), orUnknown(outcome)).Observe(d.Seconds())
}

// AddSweepProcessed adds n to the processed counter of sweep.
func AddSweepProcessed(sweep string, n int) {
	if n <= 0 {
		return
	}
	sweepProcessedTotal.WithLabelValues(orUnknown(sweep)).Add(float64(n))
}

// IncFeedback increments the feedback counter for kind.
func IncFeedback(kind string) {
	feedbackTotal.WithLabelValues(orUnknown(kind)).Inc()
}

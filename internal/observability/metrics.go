package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ruleEvaluationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_alerts",
		Subsystem: "engine",
		Name:      "rule_evaluations_total",
		Help:      "Number of rule evaluations grouped by rule and outcome (fired, quiet, error).",
	}, []string{"rule", "outcome"})

	alertsCreatedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_alerts",
		Subsystem: "engine",
		Name:      "alerts_created_total",
		Help:      "Number of alerts persisted grouped by type and severity.",
	}, []string{"alert_type", "severity"})

	dedupHitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "training_alerts",
		Subsystem: "engine",
		Name:      "dedup_suppressed_total",
		Help:      "Number of fired rules suppressed by an unresolved alert inside the dedup window.",
	}, []string{"alert_type"})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "training_alerts",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Time spent sweeping every active client.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	sweepClientFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "training_alerts",
		Subsystem: "sweep",
		Name:      "client_failures_total",
		Help:      "Number of clients whose checks failed during a sweep.",
	})

	sweepSkippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "training_alerts",
		Subsystem: "sweep",
		Name:      "skipped_total",
		Help:      "Number of scheduled sweeps skipped because another instance held the lock.",
	})

	lastSweepGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "training_alerts",
		Subsystem: "sweep",
		Name:      "last_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed sweep.",
	})
)

func init() {
	prometheus.MustRegister(
		ruleEvaluationCounter,
		alertsCreatedCounter,
		dedupHitCounter,
		sweepDuration,
		sweepClientFailures,
		sweepSkippedCounter,
		lastSweepGauge,
	)
}

// Rule evaluation outcomes.
const (
	OutcomeFired = "fired"
	OutcomeQuiet = "quiet"
	OutcomeError = "error"
)

// RecordRuleEvaluation counts one rule evaluation.
func RecordRuleEvaluation(rule, outcome string) {
	ruleEvaluationCounter.WithLabelValues(rule, outcome).Inc()
}

// RecordAlertCreated counts a persisted alert.
func RecordAlertCreated(alertType, severity string) {
	alertsCreatedCounter.WithLabelValues(alertType, severity).Inc()
}

// RecordDedupHit counts a draft suppressed by an existing unresolved alert.
func RecordDedupHit(alertType string) {
	dedupHitCounter.WithLabelValues(alertType).Inc()
}

// RecordSweep observes a finished sweep.
func RecordSweep(started time.Time, failures int) {
	sweepDuration.Observe(time.Since(started).Seconds())
	sweepClientFailures.Add(float64(failures))
	lastSweepGauge.Set(float64(time.Now().Unix()))
}

// RecordSweepSkipped counts a scheduled run that did not acquire the sweep lock.
func RecordSweepSkipped() {
	sweepSkippedCounter.Inc()
}

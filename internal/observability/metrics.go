package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	completionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progress_service",
		Subsystem: "persistence",
		Name:      "last_completion_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completion persisted to Postgres.",
	})
	awardGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "progress_service",
		Subsystem: "persistence",
		Name:      "last_achievement_awarded_timestamp_seconds",
		Help:      "Unix timestamp of the most recent achievement award persisted.",
	})
	completionsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_service",
		Subsystem: "api",
		Name:      "completions_recorded_total",
		Help:      "Total exercise completions accepted over HTTP.",
	})
	achievementsAwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_service",
		Subsystem: "achievements",
		Name:      "awarded_total",
		Help:      "Total achievement awards granted.",
	})
	evaluationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "progress_service",
		Subsystem: "achievements",
		Name:      "evaluation_failures_total",
		Help:      "Achievement evaluations that failed and were swallowed by the completion flow.",
	})
)

func init() {
	prometheus.MustRegister(
		completionPersistGauge,
		awardGauge,
		completionsRecorded,
		achievementsAwarded,
		evaluationFailures,
	)
}

// RecordCompletionPersisted updates the persistence watermark gauge.
func RecordCompletionPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	completionPersistGauge.Set(float64(ts.Unix()))
}

// RecordAchievementAwarded updates the award watermark gauge and counter.
func RecordAchievementAwarded(ts time.Time) {
	if !ts.IsZero() {
		awardGauge.Set(float64(ts.Unix()))
	}
	achievementsAwarded.Inc()
}

// RecordCompletionAccepted counts an accepted completion request.
func RecordCompletionAccepted() {
	completionsRecorded.Inc()
}

// RecordEvaluationFailure counts a swallowed achievement evaluation error.
func RecordEvaluationFailure() {
	evaluationFailures.Inc()
}

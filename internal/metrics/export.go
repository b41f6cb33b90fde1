package metrics

import "time"

// Package-level shorthands over the process registry, meant to be
// dot-imported next to the logging helpers.

// MetricSuccess counts a successful operation.
func MetricSuccess(topic, operation string) {
	GetInstance().RecordOutcome(topic, operation, "success")
}

// MetricFail counts a failure with no classified reason.
func MetricFail(topic, operation string) {
	GetInstance().RecordFailure(topic, operation, "")
}

// MetricFailWithReason counts a failure under reason, e.g. "rate_limit".
func MetricFailWithReason(topic, operation, reason string) {
	GetInstance().RecordFailure(topic, operation, reason)
}

// MetricOutcome counts an outcome that is neither plain success nor failure
// ("concluded", "ceiling").
func MetricOutcome(topic, operation, outcome string) {
	GetInstance().RecordOutcome(topic, operation, outcome)
}

func MetricDuration(topic, function string, d time.Duration) {
	GetInstance().RecordDuration(topic, function, d)
}

func MetricSince(topic, function string, start time.Time) {
	MetricDuration(topic, function, time.Since(start))
}

func MetricInc(topic, function string) { MetricAdd(topic, function, 1) }

func MetricAdd(topic, function string, delta int64) {
	GetInstance().AddCounter(topic, function, delta)
}

// MetricSet overwrites a gauge.
func MetricSet(topic, function string, value int64) {
	GetInstance().SetGauge(topic, function, value)
}

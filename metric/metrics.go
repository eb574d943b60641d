// Package metric provides Prometheus instrumentation for the routing
// pipeline: utterance counters, per-stage attempt/win counters, routing
// latency, and fallback protocol counters.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all routing pipeline metrics. A nil *Metrics is valid
// and records nothing, so components can be wired without observability.
type Metrics struct {
	UtterancesTotal    prometheus.Counter
	NoMatchTotal       prometheus.Counter
	StageAttempts      *prometheus.CounterVec
	StageWins          *prometheus.CounterVec
	StageErrors        *prometheus.CounterVec
	RoutingDuration    prometheus.Histogram
	FallbackDiscovery  *prometheus.HistogramVec
	FallbackAttempts   *prometheus.CounterVec
	RegisteredHandlers prometheus.Gauge
}

// New creates a Metrics instance and registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UtterancesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "intentstream",
				Subsystem: "router",
				Name:      "utterances_total",
				Help:      "Total number of utterances routed",
			},
		),
		NoMatchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "intentstream",
				Subsystem: "router",
				Name:      "no_match_total",
				Help:      "Total number of utterances every stage declined",
			},
		),
		StageAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intentstream",
				Subsystem: "router",
				Name:      "stage_attempts_total",
				Help:      "Total matching attempts per pipeline stage",
			},
			[]string{"stage"},
		),
		StageWins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intentstream",
				Subsystem: "router",
				Name:      "stage_wins_total",
				Help:      "Total matches claimed per pipeline stage",
			},
			[]string{"stage"},
		),
		StageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intentstream",
				Subsystem: "router",
				Name:      "stage_errors_total",
				Help:      "Total stage failures converted to declines",
			},
			[]string{"stage"},
		),
		RoutingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "intentstream",
				Subsystem: "router",
				Name:      "duration_seconds",
				Help:      "Wall-clock duration of the full attempt sequence",
				Buckets:   prometheus.DefBuckets,
			},
		),
		FallbackDiscovery: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "intentstream",
				Subsystem: "fallback",
				Name:      "discovery_seconds",
				Help:      "Duration of the ping/pong discovery phase per band",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"band"},
		),
		FallbackAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "intentstream",
				Subsystem: "fallback",
				Name:      "attempts_total",
				Help:      "Direct per-handler fallback attempts by outcome",
			},
			[]string{"band", "outcome"},
		),
		RegisteredHandlers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "intentstream",
				Subsystem: "fallback",
				Name:      "registered_handlers",
				Help:      "Currently registered fallback handlers",
			},
		),
	}

	reg.MustRegister(
		m.UtterancesTotal,
		m.NoMatchTotal,
		m.StageAttempts,
		m.StageWins,
		m.StageErrors,
		m.RoutingDuration,
		m.FallbackDiscovery,
		m.FallbackAttempts,
		m.RegisteredHandlers,
	)

	return m
}

// RecordUtterance counts one routed utterance.
func (m *Metrics) RecordUtterance() {
	if m == nil {
		return
	}
	m.UtterancesTotal.Inc()
}

// RecordNoMatch counts one fully exhausted attempt sequence.
func (m *Metrics) RecordNoMatch() {
	if m == nil {
		return
	}
	m.NoMatchTotal.Inc()
}

// RecordStageAttempt counts one stage invocation.
func (m *Metrics) RecordStageAttempt(stage string) {
	if m == nil {
		return
	}
	m.StageAttempts.WithLabelValues(stage).Inc()
}

// RecordStageWin counts one stage claiming an utterance.
func (m *Metrics) RecordStageWin(stage string) {
	if m == nil {
		return
	}
	m.StageWins.WithLabelValues(stage).Inc()
}

// RecordStageError counts one stage failure converted to a decline.
func (m *Metrics) RecordStageError(stage string) {
	if m == nil {
		return
	}
	m.StageErrors.WithLabelValues(stage).Inc()
}

// RecordRoutingDuration records the elapsed time of one attempt sequence.
func (m *Metrics) RecordRoutingDuration(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RoutingDuration.Observe(elapsed.Seconds())
}

// RecordFallbackDiscovery records one discovery phase duration.
func (m *Metrics) RecordFallbackDiscovery(band string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FallbackDiscovery.WithLabelValues(band).Observe(elapsed.Seconds())
}

// RecordFallbackAttempt counts one direct handler attempt by outcome
// (handled, declined, error, timeout).
func (m *Metrics) RecordFallbackAttempt(band, outcome string) {
	if m == nil {
		return
	}
	m.FallbackAttempts.WithLabelValues(band, outcome).Inc()
}

// SetRegisteredHandlers tracks the registry population.
func (m *Metrics) SetRegisteredHandlers(n int) {
	if m == nil {
		return
	}
	m.RegisteredHandlers.Set(float64(n))
}

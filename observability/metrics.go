// Package observability hosts the prometheus collectors shared by the
// lifecycle engine, the payout executor, and the HTTP surface.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GameMetrics aggregates the round lifecycle counters.
type GameMetrics struct {
	roundsCreated  prometheus.Counter
	roundsResolved *prometheus.CounterVec
	payouts        *prometheus.CounterVec
	detections     *prometheus.CounterVec
	resolveLatency prometheus.Histogram
}

var (
	gameMetricsOnce sync.Once
	gameRegistry    *GameMetrics
)

// Metrics returns the lazily-initialised game metrics registry.
func Metrics() *GameMetrics {
	gameMetricsOnce.Do(func() {
		gameRegistry = &GameMetrics{
			roundsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flipd",
				Subsystem: "rounds",
				Name:      "created_total",
				Help:      "Total rounds created.",
			}),
			roundsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flipd",
				Subsystem: "rounds",
				Name:      "resolved_total",
				Help:      "Total rounds resolved segmented by outcome.",
			}, []string{"outcome"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flipd",
				Subsystem: "payouts",
				Name:      "attempts_total",
				Help:      "Payout attempts segmented by terminal status.",
			}, []string{"status"}),
			detections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flipd",
				Subsystem: "payments",
				Name:      "detections_total",
				Help:      "Qualifying payment detections segmented by source path.",
			}, []string{"source"}),
			resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "flipd",
				Subsystem: "rounds",
				Name:      "resolve_duration_seconds",
				Help:      "Wall time from claim to final write.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			gameRegistry.roundsCreated,
			gameRegistry.roundsResolved,
			gameRegistry.payouts,
			gameRegistry.detections,
			gameRegistry.resolveLatency,
		)
	})
	return gameRegistry
}

// RecordRoundCreated counts a persisted round.
func (m *GameMetrics) RecordRoundCreated() {
	if m == nil {
		return
	}
	m.roundsCreated.Inc()
}

// RecordResolved counts a completed resolution by outcome.
func (m *GameMetrics) RecordResolved(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.roundsResolved.WithLabelValues(outcome).Inc()
	m.resolveLatency.Observe(took.Seconds())
}

// RecordPayout counts a payout attempt by its terminal status.
func (m *GameMetrics) RecordPayout(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.payouts.WithLabelValues(status).Inc()
}

// RecordDetection counts a qualifying payment detection by source path.
func (m *GameMetrics) RecordDetection(source string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(source).Inc()
}

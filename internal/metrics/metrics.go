// Package metrics instruments the cycle engine with Prometheus counters and
// gauges, grounded on rcourtman-Pulse's internal/ai patrol metrics. This
// package is never served over HTTP — the dashboard/HTTP surface is out of
// core scope (spec.md §1) — but an embedder can call Registry() and serve it
// themselves.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the orchestrator and its subsystems
// record to.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal       *prometheus.CounterVec
	phaseDuration     *prometheus.HistogramVec
	patternConfidence *prometheus.GaugeVec
	breakerTrips      *prometheus.CounterVec
	troublesActive    prometheus.Gauge
	consecutiveFails  prometheus.Gauge
	systemPaused      prometheus.Gauge
	queueDepth        *prometheus.GaugeVec
}

// New creates a Metrics instance registered against a fresh, private
// registry (never the global default registry, so multiple instances can
// coexist in tests).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "orchestrator",
			Name:      "cycles_total",
			Help:      "Total cycles run by quality tag.",
		}, []string{"quality"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cycleforge",
			Subsystem: "orchestrator",
			Name:      "phase_duration_seconds",
			Help:      "Phase execution duration in seconds.",
		}, []string{"phase"}),
		patternConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cycleforge",
			Subsystem: "learning",
			Name:      "pattern_confidence",
			Help:      "Per-pattern confidence (successCount/usageCount).",
		}, []string{"pattern_id"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cycleforge",
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total circuit breaker open transitions by source.",
		}, []string{"source"}),
		troublesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cycleforge",
			Subsystem: "trouble",
			Name:      "active_count",
			Help:      "Current count of active (unarchived) troubles.",
		}),
		consecutiveFails: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cycleforge",
			Subsystem: "orchestrator",
			Name:      "consecutive_failures",
			Help:      "Current consecutive critical-failure count.",
		}),
		systemPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cycleforge",
			Subsystem: "orchestrator",
			Name:      "system_paused",
			Help:      "1 when the orchestrator is paused, 0 otherwise.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cycleforge",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Improvement queue depth by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.cyclesTotal,
		m.phaseDuration,
		m.patternConfidence,
		m.breakerTrips,
		m.troublesActive,
		m.consecutiveFails,
		m.systemPaused,
		m.queueDepth,
	)

	return m
}

// Registry exposes the private Prometheus registry for an embedder to serve.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordCycle records the completion of a cycle with the given quality tag.
func (m *Metrics) RecordCycle(quality string) { m.cyclesTotal.WithLabelValues(quality).Inc() }

// ObservePhaseDuration records how long a named phase took, in seconds.
func (m *Metrics) ObservePhaseDuration(phase string, seconds float64) {
	m.phaseDuration.WithLabelValues(phase).Observe(seconds)
}

// SetPatternConfidence sets the gauge for a learned pattern's confidence.
func (m *Metrics) SetPatternConfidence(patternID string, confidence float64) {
	m.patternConfidence.WithLabelValues(patternID).Set(confidence)
}

// RecordBreakerTrip increments the open-transition counter for source.
func (m *Metrics) RecordBreakerTrip(source string) { m.breakerTrips.WithLabelValues(source).Inc() }

// SetTroublesActive sets the active trouble-count gauge.
func (m *Metrics) SetTroublesActive(n int) { m.troublesActive.Set(float64(n)) }

// SetConsecutiveFailures sets the consecutive critical-failure gauge.
func (m *Metrics) SetConsecutiveFailures(n int) { m.consecutiveFails.Set(float64(n)) }

// SetSystemPaused sets the paused gauge to 1 or 0.
func (m *Metrics) SetSystemPaused(paused bool) {
	if paused {
		m.systemPaused.Set(1)
	} else {
		m.systemPaused.Set(0)
	}
}

// SetQueueDepth sets the improvement-queue depth gauge for a status.
func (m *Metrics) SetQueueDepth(status string, depth int) {
	m.queueDepth.WithLabelValues(status).Set(float64(depth))
}

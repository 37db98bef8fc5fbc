package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics bundles collectors tracking voting hub activity.
type HubMetrics struct {
	commands    *prometheus.CounterVec
	votes       *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
	drops       *prometheus.CounterVec
	roundLength *prometheus.HistogramVec
}

var (
	hubMetricsOnce sync.Once
	hubRegistry    *HubMetrics
)

// Hub returns the lazily-initialised metrics registry for the voting hub.
func Hub() *HubMetrics {
	hubMetricsOnce.Do(func() {
		hubRegistry = &HubMetrics{
			commands: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "plenum",
				Subsystem: "hub",
				Name:      "commands_total",
				Help:      "Count of hub commands segmented by chamber, kind, and outcome.",
			}, []string{"chamber", "kind", "outcome"}),
			votes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "plenum",
				Subsystem: "hub",
				Name:      "votes_total",
				Help:      "Count of accepted vote casts segmented by chamber and value.",
			}, []string{"chamber", "value"}),
			subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "plenum",
				Subsystem: "hub",
				Name:      "subscribers",
				Help:      "Current live subscriber count segmented by chamber and role.",
			}, []string{"chamber", "role"}),
			drops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "plenum",
				Subsystem: "hub",
				Name:      "subscriber_drops_total",
				Help:      "Count of subscribers dropped for falling behind the delta stream.",
			}, []string{"chamber", "role"}),
			roundLength: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "plenum",
				Subsystem: "hub",
				Name:      "round_duration_seconds",
				Help:      "Duration distribution of finalized voting rounds.",
				Buckets:   []float64{15, 30, 60, 120, 300, 600, 1800},
			}, []string{"chamber", "status"}),
		}
		prometheus.MustRegister(
			hubRegistry.commands,
			hubRegistry.votes,
			hubRegistry.subscribers,
			hubRegistry.drops,
			hubRegistry.roundLength,
		)
	})
	return hubRegistry
}

// RecordCommand counts one processed command. Outcome should be "ok",
// "noop", or "rejected" so dashboards remain stable.
func (m *HubMetrics) RecordCommand(chamber, kind, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.commands.WithLabelValues(labelChamber(chamber), kind, outcome).Inc()
}

// RecordVote counts one accepted vote cast.
func (m *HubMetrics) RecordVote(chamber, value string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(labelChamber(chamber), value).Inc()
}

// SetSubscribers updates the live subscriber gauge for a role.
func (m *HubMetrics) SetSubscribers(chamber, role string, count int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(labelChamber(chamber), role).Set(float64(count))
}

// RecordDrop counts a subscriber dropped for queue overflow.
func (m *HubMetrics) RecordDrop(chamber, role string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(labelChamber(chamber), role).Inc()
}

// RecordRoundDuration records the wall-clock length of a finalized round.
func (m *HubMetrics) RecordRoundDuration(chamber, status string, d time.Duration) {
	if m == nil {
		return
	}
	seconds := d.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.roundLength.WithLabelValues(labelChamber(chamber), status).Observe(seconds)
}

func labelChamber(chamber string) string {
	trimmed := strings.TrimSpace(chamber)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

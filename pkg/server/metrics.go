package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/recapworks/recapd/pkg/calendar"
)

// Metrics holds the service's domain counters.
type Metrics struct {
	WebhookEvents *prometheus.CounterVec
	Callbacks     *prometheus.CounterVec
	Launches      *prometheus.CounterVec
	SweepMeetings *prometheus.CounterVec
}

// NewMetrics creates and registers the domain counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recapd_webhook_events_total",
			Help: "Platform webhook deliveries by event type and outcome",
		}, []string{"event", "result"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recapd_worker_callbacks_total",
			Help: "Worker callbacks by reported status and outcome",
		}, []string{"status", "result"}),
		Launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recapd_bot_launches_total",
			Help: "Bot launch requests by provider and outcome",
		}, []string{"provider", "result"}),
		SweepMeetings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recapd_sweep_meetings_total",
			Help: "Calendar sweep discoveries by result",
		}, []string{"result"}),
	}
	reg.MustRegister(m.WebhookEvents, m.Callbacks, m.Launches, m.SweepMeetings)
	return m
}

// ObserveSweep records one calendar sweep's outcomes.
func (m *Metrics) ObserveSweep(stats calendar.SweepStats) {
	m.SweepMeetings.WithLabelValues("discovered").Add(float64(stats.Discovered))
	m.SweepMeetings.WithLabelValues("deduplicated").Add(float64(stats.Deduplicated))
	m.SweepMeetings.WithLabelValues("failed").Add(float64(stats.Failed))
}

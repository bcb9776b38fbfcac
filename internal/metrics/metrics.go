// Package metrics exposes the coordinator's Prometheus collectors. Metrics
// implements the observer interfaces of relay, hub and command.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/agos/internal/model"
)

type Metrics struct {
	telemetry     *prometheus.CounterVec
	alertLevel    prometheus.Gauge
	sessions      prometheus.Gauge
	sessionDrops  *prometheus.CounterVec
	commands      *prometheus.CounterVec
	sinkFailures  *prometheus.CounterVec
	outboxDropped prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		telemetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agos_telemetry_total",
			Help: "Telemetry readings by outcome (accepted, rejected, duplicate).",
		}, []string{"outcome"}),
		alertLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agos_alert_level",
			Help: "Alert level of the latest accepted sample (0=NORMAL .. 3=EMERGENCY).",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agos_console_sessions",
			Help: "Console sessions currently subscribed to the hub.",
		}),
		sessionDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agos_console_sessions_dropped_total",
			Help: "Console sessions removed by the hub after a delivery problem.",
		}, []string{"reason"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agos_commands_total",
			Help: "Command queue events by kind.",
		}, []string{"event", "kind"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agos_sink_failures_total",
			Help: "Failed hand-offs to external sinks.",
		}, []string{"sink"}),
		outboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agos_outbox_dropped_total",
			Help: "Updates not forwarded to sinks because the outbox was full.",
		}),
	}
	reg.MustRegister(m.telemetry, m.alertLevel, m.sessions, m.sessionDrops, m.commands, m.sinkFailures, m.outboxDropped)
	return m
}

// relay

func (m *Metrics) TelemetryAccepted(level model.AlertLevel) {
	m.telemetry.WithLabelValues("accepted").Inc()
	m.alertLevel.Set(float64(level))
}

func (m *Metrics) TelemetryRejected()  { m.telemetry.WithLabelValues("rejected").Inc() }
func (m *Metrics) TelemetryDuplicate() { m.telemetry.WithLabelValues("duplicate").Inc() }

// hub

func (m *Metrics) SessionsChanged(n int)        { m.sessions.Set(float64(n)) }
func (m *Metrics) SessionDropped(reason string) { m.sessionDrops.WithLabelValues(reason).Inc() }

// command queue

func (m *Metrics) CommandEnqueued(kind model.CommandKind, replaced bool) {
	m.commands.WithLabelValues("enqueued", string(kind)).Inc()
	if replaced {
		m.commands.WithLabelValues("replaced", string(kind)).Inc()
	}
}

func (m *Metrics) CommandConsumed(kind model.CommandKind) {
	m.commands.WithLabelValues("consumed", string(kind)).Inc()
}

func (m *Metrics) CommandExpired(kind model.CommandKind) {
	m.commands.WithLabelValues("expired", string(kind)).Inc()
}

// outbox

func (m *Metrics) SinkFailed(sink string, _ error) { m.sinkFailures.WithLabelValues(sink).Inc() }
func (m *Metrics) OutboxDropped()                  { m.outboxDropped.Inc() }

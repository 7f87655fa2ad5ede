// Package metrics holds the Prometheus collectors of the call service.
//
// Every method is safe on a nil *Metrics so components can run without metrics
// in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "calls"

type Metrics struct {
	placed        *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	terminal      *prometheus.CounterVec
	active        prometheus.Gauge
	probes        *prometheus.CounterVec
	candidates    *prometheus.CounterVec
	writeRetries  prometheus.Counter
	swept         prometheus.Counter
	alerts        *prometheus.CounterVec
	eventStreams  prometheus.Gauge
	notifications *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		placed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placed_total",
			Help:      "Calls placed by local users.",
		}, []string{"call_type"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Status transitions applied to the session store by this process.",
		}, []string{"to"}),
		terminal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_total",
			Help:      "Calls observed reaching a terminal status, by status.",
		}, []string{"status"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active",
			Help:      "Call state machines currently running.",
		}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "probes_total",
			Help:      "Presence probe results (online, offline, assumed).",
		}, []string{"result"}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "remote_candidates_total",
			Help:      "Remote ICE candidates by outcome (applied, duplicate, invalid).",
		}, []string{"result"}),
		writeRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_retries_total",
			Help:      "Retried session store writes.",
		}),
		swept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_total",
			Help:      "Stale ringing calls marked missed by the sweeper.",
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incoming_alerts_total",
			Help:      "Incoming call alerts by outcome (alerted, busy).",
		}, []string{"result"}),
		eventStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_streams",
			Help:      "Open websocket event streams.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_notices_total",
			Help:      "Missed or declined call notices written, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) CallPlaced(callType string) {
	if m == nil {
		return
	}
	m.placed.WithLabelValues(callType).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Terminal(status string) {
	if m == nil {
		return
	}
	m.terminal.WithLabelValues(status).Inc()
}

func (m *Metrics) MachineStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) MachineStopped() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) Probe(result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
}

func (m *Metrics) RemoteCandidate(result string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(result).Inc()
}

func (m *Metrics) WriteRetry() {
	if m == nil {
		return
	}
	m.writeRetries.Inc()
}

func (m *Metrics) Swept() {
	if m == nil {
		return
	}
	m.swept.Inc()
}

func (m *Metrics) Alert(result string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(result).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.eventStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.eventStreams.Dec()
}

func (m *Metrics) Notice(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

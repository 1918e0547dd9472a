// Package metrics exposes ticket counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ticketsCreated   *prometheus.CounterVec
	ticketsClosed    *prometheus.CounterVec
	ticketsOpen      prometheus.Gauge
	claims           *prometheus.CounterVec
	assistantReplies *prometheus.CounterVec
	summaries        *prometheus.CounterVec
	timerFires       prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticketsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dave_tickets_created_total",
				Help: "Tickets created, by type.",
			},
			[]string{"type"},
		),
		ticketsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dave_tickets_closed_total",
				Help: "Tickets closed, by type and reason.",
			},
			[]string{"type", "reason"},
		),
		ticketsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dave_tickets_open",
				Help: "Tickets currently open or claimed.",
			},
		),
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dave_ticket_claims_total",
				Help: "Claim attempts, by result (ok, unauthorized, rejected).",
			},
			[]string{"result"},
		),
		assistantReplies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dave_assistant_replies_total",
				Help: "Assistant replies, by result (ok, fallback, muted).",
			},
			[]string{"result"},
		),
		summaries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dave_summaries_total",
				Help: "Closure summaries, by result (ok, fallback).",
			},
			[]string{"result"},
		),
		timerFires: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dave_autoclose_timer_fires_total",
				Help: "Inactivity timers that elapsed.",
			},
		),
	}
	m.registry.MustRegister(
		m.ticketsCreated,
		m.ticketsClosed,
		m.ticketsOpen,
		m.claims,
		m.assistantReplies,
		m.summaries,
		m.timerFires,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TicketCreated(ticketType string) {
	if m == nil {
		return
	}
	m.ticketsCreated.WithLabelValues(ticketType).Inc()
	m.ticketsOpen.Inc()
}

func (m *Metrics) TicketClosed(ticketType, reason string) {
	if m == nil {
		return
	}
	m.ticketsClosed.WithLabelValues(ticketType, reason).Inc()
	m.ticketsOpen.Dec()
}

func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *Metrics) AssistantReply(result string) {
	if m == nil {
		return
	}
	m.assistantReplies.WithLabelValues(result).Inc()
}

func (m *Metrics) Summary(result string) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(result).Inc()
}

func (m *Metrics) TimerFired() {
	if m == nil {
		return
	}
	m.timerFires.Inc()
}

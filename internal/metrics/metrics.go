// Package metrics exposes Prometheus counters for the posting pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// Metrics holds the collectors and their registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	postsGenerated  *prometheus.CounterVec
	postsDispatched *prometheus.CounterVec
	actions         *prometheus.CounterVec
	loopErrors      *prometheus.CounterVec
}

// New creates collectors on a fresh registry, together with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		postsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chirpd_posts_generated_total",
				Help: "Candidate posts generated, by agent",
			},
			[]string{"agent"},
		),
		postsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chirpd_posts_dispatched_total",
				Help: "Dispatch attempts, by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chirpd_actions_total",
				Help: "Timeline actions, by kind and outcome (executed or failed)",
			},
			[]string{"kind", "outcome"},
		),
		loopErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chirpd_loop_errors_total",
				Help: "Errors returned by a background loop iteration",
			},
			[]string{"loop"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.postsGenerated,
		m.postsDispatched,
		m.actions,
		m.loopErrors,
	)
	return m
}

// WatchQueue registers a gauge reporting fn() as the request queue depth.
func (m *Metrics) WatchQueue(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chirpd_queue_pending",
			Help: "Requests waiting in the outbound queue",
		},
		func() float64 { return float64(fn()) },
	))
}

func (m *Metrics) PostGenerated(agent string) {
	if m == nil {
		return
	}
	m.postsGenerated.WithLabelValues(agent).Inc()
}

func (m *Metrics) PostDispatched(agent, outcome string) {
	if m == nil {
		return
	}
	m.postsDispatched.WithLabelValues(agent, outcome).Inc()
}

func (m *Metrics) Action(kind string, executed bool) {
	if m == nil {
		return
	}
	outcome := "executed"
	if !executed {
		outcome = "failed"
	}
	m.actions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) LoopError(loop string) {
	if m == nil {
		return
	}
	m.loopErrors.WithLabelValues(loop).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Chat request outcomes, used as the "outcome" label
const (
	outcomeOK               = "ok"
	outcomeMethodNotAllowed = "method_not_allowed"
	outcomeRateLimited      = "rate_limited"
	outcomeInvalidRequest   = "invalid_request"
	outcomeConfigError      = "config_error"
	outcomeLimiterError     = "limiter_error"
	outcomeUpstreamError    = "upstream_error"
)

// Metrics holds the Prometheus collectors for the chat endpoint. Each server
// owns its registry so tests can build several servers in one process.
type Metrics struct {
	registry         *prometheus.Registry
	ChatRequests     *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	Tokens           *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ChatRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personachat_chat_requests_total",
				Help: "Chat requests by outcome",
			},
			[]string{"outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "personachat_upstream_duration_seconds",
				Help:    "Duration of upstream chat completion calls",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"result"},
		),
		Tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "personachat_tokens_total",
				Help: "Tokens reported by the upstream provider",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.ChatRequests,
		m.UpstreamDuration,
		m.Tokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autopost_client"

// Metrics counts session layer activity.
type Metrics struct {
	Requests      *prometheus.CounterVec // by status class: 2xx, 4xx, 5xx, network
	Refreshes     prometheus.Counter     // refresh requests sent
	RefreshFails  prometheus.Counter
	Replays       prometheus.Counter
	Invalidations prometheus.Counter
}

// New creates the counters and registers them on reg. A nil reg leaves them
// unregistered, which is useful for tests and hosts without a metrics endpoint.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent to the remote service by response status class.",
		}, []string{"class"}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refresh requests sent.",
		}),
		RefreshFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_failures_total",
			Help:      "Access token refresh requests that failed.",
		}),
		Replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_replays_total",
			Help:      "Requests replayed after a successful refresh.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_invalidations_total",
			Help:      "Sessions torn down after an irrecoverable refresh failure.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Refreshes, m.RefreshFails, m.Replays, m.Invalidations)
	}
	return m
}

// StatusClass maps an HTTP status to its counter label.
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "network"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	}
	return "5xx"
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransitionsTotal counts accepted lifecycle transitions by action.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicflow_transitions_total",
		Help: "Accepted lifecycle transitions, by action.",
	}, []string{"action"})

	// VerificationsTotal counts recorded community verifications.
	VerificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicflow_verifications_total",
		Help: "Recorded community verifications.",
	})

	// EscalationsTotal counts emitted SLA escalation events.
	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicflow_escalations_total",
		Help: "Emitted SLA escalation events.",
	})

	// RejectionsTotal counts engine rejections by error kind.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicflow_rejections_total",
		Help: "Rejected engine requests, by error kind.",
	}, []string{"kind"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics holds the Prometheus collectors for extraction and outreach.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry            *prometheus.Registry
	Extractions         *prometheus.CounterVec
	ExtractionsInFlight prometheus.Gauge
	Emails              *prometheus.CounterVec
	Batches             *prometheus.CounterVec
	Subscribers         prometheus.Gauge
}

// New registers all collectors on a private registry so tests can build as
// many instances as they like.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scholardock",
			Name:      "extractions_total",
			Help:      "Completed article extractions by terminal state.",
		}, []string{"result"}),
		ExtractionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scholardock",
			Name:      "extractions_in_flight",
			Help:      "Article extractions currently running.",
		}),
		Emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scholardock",
			Name:      "emails_total",
			Help:      "Per-recipient outreach outcomes.",
		}, []string{"outcome"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scholardock",
			Name:      "batches_total",
			Help:      "Finished batch jobs by status.",
		}, []string{"status"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scholardock",
			Name:      "progress_subscribers",
			Help:      "Observers attached to batch progress streams.",
		}),
	}
	m.Registry.MustRegister(m.Extractions, m.ExtractionsInFlight, m.Emails, m.Batches, m.Subscribers)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

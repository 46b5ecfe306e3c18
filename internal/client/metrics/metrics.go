// Package metrics holds the Prometheus instruments of the feed client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedclient"

// Metrics holds all Prometheus metrics for the feed client.
type Metrics struct {
	Fetches         *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	Reconciliations *prometheus.CounterVec
	Mutations       *prometheus.CounterVec
	Rollbacks       *prometheus.CounterVec
	DroppedEvents   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Bulk and point fetches by operation and outcome",
			},
			[]string{"op", "status"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of fetch pipelines including aggregate queries",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"op"},
		),
		Reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliations_total",
				Help:      "Single-entity reconciliations by result",
			},
			[]string{"domain", "result"},
		),
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Optimistic mutations by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		Rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Optimistic mutations reverted after a failed remote write",
			},
			[]string{"kind"},
		),
		DroppedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_events_total",
				Help:      "Change events discarded before reconciliation",
			},
			[]string{"reason"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.Fetches, m.FetchDuration, m.Reconciliations, m.Mutations, m.Rollbacks, m.DroppedEvents)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveFetch records one fetch pipeline run.
func (m *Metrics) ObserveFetch(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(op, status(err)).Inc()
	m.FetchDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// Reconciled records the result of a point reconciliation: "upserted",
// "removed", "discarded" or "error".
func (m *Metrics) Reconciled(domain, result string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(domain, result).Inc()
}

// Mutation records a mutation outcome and counts a rollback when reverted.
func (m *Metrics) Mutation(kind string, err error, reverted bool) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(kind, status(err)).Inc()
	if reverted {
		m.Rollbacks.WithLabelValues(kind).Inc()
	}
}

// Dropped records a discarded change event.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedEvents.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

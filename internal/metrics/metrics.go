// Package metrics registers the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "staffforms"

// Metrics holds the collectors on a private registry so tests can build as
// many servers as they like.
type Metrics struct {
	registry *prometheus.Registry

	Submissions  *prometheus.CounterVec
	Uploads      *prometheus.CounterVec
	GateAttempts *prometheus.CounterVec
	PDFRenders   *prometheus.CounterVec
	Requests     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Form submissions by category and outcome.",
		}, []string{"category", "outcome"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Attachment uploads by category and outcome.",
		}, []string{"category", "outcome"}),
		GateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_attempts_total",
			Help:      "Password attempts by outcome.",
		}, []string{"outcome"}),
		PDFRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdf_renders_total",
			Help:      "PDF exports by category and outcome.",
		}, []string{"category", "outcome"}),
		Requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	m.registry.MustRegister(
		m.Submissions,
		m.Uploads,
		m.GateAttempts,
		m.PDFRenders,
		m.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome labels.
const (
	OK       = "ok"
	Failed   = "failed"
	Rejected = "rejected"
	Limited  = "limited"
	Skipped  = "skipped"
)

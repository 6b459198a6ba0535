package soda

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the dataset client.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	RowsFetchedTotal prometheus.Counter
	PagesTotal       prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics constructs the client collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soda_requests_total",
			Help: "Total HTTP requests issued against the dataset endpoint.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soda_request_duration_seconds",
			Help:    "HTTP request latency for dataset page requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	rows := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "soda_rows_fetched_total",
			Help: "Total number of rows received from the dataset endpoint.",
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "soda_pages_fetched_total",
			Help: "Total number of pages decoded successfully.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soda_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)

	if reg != nil {
		reg.MustRegister(requests, requestDuration, rows, pages, errorsTotal)
	}

	return &Metrics{
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RowsFetchedTotal: rows,
		PagesTotal:       pages,
		ErrorsTotal:      errorsTotal,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddPage records one decoded page of n rows.
func (m *Metrics) AddPage(n int) {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
	m.RowsFetchedTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

package watch

import (
	"time"

	"github.com/aluiziolira/go-soda-watch/soda"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles run-level collectors together with the client collectors
// so a single registry can be pushed at the end of a run.
type Metrics struct {
	Registry      *prometheus.Registry
	Client        *soda.Metrics
	RunsTotal     *prometheus.CounterVec
	RowsPulled    prometheus.Gauge
	RunDuration   prometheus.Gauge
	LastSuccess   prometheus.Gauge
	StorageWrites *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watch_runs_total",
			Help: "Total watch runs by outcome.",
		},
		[]string{"outcome"},
	)
	rowsPulled := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watch_rows_pulled",
			Help: "Rows pulled by the most recent successful run.",
		},
	)
	runDuration := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watch_run_duration_seconds",
			Help: "Wall time of the most recent run.",
		},
	)
	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watch_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful run.",
		},
	)
	writes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watch_storage_writes_total",
			Help: "Storage writes by destination and outcome.",
		},
		[]string{"destination", "outcome"},
	)

	registry.MustRegister(runs, rowsPulled, runDuration, lastSuccess, writes)

	return &Metrics{
		Registry:      registry,
		Client:        soda.NewMetrics(registry),
		RunsTotal:     runs,
		RowsPulled:    rowsPulled,
		RunDuration:   runDuration,
		LastSuccess:   lastSuccess,
		StorageWrites: writes,
	}
}

func (m *Metrics) client() *soda.Metrics {
	if m == nil {
		return nil
	}
	return m.Client
}

func (m *Metrics) observeRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Set(d.Seconds())
}

func (m *Metrics) observeSuccess(rows int, at time.Time) {
	if m == nil {
		return
	}
	m.RowsPulled.Set(float64(rows))
	m.LastSuccess.Set(float64(at.Unix()))
}

func (m *Metrics) observeWrite(destination string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.StorageWrites.WithLabelValues(destination, outcome).Inc()
}

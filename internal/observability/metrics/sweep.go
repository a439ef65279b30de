package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veracta/doclifecycle/internal/core/ports"
)

type SweepMetrics struct {
	registry *prometheus.Registry

	sweepRuns     *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	sweepItems    *prometheus.CounterVec
	blockedItems  *prometheus.GaugeVec
}

func NewSweepMetrics(service string) *SweepMetrics {
	registry := prometheus.NewRegistry()

	sweepRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dlc",
			Subsystem: "scheduler",
			Name:      "sweep_runs_total",
			Help:      "Total sweep runs by policy and status.",
		},
		[]string{"service", "policy", "status"},
	)
	sweepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dlc",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Sweep run duration in seconds by policy.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service", "policy"},
	)
	sweepItems := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dlc",
			Subsystem: "scheduler",
			Name:      "sweep_items_total",
			Help:      "Total swept items by policy and outcome.",
		},
		[]string{"service", "policy", "outcome"},
	)
	blockedItems := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dlc",
			Subsystem: "scheduler",
			Name:      "blocked_obsolescence_items",
			Help:      "Dependency-blocked items observed in the last obsolescence sweep.",
		},
		[]string{"service"},
	)

	registry.MustRegister(sweepRuns, sweepDuration, sweepItems, blockedItems)

	return &SweepMetrics{
		registry:      registry,
		sweepRuns:     sweepRuns,
		sweepDuration: sweepDuration,
		sweepItems:    sweepItems,
		blockedItems:  blockedItems,
	}
}

func (m *SweepMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSweep records one completed sweep run.
func (m *SweepMetrics) ObserveSweep(service string, report ports.SweepReport, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sweepRuns.WithLabelValues(service, report.Policy, status).Inc()
	m.sweepDuration.WithLabelValues(service, report.Policy).Observe(duration.Seconds())

	m.sweepItems.WithLabelValues(service, report.Policy, "applied").Add(float64(report.Applied))
	m.sweepItems.WithLabelValues(service, report.Policy, "skipped").Add(float64(report.Skipped))
	m.sweepItems.WithLabelValues(service, report.Policy, "blocked").Add(float64(report.Blocked))
	m.sweepItems.WithLabelValues(service, report.Policy, "failed").Add(float64(report.Failed))

	if report.Policy == "obsolescence" {
		m.blockedItems.WithLabelValues(service).Set(float64(report.Blocked))
	}
}

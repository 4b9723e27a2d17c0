package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *metrics
	metricsOnce   sync.Once
)

type metrics struct {
	solvesTotal   *prometheus.CounterVec
	solveDuration prometheus.Histogram
	runsInFlight  prometheus.Gauge
	runsWaiting   prometheus.Gauge
}

// newMetrics registers the orchestrator collectors once per process.
//
//   - solvd_solves_total{status}
//   - solvd_solve_duration_seconds
//   - solvd_runs_in_flight
//   - solvd_runs_waiting
func newMetrics() *metrics {
	metricsOnce.Do(func() {
		globalMetrics = &metrics{
			solvesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "solvd_solves_total",
					Help: "Total number of solves reaching a terminal status",
				},
				[]string{"status"},
			),
			solveDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "solvd_solve_duration_seconds",
					Help:    "Wall time from bootstrap to finalize",
					Buckets: prometheus.ExponentialBuckets(10, 2, 10),
				},
			),
			runsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "solvd_runs_in_flight",
					Help: "Number of runs holding a concurrency slot",
				},
			),
			runsWaiting: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "solvd_runs_waiting",
					Help: "Number of runs waiting for a concurrency slot",
				},
			),
		}
	})
	return globalMetrics
}

package pipeline

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
	stageDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	sandboxesOpen prometheus.Gauge
}

// newMetrics registers the pipeline collectors with the default registry
// once per process.
//
//   - solvd_pipeline_stage_duration_seconds{stage,result}
//   - solvd_pipeline_runs_total{status,tests_passed}
//   - solvd_sandboxes_open
func newMetrics() *metrics {
	metricsOnce.Do(func() {
		globalMetrics = &metrics{
			stageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "solvd_pipeline_stage_duration_seconds",
					Help:    "Duration of pipeline stages in seconds",
					Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
				},
				[]string{"stage", "result"}, // result: "ok" or "error"
			),
			runsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "solvd_pipeline_runs_total",
					Help: "Total number of pipeline executions by terminal status",
				},
				[]string{"status", "tests_passed"},
			),
			sandboxesOpen: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "solvd_sandboxes_open",
					Help: "Number of sandboxes currently provisioned",
				},
			),
		}
	})
	return globalMetrics
}

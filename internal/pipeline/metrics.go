package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endzone_stage_units_total",
			Help: "Units that left a pipeline stage",
		},
		[]string{"stage"},
	)

	unitsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endzone_stage_units_skipped_total",
			Help: "Units or regions dropped by a stage after a per-unit failure",
		},
		[]string{"stage"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "endzone_stage_unit_duration_seconds",
			Help:    "Time a stage spends on one unit",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	workerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "endzone_worker_failures_total",
			Help: "Workers that exited with a fatal error",
		},
		[]string{"stage"},
	)

	activeWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "endzone_active_workers",
			Help: "Running workers per elastic stage",
		},
		[]string{"stage"},
	)

	targetWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "endzone_target_workers",
			Help: "Desired workers per elastic stage",
		},
		[]string{"stage"},
	)

	cliffsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "endzone_cliffs_detected_total",
			Help: "Point starts confirmed by the cliff detector",
		},
	)

	reorderPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "endzone_reorder_pending_units",
			Help: "Units held by the feature stage waiting for a gap to fill",
		},
	)
)

func observeUnit(stage string, seconds float64) {
	unitsProcessed.WithLabelValues(stage).Inc()
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

func observeWorkers(p *Pool) {
	activeWorkers.WithLabelValues(p.Stage()).Set(float64(p.Active()))
	targetWorkers.WithLabelValues(p.Stage()).Set(float64(p.Target()))
}

// Package metrics holds the prometheus collectors recorded by the analysis
// stages and served by the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "landcover"

var (
	// StageDuration measures wall time per pipeline stage.
	// Labels: stage (fetch, composite, sample, train, assess, classify, change, trend, area, persist)
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of analysis pipeline stages in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"stage"})

	// ScenesFiltered counts scenes by composite filter outcome.
	// Labels: outcome (kept, date, bounds, cloud)
	ScenesFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "composite",
		Name:      "scenes_total",
		Help:      "Scenes considered for annual composites by filter outcome",
	}, []string{"outcome"})

	// Composites counts annual composites by result.
	// Labels: result (built, skipped)
	Composites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "composite",
		Name:      "composites_total",
		Help:      "Annual composites built or skipped",
	}, []string{"result"})

	// Samples counts extracted samples by partition.
	// Labels: partition (training, validation)
	Samples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sample",
		Name:      "samples_total",
		Help:      "Labeled samples by partition",
	}, []string{"partition"})

	// TreesTrained counts decision trees fit.
	TreesTrained = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "forest",
		Name:      "trees_trained_total",
		Help:      "Decision trees trained",
	})

	// PixelsClassified counts pixels passed through the classifier.
	PixelsClassified = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "forest",
		Name:      "pixels_classified_total",
		Help:      "Pixels classified by the random forest",
	})

	// Runs counts analysis runs by status.
	// Labels: status (succeeded, failed)
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Analysis runs by final status",
	}, []string{"status"})
)

// ObserveStage records the time elapsed since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

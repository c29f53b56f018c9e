package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "headcount_runs_total",
		Help: "Total number of analysis runs, by outcome",
	}, []string{"status"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "headcount_run_duration_seconds",
		Help:    "Duration of analysis runs",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"status"})

	FramesExaminedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "headcount_frames_examined_total",
		Help: "Total number of frames passed through the detector",
	})

	DetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "headcount_detection_duration_seconds",
		Help:    "Per-frame detector latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "headcount_active_runs",
		Help: "Number of runs currently holding a slot",
	})

	MaxCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "headcount_max_count",
		Help:    "Distribution of reported per-video maximum counts",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
	})

	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "headcount_upload_bytes",
		Help:    "Size of accepted uploads",
		Buckets: prometheus.ExponentialBuckets(64<<10, 4, 8),
	})
)

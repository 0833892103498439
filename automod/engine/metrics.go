package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "moderation_evaluation_duration_sec",
	Help: "Total duration of post evaluations, including the classifier call",
}, []string{"kind"})

var evaluationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_evaluations",
	Help: "Number of post evaluations, by outcome",
}, []string{"kind", "outcome", "reason"})

var assetCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderation_asset_cleanup_failures",
	Help: "Number of image asset deletions which failed after a takedown",
})

var schedulerDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_scheduler_dropped",
	Help: "Number of evaluations dropped because the queue was full or shut down",
}, []string{"kind"})

var schedulerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "moderation_scheduler_queue_depth",
	Help: "Number of evaluations waiting for a worker",
})

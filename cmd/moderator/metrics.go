package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("moderator")

var postsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderator_posts_created",
	Help: "Number of posts created",
})

var postsUpdated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderator_posts_updated",
	Help: "Number of posts edited by their author",
})

var postsDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderator_posts_deleted",
	Help: "Number of posts deleted by their author",
})

var assetReleaseFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderator_asset_release_failures",
	Help: "Number of superseded or orphaned image assets which could not be deleted",
})

var reviewStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "moderator_review_streams",
	Help: "Number of connected review websocket streams",
})

package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var broadcasterSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "moderation_broadcast_subscribers",
	Help: "Number of currently connected review subscribers",
})

var broadcasterPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_broadcast_published",
	Help: "Number of events published to the broadcaster",
}, []string{"event"})

var broadcasterDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderation_broadcast_dropped",
	Help: "Number of per-subscriber deliveries dropped due to a full buffer",
})

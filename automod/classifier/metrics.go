package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifierAPIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "moderation_classifier_api_duration_sec",
	Help: "Duration of classifier API requests",
}, []string{"kind"})

var classifierAPICount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_classifier_api_count",
	Help: "Number of classifier API requests, by response status code",
}, []string{"kind", "status"})

var classifierFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_classifier_failures",
	Help: "Number of classifier failures, by stage",
}, []string{"kind", "stage"})

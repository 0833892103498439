package cachestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_verdict_cache_lookups",
	Help: "Verdict cache lookups, by payload kind and result (hit, miss, error)",
}, []string{"kind", "result"})

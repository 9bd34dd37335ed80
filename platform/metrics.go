package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var apiCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_platform_api_calls",
	Help: "Number of federated platform API calls, by operation and HTTP status",
}, []string{"op", "status"})

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_platform_cache_lookups",
	Help: "Number of cached platform lookups, by kind and result",
}, []string{"kind", "result"})

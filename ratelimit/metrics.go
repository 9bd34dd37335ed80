package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reserveCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_ratelimit_reserve",
	Help: "Number of rate limit reservations, by outcome",
}, []string{"backend", "outcome"})

func observe(backend string, ok bool) {
	if ok {
		reserveCount.WithLabelValues(backend, "allowed").Inc()
	} else {
		reserveCount.WithLabelValues(backend, "limited").Inc()
	}
}

package propagate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sanctionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_sanction_calls",
	Help: "Number of individual sanction calls to downstream services",
}, []string{"action", "service", "result"})

var sanctionsPropagated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_sanctions_propagated",
	Help: "Number of sanctions propagated, by action and overall status",
}, []string{"action", "status"})

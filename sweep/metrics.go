package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_sweep_runs",
	Help: "Number of sweep passes, by result",
}, []string{"result"})

var sweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_sweep_items",
	Help: "Number of sanctions applied by the sweep, by result",
}, []string{"result"})

var decisionRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "signaly_decision_retries",
	Help: "Number of sanction decisions resumed by the sweep",
})

var sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "signaly_sweep_duration_sec",
	Help: "Duration of sweep passes",
})

package sanction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reportsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_reports_processed",
	Help: "Number of accepted reports, by platform and reason code",
}, []string{"platform", "reason"})

var requestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_requests_rejected",
	Help: "Number of rejected requests, by request type and rejection kind",
}, []string{"type", "kind"})

var tierOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_escalation_tier",
	Help: "Escalation tier chosen for accepted reports",
}, []string{"tier"})

var quotaTrips = promauto.NewCounter(prometheus.CounterOpts{
	Name: "signaly_suspend_quota_trips",
	Help: "Number of automatic suspensions downgraded because the daily quota was reached",
})

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "signaly_request_duration_sec",
	Help:    "Duration of request handling",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"type", "status"})

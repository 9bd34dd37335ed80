package main

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var handlerResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "signaly_http_results",
	Help: "Number of API responses, by route and result status",
}, []string{"route", "status"})

// registered once per process; the collectors can't be registered twice
var httpMetrics = echoprometheus.NewMiddleware("signaly")

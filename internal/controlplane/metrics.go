package controlplane

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts API requests.
	// Labels: route (the mux pattern), code
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total control plane requests",
	}, []string{"route", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardian",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Control plane request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian",
		Subsystem: "api",
		Name:      "ws_clients",
		Help:      "Connected threat stream subscribers",
	})
)

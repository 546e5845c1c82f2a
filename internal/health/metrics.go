package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// heartbeatsTotal counts accepted heartbeats.
	// Labels: type (component type tag)
	heartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "health",
		Name:      "heartbeats_total",
		Help:      "Total heartbeats accepted by the health monitor",
	}, []string{"type"})

	// alertsTotal counts alerts raised by the monitor.
	// Labels: type (anomaly, component_dead, resource_leak, stuck_process), severity
	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "health",
		Name:      "alerts_total",
		Help:      "Total health alerts raised",
	}, []string{"type", "severity"})

	// componentsByStatus tracks how many components are in each state after a check.
	componentsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "guardian",
		Subsystem: "health",
		Name:      "components",
		Help:      "Registered components by status",
	}, []string{"status"})
)

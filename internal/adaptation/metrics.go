package adaptation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// proposalsTotal counts proposals by assessed risk.
	proposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "adaptation",
		Name:      "proposals_total",
		Help:      "Total proposals raised",
	}, []string{"risk"})

	// transitionsTotal counts lifecycle transitions by resulting status.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "adaptation",
		Name:      "transitions_total",
		Help:      "Total proposal status transitions",
	}, []string{"status"})

	// deniedTotal counts refused operations.
	// Labels: op (approve, reject, apply, rollback), reason (error tag)
	deniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "adaptation",
		Name:      "denied_total",
		Help:      "Total refused proposal operations",
	}, []string{"op", "reason"})
)

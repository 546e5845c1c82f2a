package guardian

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// threatsTotal counts reported threats.
	// Labels: source (health_monitor, integrity, cleanup, adaptation), severity
	threatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Name:      "threats_total",
		Help:      "Total threats reported to the decision authority",
	}, []string{"source", "severity"})

	// threatsPending tracks unresolved threats.
	threatsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian",
		Name:      "threats_pending",
		Help:      "Threats awaiting resolution",
	})

	// scheduledRunsTotal counts scheduled job runs.
	// Labels: job (integrity, cleanup), result (ok, error)
	scheduledRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Name:      "scheduled_runs_total",
		Help:      "Total scheduled job runs",
	}, []string{"job", "result"})
)

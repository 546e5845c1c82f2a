package integrity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// checksTotal counts integrity passes.
	// Labels: kind (baseline, quick, scan)
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "integrity",
		Name:      "checks_total",
		Help:      "Total integrity passes run",
	}, []string{"kind"})

	// checkDuration measures the wall time of each pass.
	checkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "guardian",
		Subsystem: "integrity",
		Name:      "check_duration_seconds",
		Help:      "Duration of integrity passes",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"kind"})

	// issuesTotal counts issues found.
	// Labels: type, severity
	issuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "integrity",
		Name:      "issues_total",
		Help:      "Total integrity issues found",
	}, []string{"type", "severity"})

	// manifestFiles is the number of files in the baseline.
	manifestFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian",
		Subsystem: "integrity",
		Name:      "manifest_files",
		Help:      "Files currently in the integrity baseline",
	})
)

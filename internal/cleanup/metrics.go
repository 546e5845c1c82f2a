package cleanup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts cleanup runs.
	// Labels: mode (clean, dry_run, emergency, vetoed)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "cleanup",
		Name:      "runs_total",
		Help:      "Total cleanup runs",
	}, []string{"mode"})

	// filesDeletedTotal counts deleted files.
	// Labels: category
	filesDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "cleanup",
		Name:      "files_deleted_total",
		Help:      "Total files deleted by cleanup",
	}, []string{"category"})

	deleteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "cleanup",
		Name:      "delete_failures_total",
		Help:      "Total failed file deletions",
	})

	freedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "cleanup",
		Name:      "freed_bytes_total",
		Help:      "Total bytes reclaimed",
	})

	// cleanableBytes is the size of all candidates found by the last scan.
	cleanableBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "guardian",
		Subsystem: "cleanup",
		Name:      "cleanable_bytes",
		Help:      "Bytes eligible for cleanup at the last scan",
	})
)

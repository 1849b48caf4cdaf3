package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipmind_ingest_events_total",
		Help: "Clipboard events by outcome",
	}, []string{"result"})

	enrichTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipmind_enrichment_total",
		Help: "Background enrichment tasks by kind and result",
	}, []string{"kind", "result"})

	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipmind_cleanup_runs_total",
		Help: "Retention cleanup runs",
	})

	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipmind_cleanup_deleted_total",
		Help: "Items removed by retention cleanup",
	})

	cleanupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clipmind_cleanup_duration_seconds",
		Help:    "Retention cleanup duration",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

func rejectionLabel(err error) string {
	switch err {
	case ErrEmptyOrInvalidInput:
		return "empty"
	case ErrPasswordIgnored:
		return "password_ignored"
	case ErrDuplicateContent:
		return "duplicate"
	case ErrIgnoredSource:
		return "ignored"
	}
	return "error"
}

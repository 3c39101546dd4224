package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "specmatrix_jobs_submitted_total",
		Help: "Jobs that entered the pipeline.",
	})
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "specmatrix_jobs_completed_total",
		Help: "Jobs that reached the done state.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "specmatrix_jobs_failed_total",
		Help: "Jobs that reached the error state.",
	})
	docsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "specmatrix_documents_analyzed_total",
		Help: "Documents successfully analyzed by the layout provider.",
	})
	docsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "specmatrix_documents_failed_total",
		Help: "Documents skipped after a failed layout analysis.",
	})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "specmatrix_job_duration_seconds",
		Help:    "End-to-end duration of completed jobs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

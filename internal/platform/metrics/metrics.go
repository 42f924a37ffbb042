// Package metrics holds the Prometheus collectors of the import pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importedObjects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_import_objects_total",
		Help: "Objects processed by import jobs, by job type and outcome",
	}, []string{"job_type", "outcome"})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_import_jobs_total",
		Help: "Import jobs run, by job type and final status",
	}, []string{"job_type", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_import_job_duration_seconds",
		Help:    "Duration of import jobs",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"job_type"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_import_jobs_running",
		Help: "Import jobs currently holding a concurrency slot",
	})
)

// Counts is the counter block of an import summary.
type Counts struct {
	Imported, Updated, Deleted, Ignored int
}

// ObserveJob records a finished job. Call with time.Now() taken when the
// job started.
func ObserveJob(jobType, status string, counts Counts, start time.Time) {
	jobsTotal.WithLabelValues(jobType, status).Inc()
	jobDuration.WithLabelValues(jobType).Observe(time.Since(start).Seconds())
	importedObjects.WithLabelValues(jobType, "imported").Add(float64(counts.Imported))
	importedObjects.WithLabelValues(jobType, "updated").Add(float64(counts.Updated))
	importedObjects.WithLabelValues(jobType, "deleted").Add(float64(counts.Deleted))
	importedObjects.WithLabelValues(jobType, "ignored").Add(float64(counts.Ignored))
}

func JobStarted()  { jobsRunning.Inc() }
func JobFinished() { jobsRunning.Dec() }

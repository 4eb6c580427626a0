// Package metrics holds the Prometheus collectors of the analytics pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "insight"

var (
	PageViewsTracked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pageviews_tracked_total",
		Help:      "Page views persisted by the ingestion service.",
	})

	EventsTracked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_tracked_total",
		Help:      "Analytics events persisted by the ingestion service.",
	})

	TrackingSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracking_skipped_total",
		Help:      "Requests excluded from tracking, by reason.",
	}, []string{"reason"})

	TrackingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracking_failures_total",
		Help:      "Ingestion jobs that failed, by operation.",
	}, []string{"operation"})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Sessions created.",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_closed_total",
		Help:      "Sessions closed, by reason (superseded, idle).",
	}, []string{"reason"})

	ExecutorJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "jobs_total",
		Help:      "Background jobs by outcome (ok, failed, panicked, dropped, throttled, rejected).",
	}, []string{"result"})

	ExecutorQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "queue_depth",
		Help:      "Jobs waiting in the executor queue.",
	})

	ExecutorJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "job_duration_seconds",
		Help:      "Background job run time.",
		Buckets:   prometheus.DefBuckets,
	})

	ReportQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "report",
		Name:      "query_duration_seconds",
		Help:      "Reporting query latency by report name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"report"})

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Authenticated realtime observers.",
	})

	RealtimeBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "broadcasts_total",
		Help:      "Realtime snapshots pushed to the connection set.",
	})
)

// ObserveReport records the elapsed time of a named report since start.
func ObserveReport(report string, start time.Time) {
	ReportQueryDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())
}

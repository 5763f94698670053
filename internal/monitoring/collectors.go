package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	dispatches          *prometheus.CounterVec
	generatedInstances  prometheus.Counter
	digests             *prometheus.CounterVec
	reschedules         *prometheus.CounterVec
	batchDuration       *prometheus.HistogramVec
	scheduled           *prometheus.GaugeVec
	jobRuns             *prometheus.CounterVec
	jobLastSuccess      *prometheus.GaugeVec
	apiLatency          *prometheus.HistogramVec
	realtimeConnections prometheus.Gauge
	realtimeBroadcasts  *prometheus.CounterVec
	realtimeFailures    *prometheus.CounterVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	batchBuckets := []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300}

	return &collectors{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dispatched_total",
				Help:      "Notification delivery attempts by channel and result",
			},
			[]string{"channel", "result"},
		),
		generatedInstances: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recurring_instances_generated_total",
				Help:      "Occurrences materialised from recurring series",
			},
		),
		digests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "digests_total",
				Help:      "Digest outcomes per user by digest type",
			},
			[]string{"digest_type", "result"},
		),
		reschedules: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reschedules_total",
				Help:      "Reschedule requests by result",
			},
			[]string{"result"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of engine batches",
				Buckets:   batchBuckets,
			},
			[]string{"job"},
		),
		scheduled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduled_notifications",
				Help:      "Scheduled notifications per time bucket at the last stats refresh",
			},
			[]string{"bucket"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_job_runs_total",
				Help:      "Scheduler job executions",
			},
			[]string{"job", "result"},
		),
		jobLastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_job_last_success_timestamp",
				Help:      "Timestamp of the last successful scheduler job run (seconds since epoch)",
			},
			[]string{"job"},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		realtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_connections",
				Help:      "Active realtime websocket connections",
			},
		),
		realtimeBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_broadcasts_total",
				Help:      "Messages broadcast across realtime streams",
			},
			[]string{"stream"},
		),
		realtimeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_failures_total",
				Help:      "Realtime delivery failures",
			},
			[]string{"stream", "type"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.dispatches,
		c.generatedInstances,
		c.digests,
		c.reschedules,
		c.batchDuration,
		c.scheduled,
		c.jobRuns,
		c.jobLastSuccess,
		c.apiLatency,
		c.realtimeConnections,
		c.realtimeBroadcasts,
		c.realtimeFailures,
	}
}

// observeDuration records a duration in seconds on the supplied histogram observer.
func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}

package monitoring

import (
	"strings"
	"time"
)

// Schedule buckets reported by RecordSchedule.
const (
	BucketDueNow       = "due_now"
	BucketNextHour     = "next_hour"
	BucketNext24h      = "next_24h"
	BucketOverdue      = "overdue"
	BucketActiveSeries = "active_series"
	BucketStaleClaims  = "stale_claims"
)

// ObserveDispatch counts a delivery attempt on channel.
func (m *Module) ObserveDispatch(channel string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	channel = normalizeLabel(channel)
	m.metrics.dispatches.WithLabelValues(channel, result).Inc()
	m.stats.recordDispatch(channel, err)
}

// AddGeneratedInstances counts materialised series occurrences.
func (m *Module) AddGeneratedInstances(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.metrics.generatedInstances.Add(float64(n))
	m.stats.generated.Add(uint64(n))
}

// ObserveDigest counts one per-user digest outcome.
func (m *Module) ObserveDigest(digestType, result string) {
	if m == nil {
		return
	}
	result = normalizeLabel(result)
	m.metrics.digests.WithLabelValues(normalizeLabel(digestType), result).Inc()
	m.stats.recordDigest(result)
}

// ObserveReschedule counts a reschedule request.
func (m *Module) ObserveReschedule(result string) {
	if m == nil {
		return
	}
	result = normalizeLabel(result)
	m.metrics.reschedules.WithLabelValues(result).Inc()
	m.stats.recordReschedule(result)
}

// ObserveBatch records the duration of an engine batch.
func (m *Module) ObserveBatch(job string, elapsed time.Duration) {
	if m == nil {
		return
	}
	observeDuration(m.metrics.batchDuration.WithLabelValues(normalizeLabel(job)), elapsed)
}

// RecordSchedule publishes the latest per-bucket scheduled counts.
func (m *Module) RecordSchedule(buckets map[string]int64, at time.Time) {
	if m == nil {
		return
	}
	for bucket, count := range buckets {
		bucket = strings.TrimSpace(bucket)
		if bucket == "" {
			continue
		}
		m.metrics.scheduled.WithLabelValues(bucket).Set(float64(count))
	}
	m.stats.recordSchedule(buckets, at)
}

// RecordJobRun records the completion of a scheduler job.
func (m *Module) RecordJobRun(job, result, message string, duration time.Duration) {
	if m == nil {
		return
	}
	job = normalizeLabel(job)
	result = normalizeLabel(result)
	m.metrics.jobRuns.WithLabelValues(job, result).Inc()
	if result == "success" {
		m.metrics.jobLastSuccess.WithLabelValues(job).Set(float64(time.Now().Unix()))
	}
	m.stats.jobEntry(job).record(result, strings.TrimSpace(message), duration)
}

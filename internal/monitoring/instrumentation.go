package monitoring

import (
	"strings"
	"time"
)

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := CurrentModule()
	if module == nil {
		return
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	observeDuration(module.metrics.apiLatency.WithLabelValues(method, path, status), duration)
}

// RecordRealtimeConnection adjusts the websocket connection gauge.
func RecordRealtimeConnection(delta int64) {
	module := CurrentModule()
	if module == nil || delta == 0 {
		return
	}
	if current := module.stats.adjustRealtimeConnections(delta); current == 0 {
		module.metrics.realtimeConnections.Set(0)
		return
	}
	module.metrics.realtimeConnections.Add(float64(delta))
}

// RecordRealtimeBroadcast counts an envelope delivered on stream.
func RecordRealtimeBroadcast(stream string) {
	module := CurrentModule()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	module.metrics.realtimeBroadcasts.WithLabelValues(stream).Inc()
	module.stats.realtimeBroadcasts.Add(1)
}

// RecordRealtimeFailure snapshots a realtime failure occurrence.
func RecordRealtimeFailure(stream, failureType, message string) {
	module := CurrentModule()
	if module == nil {
		return
	}
	stream = normalizePath(stream)
	failureType = normalizeLabel(failureType)
	module.metrics.realtimeFailures.WithLabelValues(stream, failureType).Inc()
	module.stats.recordRealtimeFailure(FailureRecord{
		Stream:   stream,
		Type:     failureType,
		Message:  strings.TrimSpace(message),
		Occurred: time.Now(),
	})
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	return normalizePath(path)
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	path = strings.ReplaceAll(path, " ", "_")
	if path == "" {
		return "root"
	}
	return path
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/monitoring"
	"github.com/charlesng35/csrnotify/pkg/response"
)

// MonitoringHandler surfaces engine activity summaries for operators.
type MonitoringHandler struct {
	module          *monitoring.Module
	metricsEndpoint string
}

// NewMonitoringHandler constructs a monitoring handler. Returns nil when monitoring is disabled.
func NewMonitoringHandler(module *monitoring.Module, metricsEndpoint string) *MonitoringHandler {
	if module == nil {
		return nil
	}
	endpoint := strings.TrimSpace(metricsEndpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}
	return &MonitoringHandler{module: module, metricsEndpoint: endpoint}
}

// Summary returns aggregated dispatch, digest, schedule and job statistics.
func (h *MonitoringHandler) Summary(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"summary": h.module.Snapshot(),
		"prometheus": gin.H{
			"endpoint": h.metricsEndpoint,
		},
	})
}

// Metrics serves the Prometheus exposition of the module registry.
func (h *MonitoringHandler) Metrics(c *gin.Context) {
	h.module.Handler().ServeHTTP(c.Writer, c.Request)
}

// Endpoint returns the path the Prometheus exposition is mounted on.
func (h *MonitoringHandler) Endpoint() string {
	return h.metricsEndpoint
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/monitoring"
)

// HealthHandler reports the liveness and readiness probes.
type HealthHandler struct {
	manager *monitoring.HealthManager
	now     func() time.Time
}

// NewHealthHandler constructs a health handler. A nil manager reports the service as up
// without running any probe.
func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	return &HealthHandler{manager: manager, now: time.Now}
}

// Health returns the readiness status without per-check detail.
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.readiness(c)
	c.JSON(statusFor(report), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checked_at": h.now().UTC(),
	})
}

// Live evaluates the liveness probes.
func (h *HealthHandler) Live(c *gin.Context) {
	report := monitoring.HealthReport{Success: true, Status: monitoring.StatusUp}
	if h.manager != nil {
		report = h.manager.EvaluateLiveness(requestContext(c))
	}
	h.write(c, report)
}

// Ready evaluates the readiness probes.
func (h *HealthHandler) Ready(c *gin.Context) {
	h.write(c, h.readiness(c))
}

func (h *HealthHandler) readiness(c *gin.Context) monitoring.HealthReport {
	if h.manager == nil {
		return monitoring.HealthReport{Success: true, Status: monitoring.StatusUp}
	}
	return h.manager.EvaluateReadiness(requestContext(c))
}

func (h *HealthHandler) write(c *gin.Context, report monitoring.HealthReport) {
	c.JSON(statusFor(report), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": h.now().UTC(),
	})
}

func statusFor(report monitoring.HealthReport) int {
	if !report.Success {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/services"
	"github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
)

// SchedulingOptions tune the operator triggers.
type SchedulingOptions struct {
	// DefaultHorizon is added to the current time when a generate request omits a horizon.
	DefaultHorizon time.Duration
	// DefaultLimit bounds process-due when the caller omits limit.
	DefaultLimit int
	Now          func() time.Time
}

// SchedulingHandler exposes the batch operations of the engine to operators.
type SchedulingHandler struct {
	engine *services.Engine
	opts   SchedulingOptions
}

// NewSchedulingHandler constructs a scheduling handler.
func NewSchedulingHandler(engine *services.Engine, opts SchedulingOptions) (*SchedulingHandler, error) {
	if engine == nil {
		return nil, errors.ErrInternalServer.WithMessage("scheduling handler: engine is required")
	}
	if opts.DefaultHorizon <= 0 {
		opts.DefaultHorizon = 7 * 24 * time.Hour
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = services.DefaultDueLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SchedulingHandler{engine: engine, opts: opts}, nil
}

type generateRequest struct {
	Horizon *time.Time `json:"horizon"`
}

// Stats returns the current scheduling statistics.
func (h *SchedulingHandler) Stats(c *gin.Context) {
	stats, err := h.engine.GetSchedulingStats(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// ProcessDue runs one due-notification batch.
func (h *SchedulingHandler) ProcessDue(c *gin.Context) {
	limit := parseIntQuery(c, "limit", h.opts.DefaultLimit)
	if limit <= 0 {
		response.Error(c, errors.NewBadRequest("limit must be positive"))
		return
	}

	result, err := h.engine.ProcessDue(requestContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Generate materialises recurring occurrences up to the requested horizon.
func (h *SchedulingHandler) Generate(c *gin.Context) {
	var req generateRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	horizon := h.opts.Now().UTC().Add(h.opts.DefaultHorizon)
	if req.Horizon != nil {
		horizon = req.Horizon.UTC()
	}

	report, err := h.engine.GenerateInstances(requestContext(c), horizon)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// DeactivateSeries stops a recurring series and cancels its undelivered occurrences.
func (h *SchedulingHandler) DeactivateSeries(c *gin.Context) {
	scheduleID, ok := pathID(c, "scheduleID")
	if !ok {
		return
	}

	cancelled, err := h.engine.Recurrence.DeactivateSeries(requestContext(c), scheduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"schedule_id": scheduleID,
		"cancelled":   cancelled,
	})
}

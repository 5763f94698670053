package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/services"
	"github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
)

// DigestHandler triggers digest runs and previews digests.
type DigestHandler struct {
	engine *services.Engine
}

// NewDigestHandler constructs a digest handler.
func NewDigestHandler(engine *services.Engine) (*DigestHandler, error) {
	if engine == nil {
		return nil, errors.ErrInternalServer.WithMessage("digest handler: engine is required")
	}
	return &DigestHandler{engine: engine}, nil
}

type digestRunRequest struct {
	UserIDs []string `json:"user_ids" validate:"omitempty,max=1000,dive,max=64"`
}

// Run generates and sends digests of the type named in the path.
func (h *DigestHandler) Run(c *gin.Context) {
	digestType := strings.ToLower(strings.TrimSpace(c.Param("type")))

	var req digestRunRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.engine.GenerateAndSendDigests(requestContext(c), digestType, req.UserIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Preview builds a digest without creating a notification. Operators may preview any user
// through user_id; everyone else previews their own.
func (h *DigestHandler) Preview(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if requested := strings.TrimSpace(c.Query("user_id")); requested != "" {
		if !canAccess(c, requested) {
			response.Error(c, errors.ErrNotFound)
			return
		}
		userID = requested
	}

	req := services.DigestRequest{
		UserID:         userID,
		DigestType:     strings.ToLower(strings.TrimSpace(c.Param("type"))),
		IncludeRead:    parseBoolQuery(c, "include_read"),
		Limit:          parseIntQuery(c, "limit", 0),
		IncludeSummary: true,
		GroupByType:    true,
	}

	from, to := strings.TrimSpace(c.Query("from")), strings.TrimSpace(c.Query("to"))
	if from != "" || to != "" {
		window, err := parseWindow(from, to)
		if err != nil {
			response.Error(c, err)
			return
		}
		req.Window = window
	}

	payload, err := h.engine.Digests.BuildDigest(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

func parseWindow(from, to string) (*services.Window, error) {
	if from == "" || to == "" {
		return nil, errors.NewBadRequest("from and to must be provided together")
	}
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return nil, errors.NewBadRequest("from must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return nil, errors.NewBadRequest("to must be an RFC 3339 timestamp")
	}
	return &services.Window{Start: start, End: end}, nil
}

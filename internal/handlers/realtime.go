package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/middleware"
	"github.com/charlesng35/csrnotify/internal/realtime"
	"github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket streams.
type RealtimeHandler struct {
	hub    *realtime.Hub
	tokens middleware.TokenValidator
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, tokens middleware.TokenValidator) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, tokens: tokens}
}

// Stream validates the caller and subscribes the connection to the requested streams.
// Browsers cannot set headers on websocket requests, so the token may arrive as a query
// parameter.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.tokens == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}
	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.tokens.ValidateAccessToken(token)
	if err != nil || strings.TrimSpace(claims.UserID) == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = []string{realtime.StreamNotifications}
	}
	for _, stream := range streams {
		if !knownStream(stream) {
			response.Error(c, errors.ErrNotFound.WithMessage("unknown stream %q", stream))
			return
		}
	}

	h.hub.Serve(strings.TrimSpace(claims.UserID), streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return uniqueStreams(streams)
}

func knownStream(stream string) bool {
	for _, known := range realtime.KnownStreams() {
		if stream == known {
			return true
		}
	}
	return false
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

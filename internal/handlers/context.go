package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/middleware"
	"github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUser returns the authenticated user id, writing a 401 when there is none.
func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// canAccess reports whether the caller may see notifications addressed to recipientID.
func canAccess(c *gin.Context, recipientID string) bool {
	if middleware.ClaimsFrom(c).IsAdmin() {
		return true
	}
	return c.GetString(middleware.CtxUserIDKey) == recipientID
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/services"
	"github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/response"
)

// NotificationHandler exposes HTTP endpoints for notifications.
type NotificationHandler struct {
	engine *services.Engine
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(engine *services.Engine) (*NotificationHandler, error) {
	if engine == nil {
		return nil, errors.ErrInternalServer.WithMessage("notification handler: engine is required")
	}
	return &NotificationHandler{engine: engine}, nil
}

type rescheduleRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
	Reason       string    `json:"reason" validate:"max=255"`
}

// Create stores a notification on behalf of a producer.
func (h *NotificationHandler) Create(c *gin.Context) {
	var input services.CreateNotificationInput
	if !bindAndValidate(c, &input) {
		return
	}

	n, err := h.engine.Notifications.Create(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, n)
}

// Get returns a single notification. Callers without an operator role only see their own.
func (h *NotificationHandler) Get(c *gin.Context) {
	n, ok := h.load(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, n)
}

// List returns the caller's notifications, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	items, err := h.engine.Notifications.ListForUser(requestContext(c), services.ListNotificationsInput{
		RecipientID: userID,
		UnreadOnly:  parseBoolQuery(c, "unread"),
		Limit:       parseIntQuery(c, "limit", 25),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}

// MarkRead records that the recipient read a delivered notification.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	n, ok := h.load(c)
	if !ok {
		return
	}

	updated, err := h.engine.Notifications.MarkRead(requestContext(c), n.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, updated)
}

// Cancel stops a pending or scheduled notification.
func (h *NotificationHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	n, err := h.engine.Notifications.Cancel(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, n)
}

// Reschedule moves a pending or scheduled notification to a new time.
func (h *NotificationHandler) Reschedule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req rescheduleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	if err := h.engine.RescheduleNotification(ctx, id, req.ScheduledFor, req.Reason); err != nil {
		response.Error(c, err)
		return
	}

	n, err := h.engine.Notifications.Get(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, n)
}

func (h *NotificationHandler) load(c *gin.Context) (*models.Notification, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}

	n, err := h.engine.Notifications.Get(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if !canAccess(c, n.RecipientID) {
		response.Error(c, errors.ErrNotFound)
		return nil, false
	}
	return n, true
}

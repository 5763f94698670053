package dispatch

import (
	"context"
	"time"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/realtime"
)

// Broadcaster pushes envelopes to connected clients.
type Broadcaster interface {
	BroadcastToUser(stream, userID string, env realtime.Envelope) bool
}

// InAppPayload is the notification shape pushed to websocket clients.
type InAppPayload struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Priority    string         `json:"priority"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// InAppSender delivers the "database" channel: the row already exists, so delivery is a
// realtime push to any connected session of the recipient. Offline recipients read it later.
type InAppSender struct {
	hub Broadcaster
}

// NewInAppSender constructs an InAppSender. A nil hub makes delivery a no-op.
func NewInAppSender(hub Broadcaster) *InAppSender {
	return &InAppSender{hub: hub}
}

// Send implements Sender.
func (s *InAppSender) Send(_ context.Context, n *models.Notification, _ Options) error {
	if s.hub == nil {
		return nil
	}
	s.hub.BroadcastToUser(realtime.StreamNotifications, n.RecipientID, realtime.Envelope{
		Event: "notification.created",
		Data: InAppPayload{
			ID:          n.ID,
			RecipientID: n.RecipientID,
			Type:        n.Type,
			Title:       n.Title,
			Message:     n.Message,
			Priority:    n.Priority,
			Data:        n.Data,
			CreatedAt:   n.CreatedAt,
		},
	})
	return nil
}

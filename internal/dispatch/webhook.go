package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/charlesng35/csrnotify/internal/models"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

// WebhookConfig configures delivery to an HTTP gateway (SMS or push provider).
type WebhookConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// WebhookPayload is the JSON body posted to the gateway.
type WebhookPayload struct {
	NotificationID string         `json:"notification_id"`
	Channel        string         `json:"channel"`
	RecipientID    string         `json:"recipient_id"`
	Phone          string         `json:"phone,omitempty"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Priority       string         `json:"priority"`
	Data           map[string]any `json:"data,omitempty"`
	Attempt        int            `json:"attempt"`
}

// WebhookSender posts notifications to an HTTP gateway.
type WebhookSender struct {
	client *resty.Client
	url    string
	prefs  PreferenceLookup
}

// NewWebhookSender constructs a WebhookSender. prefs is optional and supplies phone numbers.
func NewWebhookSender(cfg WebhookConfig, prefs PreferenceLookup) (*WebhookSender, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("webhook sender: url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "csrnotify-webhook/1")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &WebhookSender{client: client, url: url, prefs: prefs}, nil
}

// Send implements Sender.
func (s *WebhookSender) Send(ctx context.Context, n *models.Notification, opts Options) error {
	payload := WebhookPayload{
		NotificationID: n.ID,
		Channel:        n.Channel,
		RecipientID:    n.RecipientID,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
		Data:           n.Data,
		Attempt:        opts.Attempt,
	}
	if s.prefs != nil {
		pref, err := s.prefs.FindByUserID(ctx, n.RecipientID)
		switch {
		case err == nil:
			payload.Phone = pref.Phone
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook sender: post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook sender: gateway responded %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

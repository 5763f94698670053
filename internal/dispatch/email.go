package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/mail"
)

// Data keys the email sender reads for pre-rendered bodies.
const (
	DataKeyHTML = "html"
	DataKeyText = "text"
)

// PreferenceLookup resolves contact details for a recipient.
type PreferenceLookup interface {
	FindByUserID(ctx context.Context, userID string) (*models.NotificationPreference, error)
}

var _ PreferenceLookup = (repository.PreferenceRepository)(nil)

// EmailSender delivers notifications through a mail.Mailer.
type EmailSender struct {
	mailer mail.Mailer
	prefs  PreferenceLookup
}

// NewEmailSender constructs an EmailSender.
func NewEmailSender(mailer mail.Mailer, prefs PreferenceLookup) (*EmailSender, error) {
	if mailer == nil {
		return nil, errors.New("email sender: mailer is required")
	}
	if prefs == nil {
		return nil, errors.New("email sender: preference lookup is required")
	}
	return &EmailSender{mailer: mailer, prefs: prefs}, nil
}

// Send implements Sender.
func (s *EmailSender) Send(ctx context.Context, n *models.Notification, _ Options) error {
	pref, err := s.prefs.FindByUserID(ctx, n.RecipientID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("email sender: no contact preferences for %s", n.RecipientID)
		}
		return err
	}
	address := strings.TrimSpace(pref.Email)
	if address == "" {
		return fmt.Errorf("email sender: recipient %s has no email address", n.RecipientID)
	}

	text := n.Message
	if body, ok := n.Data[DataKeyText].(string); ok && body != "" {
		text = body
	}
	html, _ := n.Data[DataKeyHTML].(string)

	return s.mailer.Send(ctx, mail.Message{
		To:       []string{address},
		Subject:  n.Title,
		TextBody: text,
		HTMLBody: html,
	})
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/validator"
)

// CreateNotificationInput defines the attributes accepted by the creation path.
type CreateNotificationInput struct {
	RecipientID  string                   `json:"recipient_id" validate:"notblank,max=64"`
	SenderID     string                   `json:"sender_id,omitempty" validate:"max=64"`
	Title        string                   `json:"title" validate:"notblank,max=255"`
	Message      string                   `json:"message"`
	Type         string                   `json:"type" validate:"notblank,max=64"`
	Channel      string                   `json:"channel" validate:"required,oneof=email sms push database"`
	Priority     string                   `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	Data         map[string]any           `json:"data,omitempty"`
	ScheduledFor *time.Time               `json:"scheduled_for,omitempty"`
	Recurrence   *models.RecurrenceConfig `json:"recurrence,omitempty"`
	Flags        map[string]any           `json:"flags,omitempty"`

	// Set by internal producers only.
	Digest   *models.DigestInfo `json:"-"`
	DedupKey string             `json:"-"`
}

// ListNotificationsInput defines filters for querying a recipient's notifications.
type ListNotificationsInput struct {
	RecipientID string
	UnreadOnly  bool
	Limit       int
}

// NotificationService is the creation path shared by API callers and internal producers such
// as the digest aggregator.
type NotificationService struct {
	repo      repository.NotificationRepository
	delivery  *deliverer
	now       func() time.Time
	log       *zap.Logger
	publisher EventPublisher
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(repo repository.NotificationRepository, dispatcher Dispatcher, opts ...Option) (*NotificationService, error) {
	if repo == nil {
		return nil, errors.New("notification service: repository is required")
	}
	if dispatcher == nil {
		return nil, errors.New("notification service: dispatcher is required")
	}
	o := buildOptions("notifications", opts)
	return &NotificationService{
		repo: repo,
		delivery: &deliverer{
			repo:       repo,
			dispatcher: dispatcher,
			now:        o.now,
			log:        o.log,
			metrics:    o.metrics,
		},
		now:       o.clock,
		log:       o.log,
		publisher: o.publisher,
	}, nil
}

// Create persists a notification. Future notifications are stored as scheduled; anything else
// is stored as pending and dispatched immediately. A dispatch failure is recorded on the
// returned notification rather than returned as an error.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*models.Notification, error) {
	ctx = ensureContext(ctx)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, err
	}

	now := s.now()
	n := &models.Notification{
		RecipientID: strings.TrimSpace(input.RecipientID),
		Title:       strings.TrimSpace(input.Title),
		Message:     input.Message,
		Type:        strings.TrimSpace(input.Type),
		Channel:     input.Channel,
		Priority:    defaultIfEmpty(input.Priority, models.PriorityNormal),
		Data:        copyData(input.Data),
		Status:      models.StatusPending,
	}
	if sender := strings.TrimSpace(input.SenderID); sender != "" {
		n.SenderID = &sender
	}
	if input.DedupKey != "" {
		key := input.DedupKey
		n.DedupKey = &key
	}
	if input.ScheduledFor != nil {
		at := input.ScheduledFor.UTC()
		n.ScheduledFor = &at
		if at.After(now) {
			n.Status = models.StatusScheduled
		}
	}

	meta := models.NotificationMetadata{Digest: input.Digest, Flags: input.Flags}
	if input.Recurrence != nil {
		cfg, err := prepareRecurrence(*input.Recurrence, n.ScheduledFor)
		if err != nil {
			return nil, err
		}
		scheduleID := uuid.NewString()
		n.ScheduleID = &scheduleID
		meta.Recurrence = &cfg
	}
	n.SetMeta(meta)

	if err := s.repo.Create(ctx, n); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("notification service: create: %w", err)
	}

	if n.Status == models.StatusPending {
		if _, err := s.delivery.deliver(ctx, n, models.StatusPending, "immediate"); err != nil {
			s.log.Warn("immediate delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("channel", n.Channel),
				zap.Error(err),
			)
		}
	}
	return n, nil
}

func prepareRecurrence(cfg models.RecurrenceConfig, scheduledFor *time.Time) (models.RecurrenceConfig, error) {
	if scheduledFor == nil {
		return cfg, apperrors.ErrInvalidData.WithMessage("recurring notifications require scheduled_for")
	}
	if !cfg.Frequency.Valid() || cfg.Interval <= 0 {
		return cfg, apperrors.ErrInvalidConfiguration.WithMessage("unsupported recurrence %d %s", cfg.Interval, cfg.Frequency)
	}
	if cfg.EndDate != nil {
		end := cfg.EndDate.UTC()
		if end.Before(*scheduledFor) {
			return cfg, apperrors.ErrInvalidData.WithMessage("recurrence end date precedes the first occurrence")
		}
		cfg.EndDate = &end
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = models.DefaultMaxOccurrences
	}
	cfg.IsRecurring = true
	cfg.RecurringActive = true
	return cfg, nil
}

// Get returns a notification by id.
func (s *NotificationService) Get(ctx context.Context, id string) (*models.Notification, error) {
	return s.repo.FindByID(ensureContext(ctx), strings.TrimSpace(id))
}

// ListForUser returns a recipient's notifications ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]models.Notification, error) {
	recipient := strings.TrimSpace(input.RecipientID)
	if recipient == "" {
		return nil, apperrors.ErrInvalidData.WithMessage("recipient id is required")
	}
	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	return s.repo.Find(ensureContext(ctx), repository.Filter{
		RecipientID: recipient,
		UnreadOnly:  input.UnreadOnly,
		Order:       repository.OrderCreatedDesc,
	}, limit)
}

// MarkRead records that the recipient has read a delivered notification.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	ctx = ensureContext(ctx)
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status == models.StatusRead {
		return n, nil
	}
	if !n.Status.CanTransitionTo(models.StatusRead) {
		return nil, apperrors.ErrInvalidState.WithMessage("cannot mark %s notification as read", n.Status)
	}

	readAt := s.now()
	ok, err := s.repo.TransitionStatus(ctx, id, models.Sources(models.StatusRead), models.StatusRead, map[string]any{"read_at": readAt})
	if err != nil {
		return nil, fmt.Errorf("notification service: mark read: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrInvalidState.WithMessage("notification changed state concurrently")
	}

	n.Status = models.StatusRead
	n.ReadAt = &readAt
	s.publish(n, "notification.read")
	return n, nil
}

// Cancel stops a pending or scheduled notification from being delivered.
func (s *NotificationService) Cancel(ctx context.Context, id string) (*models.Notification, error) {
	ctx = ensureContext(ctx)
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.Status.CanTransitionTo(models.StatusCancelled) {
		return nil, apperrors.ErrInvalidState.WithMessage("cannot cancel %s notification", n.Status)
	}

	ok, err := s.repo.TransitionStatus(ctx, id, models.Sources(models.StatusCancelled), models.StatusCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("notification service: cancel: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrInvalidState.WithMessage("notification changed state concurrently")
	}

	n.Status = models.StatusCancelled
	s.publish(n, "notification.cancelled")
	return n, nil
}

func (s *NotificationService) publish(n *models.Notification, event string) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishNotificationEvent(n.RecipientID, event, n)
}

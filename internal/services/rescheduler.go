package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

// Rescheduler moves pending or scheduled notifications to a new time.
type Rescheduler struct {
	repo    repository.NotificationRepository
	now     func() time.Time
	log     *zap.Logger
	metrics Metrics
}

// NewRescheduler constructs a Rescheduler.
func NewRescheduler(repo repository.NotificationRepository, opts ...Option) (*Rescheduler, error) {
	if repo == nil {
		return nil, errors.New("rescheduler: repository is required")
	}
	o := buildOptions("scheduler", opts)
	return &Rescheduler{repo: repo, now: o.clock, log: o.log, metrics: o.metrics}, nil
}

// Reschedule sets the notification's scheduled time to newTime and appends an entry to its
// reschedule history. The notification must be pending or scheduled and newTime must be in
// the future.
func (r *Rescheduler) Reschedule(ctx context.Context, id string, newTime time.Time, reason string) error {
	err := r.reschedule(ensureContext(ctx), id, newTime, strings.TrimSpace(reason))
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	r.metrics.ObserveReschedule(result)
	return err
}

func (r *Rescheduler) reschedule(ctx context.Context, id string, newTime time.Time, reason string) error {
	n, err := r.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.ErrNotFound.WithMessage("notification %s not found", id)
		}
		return apperrors.ErrSchedulingFailed.WithInternal(err)
	}
	if !n.Status.Reschedulable() {
		return apperrors.ErrInvalidState.WithMessage("cannot reschedule notification in status %s", n.Status)
	}

	now := r.now()
	newTime = newTime.UTC()
	if !newTime.After(now) {
		return apperrors.ErrInvalidTime.WithMessage("new time %s is not in the future", newTime.Format(time.RFC3339))
	}

	meta := n.Meta()
	meta.RescheduleHistory = append(meta.RescheduleHistory, models.RescheduleEntry{
		RescheduledAt:        now,
		PreviousScheduledFor: n.ScheduledFor,
		NewScheduledFor:      newTime,
		Reason:               reason,
	})
	fields := models.MetadataColumns(meta)
	fields["scheduled_for"] = newTime

	ok, err := r.repo.TransitionStatus(ctx, id, []models.Status{models.StatusPending, models.StatusScheduled}, models.StatusScheduled, fields)
	if err != nil {
		return apperrors.ErrSchedulingFailed.WithInternal(err)
	}
	if !ok {
		return apperrors.ErrInvalidState.WithMessage("notification %s changed state concurrently", id)
	}

	r.log.Info("notification rescheduled",
		zap.String("notification_id", id),
		zap.Time("scheduled_for", newTime),
		zap.String("reason", reason),
	)
	return nil
}

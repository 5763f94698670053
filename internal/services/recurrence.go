package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

// NextOccurrence adds cfg.Interval units of cfg.Frequency to current. Sub-day units use
// absolute durations; days, weeks and months follow the calendar.
func NextOccurrence(current time.Time, cfg models.RecurrenceConfig) (time.Time, error) {
	if cfg.Interval <= 0 {
		return time.Time{}, apperrors.ErrInvalidConfiguration.WithMessage("recurrence interval must be positive, got %d", cfg.Interval)
	}
	switch cfg.Frequency {
	case models.FrequencyMinutes:
		return current.Add(time.Duration(cfg.Interval) * time.Minute), nil
	case models.FrequencyHours:
		return current.Add(time.Duration(cfg.Interval) * time.Hour), nil
	case models.FrequencyDays:
		return current.AddDate(0, 0, cfg.Interval), nil
	case models.FrequencyWeeks:
		return current.AddDate(0, 0, 7*cfg.Interval), nil
	case models.FrequencyMonths:
		return current.AddDate(0, cfg.Interval, 0), nil
	default:
		return time.Time{}, apperrors.ErrInvalidConfiguration.WithMessage("unsupported recurrence frequency %q", cfg.Frequency)
	}
}

// SeriesDedupKey identifies the occurrence of a series at a given instant.
func SeriesDedupKey(scheduleID string, at time.Time) string {
	return fmt.Sprintf("series:%s:%d", scheduleID, at.UTC().Unix())
}

// GenerationReport summarises a GenerateAll run.
type GenerationReport struct {
	Horizon     time.Time       `json:"horizon"`
	Series      int             `json:"series"`
	Generated   int             `json:"generated"`
	InstanceIDs []string        `json:"instance_ids,omitempty"`
	Failures    []SeriesFailure `json:"failures,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
}

// SeriesFailure records a series whose generation failed.
type SeriesFailure struct {
	ScheduleID string `json:"schedule_id"`
	TemplateID string `json:"template_id"`
	Error      string `json:"error"`
}

// RecurrenceService materialises the instances of recurring series.
type RecurrenceService struct {
	repo    repository.NotificationRepository
	now     func() time.Time
	log     *zap.Logger
	metrics Metrics
}

// NewRecurrenceService constructs a RecurrenceService.
func NewRecurrenceService(repo repository.NotificationRepository, opts ...Option) (*RecurrenceService, error) {
	if repo == nil {
		return nil, errors.New("recurrence service: repository is required")
	}
	o := buildOptions("recurrence", opts)
	return &RecurrenceService{repo: repo, now: o.clock, log: o.log, metrics: o.metrics}, nil
}

// GenerateInstances creates the missing occurrences of template's series up to horizon and
// returns the ids it created. Occurrences that already exist are skipped silently, so repeated
// calls with the same horizon are idempotent. The series never holds more than the configured
// maximum of instances, whatever happens to the template. The template is never modified.
func (s *RecurrenceService) GenerateInstances(ctx context.Context, template *models.Notification, horizon time.Time) ([]string, error) {
	ctx = ensureContext(ctx)
	if template == nil {
		return nil, apperrors.ErrInvalidData.WithMessage("series template is required")
	}
	cfg := template.Recurrence()
	if cfg == nil {
		return nil, apperrors.ErrMissingConfiguration.WithMessage("notification %s has no recurrence configuration", template.ID)
	}
	if template.ScheduleID == nil || *template.ScheduleID == "" {
		return nil, apperrors.ErrMissingConfiguration.WithMessage("notification %s has no schedule id", template.ID)
	}
	if template.ScheduledFor == nil {
		return nil, apperrors.ErrInvalidData.WithMessage("notification %s has no scheduled time", template.ID)
	}

	scheduleID := *template.ScheduleID
	next, err := NextOccurrence(template.ScheduledFor.UTC(), *cfg)
	if err != nil {
		return nil, err
	}

	// The cap applies to the whole series. Positions alone are not enough because a
	// rescheduled template shifts every later occurrence.
	existing, err := s.repo.Count(ctx, repository.Filter{ScheduleID: scheduleID, RecurringInstance: repository.Bool(true)})
	if err != nil {
		return nil, apperrors.ErrSchedulingFailed.WithInternal(err)
	}

	limit := cfg.Limit()
	var created []string
	for position := 0; position < limit && !next.After(horizon); position++ {
		if cfg.EndDate != nil && next.After(*cfg.EndDate) {
			break
		}
		if existing+int64(len(created)) >= int64(limit) {
			break
		}

		id, err := s.materialise(ctx, template, *cfg, scheduleID, next)
		if err != nil {
			return created, err
		}
		if id != "" {
			created = append(created, id)
		}

		if next, err = NextOccurrence(next, *cfg); err != nil {
			return created, err
		}
	}

	if len(created) > 0 {
		s.metrics.AddGeneratedInstances(len(created))
		s.log.Debug("generated series instances",
			zap.String("schedule_id", scheduleID),
			zap.Int("count", len(created)),
		)
	}
	return created, nil
}

// materialise creates the occurrence at `at` unless it already exists, returning the new id or
// "" when skipped.
func (s *RecurrenceService) materialise(ctx context.Context, template *models.Notification, cfg models.RecurrenceConfig, scheduleID string, at time.Time) (string, error) {
	key := SeriesDedupKey(scheduleID, at)
	if _, err := s.repo.FindByDedupKey(ctx, key); err == nil {
		return "", nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return "", apperrors.ErrSchedulingFailed.WithInternal(err)
	}

	occurrence := at
	parentID := template.ID
	instance := &models.Notification{
		ScheduleID:           &scheduleID,
		ParentNotificationID: &parentID,
		RecipientID:          template.RecipientID,
		SenderID:             template.SenderID,
		Title:                template.Title,
		Message:              template.Message,
		Type:                 template.Type,
		Channel:              template.Channel,
		Priority:             template.Priority,
		Data:                 copyData(template.Data),
		Status:               models.StatusScheduled,
		ScheduledFor:         &occurrence,
		DedupKey:             &key,
	}
	instance.SetMeta(models.NotificationMetadata{
		Recurrence:           &cfg,
		RecurringInstance:    true,
		ParentNotificationID: parentID,
		OccurrenceAt:         &occurrence,
	})

	if err := s.repo.Create(ctx, instance); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			// A concurrent generator created it first.
			return "", nil
		}
		return "", apperrors.ErrSchedulingFailed.WithInternal(err)
	}
	return instance.ID, nil
}

// GenerateAll runs GenerateInstances for every active series. Failures are reported per
// series; only a failure to list the series is returned as an error.
func (s *RecurrenceService) GenerateAll(ctx context.Context, horizon time.Time) (*GenerationReport, error) {
	ctx = ensureContext(ctx)
	report := &GenerationReport{Horizon: horizon.UTC(), StartedAt: s.now()}

	templates, err := s.repo.Find(ctx, repository.Filter{
		IsRecurring:       repository.Bool(true),
		RecurringActive:   repository.Bool(true),
		RecurringInstance: repository.Bool(false),
		Order:             repository.OrderCreatedAsc,
	}, 0)
	if err != nil {
		return nil, apperrors.ErrSchedulingFailed.WithInternal(err)
	}

	var errs error
	for i := range templates {
		template := &templates[i]
		report.Series++

		var ids []string
		err := guard(func() (err error) {
			ids, err = s.GenerateInstances(ctx, template, horizon)
			return err
		})
		report.Generated += len(ids)
		report.InstanceIDs = append(report.InstanceIDs, ids...)
		if err != nil {
			scheduleID := ""
			if template.ScheduleID != nil {
				scheduleID = *template.ScheduleID
			}
			report.Failures = append(report.Failures, SeriesFailure{ScheduleID: scheduleID, TemplateID: template.ID, Error: err.Error()})
			errs = multierr.Append(errs, fmt.Errorf("series %s: %w", scheduleID, err))
		}
	}

	report.Duration = s.now().Sub(report.StartedAt)
	s.metrics.ObserveBatch("generate_instances", report.Duration)
	fields := []zap.Field{
		zap.Time("horizon", report.Horizon),
		zap.Int("series", report.Series),
		zap.Int("generated", report.Generated),
		zap.Int("failed", len(report.Failures)),
	}
	if errs != nil {
		s.log.Warn("recurring generation finished with failures", append(fields, zap.Error(errs))...)
	} else {
		s.log.Info("recurring generation finished", fields...)
	}
	return report, nil
}

// BeforeDispatch is the per-item hook the due processor runs for series members. It cancels
// the item and reports proceed=false when its series has been deactivated.
func (s *RecurrenceService) BeforeDispatch(ctx context.Context, item *models.Notification) (bool, error) {
	ctx = ensureContext(ctx)
	if item == nil || !item.IsRecurring {
		return true, nil
	}

	active := item.RecurringActive
	if item.RecurringInstance && item.ScheduleID != nil {
		templates, err := s.repo.Find(ctx, repository.Filter{
			ScheduleID:        *item.ScheduleID,
			RecurringInstance: repository.Bool(false),
		}, 1)
		if err != nil {
			return false, apperrors.ErrSchedulingFailed.WithInternal(err)
		}
		if len(templates) == 1 {
			active = templates[0].RecurringActive
		}
	}
	if active {
		return true, nil
	}

	if _, err := s.repo.TransitionStatus(ctx, item.ID, []models.Status{models.StatusScheduled}, models.StatusCancelled, nil); err != nil {
		return false, apperrors.ErrSchedulingFailed.WithInternal(err)
	}
	s.log.Info("cancelled occurrence of inactive series", zap.String("notification_id", item.ID))
	return false, nil
}

// DeactivateSeries stops a series: every member is flagged inactive and occurrences that have
// not been delivered are cancelled. It returns the number of cancelled notifications.
func (s *RecurrenceService) DeactivateSeries(ctx context.Context, scheduleID string) (int64, error) {
	ctx = ensureContext(ctx)
	if scheduleID == "" {
		return 0, apperrors.ErrInvalidData.WithMessage("schedule id is required")
	}

	members, err := s.repo.Find(ctx, repository.Filter{ScheduleID: scheduleID}, 0)
	if err != nil {
		return 0, apperrors.ErrSchedulingFailed.WithInternal(err)
	}
	if len(members) == 0 {
		return 0, apperrors.ErrNotFound.WithMessage("series %s not found", scheduleID)
	}

	for i := range members {
		meta := members[i].Meta()
		if meta.Recurrence == nil || !meta.Recurrence.RecurringActive {
			continue
		}
		meta.Recurrence.RecurringActive = false
		if err := s.repo.UpdateByID(ctx, members[i].ID, models.MetadataColumns(meta)); err != nil {
			return 0, apperrors.ErrSchedulingFailed.WithInternal(err)
		}
	}

	cancelled, err := s.repo.UpdateWhere(ctx, repository.Filter{
		ScheduleID: scheduleID,
		Statuses:   []models.Status{models.StatusPending, models.StatusScheduled},
	}, map[string]any{"status": models.StatusCancelled})
	if err != nil {
		return 0, apperrors.ErrSchedulingFailed.WithInternal(err)
	}

	s.log.Info("series deactivated", zap.String("schedule_id", scheduleID), zap.Int64("cancelled", cancelled))
	return cancelled, nil
}

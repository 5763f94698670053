package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

// DefaultDueLimit bounds a ProcessDue batch when the caller does not.
const DefaultDueLimit = 100

// DefaultClaimLease is how long a claimed notification may stay in processing before a later
// batch returns it to the schedule.
const DefaultClaimLease = 15 * time.Minute

// ItemFailure records a notification whose delivery failed within a batch.
type ItemFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ProcessResult summarises a ProcessDue batch.
type ProcessResult struct {
	TotalFound   int           `json:"total_found"`
	Reclaimed    int           `json:"reclaimed,omitempty"`
	Processed    int           `json:"processed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	ProcessedIDs []string      `json:"processed_ids"`
	SkippedIDs   []string      `json:"skipped_ids,omitempty"`
	Failures     []ItemFailure `json:"failures,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// SeriesHook is consulted before a series member is dispatched.
type SeriesHook interface {
	BeforeDispatch(ctx context.Context, item *models.Notification) (bool, error)
}

// DueProcessor delivers scheduled notifications whose time has come.
type DueProcessor struct {
	repo     repository.NotificationRepository
	delivery *deliverer
	series   SeriesHook
	lease    time.Duration
	now      func() time.Time
	log      *zap.Logger
	metrics  Metrics
}

// NewDueProcessor constructs a DueProcessor. series may be nil when recurring series are not used.
func NewDueProcessor(repo repository.NotificationRepository, dispatcher Dispatcher, series SeriesHook, opts ...Option) (*DueProcessor, error) {
	if repo == nil {
		return nil, errors.New("due processor: repository is required")
	}
	if dispatcher == nil {
		return nil, errors.New("due processor: dispatcher is required")
	}
	o := buildOptions("scheduler", opts)
	return &DueProcessor{
		repo: repo,
		delivery: &deliverer{
			repo:       repo,
			dispatcher: dispatcher,
			now:        o.now,
			log:        o.log,
			metrics:    o.metrics,
		},
		series:  series,
		lease:   o.lease,
		now:     o.clock,
		log:     o.log,
		metrics: o.metrics,
	}, nil
}

// ProcessDue loads up to limit due notifications and delivers each one independently. Every
// item is claimed with an atomic scheduled to processing transition first; items claimed by
// another worker are reported as skipped. Claims older than the lease are returned to the
// schedule before the due set is loaded, so a crashed worker delays delivery but never loses it.
// Only a failure to query the reclaimable or due set is returned.
func (p *DueProcessor) ProcessDue(ctx context.Context, limit int) (*ProcessResult, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = DefaultDueLimit
	}

	started := p.now()
	reclaimed, err := p.reclaimExpired(ctx, started, limit)
	if err != nil {
		return nil, err
	}

	due, err := p.repo.Find(ctx, repository.Filter{
		Statuses:            []models.Status{models.StatusScheduled},
		ScheduledAtOrBefore: &started,
		Order:               repository.OrderScheduledAsc,
	}, limit)
	if err != nil {
		return nil, apperrors.ErrSchedulingFailed.WithInternal(err)
	}

	result := &ProcessResult{
		TotalFound:   len(due),
		Reclaimed:    reclaimed,
		ProcessedIDs: []string{},
		StartedAt:    started,
	}
	for i := range due {
		item := &due[i]
		var delivered bool
		err := guard(func() (err error) {
			delivered, err = p.processOne(ctx, item)
			return err
		})
		switch {
		case err != nil:
			result.Failed++
			result.Failures = append(result.Failures, ItemFailure{ID: item.ID, Error: err.Error()})
		case delivered:
			result.Processed++
			result.ProcessedIDs = append(result.ProcessedIDs, item.ID)
		default:
			result.Skipped++
			result.SkippedIDs = append(result.SkippedIDs, item.ID)
		}
	}

	result.Duration = p.now().Sub(started)
	p.metrics.ObserveBatch("process_due", result.Duration)
	p.log.Info("due batch processed",
		zap.Int("found", result.TotalFound),
		zap.Int("reclaimed", result.Reclaimed),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("elapsed", result.Duration),
	)
	return result, nil
}

func (p *DueProcessor) processOne(ctx context.Context, item *models.Notification) (bool, error) {
	if item.IsRecurring && p.series != nil {
		proceed, err := p.series.BeforeDispatch(ctx, item)
		if err != nil || !proceed {
			return false, err
		}
	}

	claimed, err := p.delivery.deliver(ctx, item, models.StatusScheduled, "due")
	if err != nil {
		p.log.Warn("due notification failed",
			zap.String("notification_id", item.ID),
			zap.String("channel", item.Channel),
			zap.Error(err),
		)
		return false, err
	}
	return claimed, nil
}

// reclaimExpired moves notifications claimed before now-lease back to scheduled. Items that
// never had a scheduled time fall due immediately.
func (p *DueProcessor) reclaimExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	cutoff := now.Add(-p.lease)
	stale, err := p.repo.Find(ctx, repository.Filter{
		Statuses:      []models.Status{models.StatusProcessing},
		UpdatedBefore: &cutoff,
		Order:         repository.OrderScheduledAsc,
	}, limit)
	if err != nil {
		return 0, apperrors.ErrSchedulingFailed.WithInternal(err)
	}

	reclaimed := 0
	for i := range stale {
		item := &stale[i]
		fields := map[string]any{"updated_at": now}
		if item.ScheduledFor == nil {
			fields["scheduled_for"] = now
		}
		ok, err := p.repo.TransitionStatus(ctx, item.ID, []models.Status{models.StatusProcessing}, models.StatusScheduled, fields)
		if err != nil {
			p.log.Warn("reclaim expired claim failed", zap.String("notification_id", item.ID), zap.Error(err))
			continue
		}
		if ok {
			reclaimed++
			p.log.Warn("reclaimed expired claim",
				zap.String("notification_id", item.ID),
				zap.Time("claimed_at", item.UpdatedAt),
			)
		}
	}
	return reclaimed, nil
}

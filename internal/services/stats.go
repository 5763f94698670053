package services

import (
	"context"
	"errors"
	"time"

	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

// SchedulingStats is a point-in-time view of the schedule.
type SchedulingStats struct {
	DueNow                int64     `json:"due_now"`
	DueNextHour           int64     `json:"due_next_hour"`
	DueNext24h            int64     `json:"due_next_24h"`
	ActiveRecurringSeries int64     `json:"active_recurring_series"`
	Overdue               int64     `json:"overdue"`
	StaleClaims           int64     `json:"stale_claims"`
	GeneratedAt           time.Time `json:"generated_at"`
}

// StatsService computes scheduling statistics.
type StatsService struct {
	repo  repository.NotificationRepository
	lease time.Duration
	now   func() time.Time
}

// NewStatsService constructs a StatsService.
func NewStatsService(repo repository.NotificationRepository, opts ...Option) (*StatsService, error) {
	if repo == nil {
		return nil, errors.New("stats service: repository is required")
	}
	o := buildOptions("stats", opts)
	return &StatsService{repo: repo, lease: o.lease, now: o.clock}, nil
}

// GetSchedulingStats counts due, upcoming, overdue and active recurring work. Overdue items
// are still scheduled more than an hour after their time; stale claims have been processing
// for longer than the claim lease.
func (s *StatsService) GetSchedulingStats(ctx context.Context) (*SchedulingStats, error) {
	ctx = ensureContext(ctx)
	now := s.now()
	hour := now.Add(time.Hour)
	day := now.Add(24 * time.Hour)
	overdue := now.Add(-time.Hour)
	leaseCutoff := now.Add(-s.lease)
	scheduled := []models.Status{models.StatusScheduled}

	stats := &SchedulingStats{GeneratedAt: now}
	counts := []struct {
		dst    *int64
		filter repository.Filter
	}{
		{&stats.DueNow, repository.Filter{Statuses: scheduled, ScheduledAtOrBefore: &now}},
		{&stats.DueNextHour, repository.Filter{Statuses: scheduled, ScheduledAtOrAfter: &now, ScheduledAtOrBefore: &hour}},
		{&stats.DueNext24h, repository.Filter{Statuses: scheduled, ScheduledAtOrAfter: &now, ScheduledAtOrBefore: &day}},
		{&stats.ActiveRecurringSeries, repository.Filter{
			IsRecurring:       repository.Bool(true),
			RecurringActive:   repository.Bool(true),
			RecurringInstance: repository.Bool(false),
		}},
		{&stats.Overdue, repository.Filter{Statuses: scheduled, ScheduledBefore: &overdue}},
		{&stats.StaleClaims, repository.Filter{Statuses: []models.Status{models.StatusProcessing}, UpdatedBefore: &leaseCutoff}},
	}
	for _, c := range counts {
		count, err := s.repo.Count(ctx, c.filter)
		if err != nil {
			return nil, apperrors.ErrSchedulingFailed.WithInternal(err)
		}
		*c.dst = count
	}
	return stats, nil
}

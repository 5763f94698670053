package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/csrnotify/internal/database/testutil"
	"github.com/charlesng35/csrnotify/internal/models"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

func newNotificationRepo(t *testing.T) *GormNotificationRepository {
	t.Helper()
	repo, err := NewNotificationRepository(testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()))
	require.NoError(t, err)
	return repo
}

func seedNotification(t *testing.T, repo *GormNotificationRepository, mutate func(*models.Notification)) *models.Notification {
	t.Helper()
	n := &models.Notification{
		RecipientID: "donor-1",
		Title:       "Thanks for your gift",
		Message:     "Your donation was received",
		Type:        "donation_received",
		Channel:     models.ChannelDatabase,
		Priority:    models.PriorityNormal,
		Status:      models.StatusPending,
	}
	if mutate != nil {
		mutate(n)
	}
	require.NoError(t, repo.Create(context.Background(), n))
	return n
}

func TestNotificationRepositoryFindDue(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	late := seedNotification(t, repo, func(n *models.Notification) {
		n.Status = models.StatusScheduled
		n.ScheduledFor = Time(now.Add(-2 * time.Hour))
	})
	early := seedNotification(t, repo, func(n *models.Notification) {
		n.Status = models.StatusScheduled
		n.ScheduledFor = Time(now.Add(-3 * time.Hour))
	})
	seedNotification(t, repo, func(n *models.Notification) {
		n.Status = models.StatusScheduled
		n.ScheduledFor = Time(now.Add(time.Hour))
	})
	seedNotification(t, repo, func(n *models.Notification) {
		n.Status = models.StatusSent
		n.ScheduledFor = Time(now.Add(-time.Hour))
	})

	due, err := repo.Find(ctx, Filter{
		Statuses:            []models.Status{models.StatusScheduled},
		ScheduledAtOrBefore: &now,
		Order:               OrderScheduledAsc,
	}, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, early.ID, due[0].ID)
	require.Equal(t, late.ID, due[1].ID)

	limited, err := repo.Find(ctx, Filter{Statuses: []models.Status{models.StatusScheduled}, ScheduledAtOrBefore: &now}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	count, err := repo.Count(ctx, Filter{Statuses: []models.Status{models.StatusScheduled}})
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
}

func TestNotificationRepositoryRecurringMirrorFilters(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	scheduleID := "series-1"

	template := seedNotification(t, repo, func(n *models.Notification) {
		n.ScheduleID = &scheduleID
		n.Status = models.StatusScheduled
		n.SetMeta(models.NotificationMetadata{Recurrence: &models.RecurrenceConfig{
			Frequency: models.FrequencyDays, Interval: 1, IsRecurring: true, RecurringActive: true,
		}})
	})
	seedNotification(t, repo, func(n *models.Notification) {
		n.ScheduleID = &scheduleID
		n.SetMeta(models.NotificationMetadata{RecurringInstance: true})
	})

	templates, err := repo.Find(ctx, Filter{
		IsRecurring:       Bool(true),
		RecurringActive:   Bool(true),
		RecurringInstance: Bool(false),
	}, 0)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	require.Equal(t, template.ID, templates[0].ID)
	require.NotNil(t, templates[0].Recurrence())
	require.Equal(t, models.FrequencyDays, templates[0].Recurrence().Frequency)

	series, err := repo.Count(ctx, Filter{ScheduleID: scheduleID})
	require.NoError(t, err)
	require.EqualValues(t, 2, series)
}

func TestNotificationRepositoryCreateDuplicateDedupKey(t *testing.T) {
	repo := newNotificationRepo(t)
	key := "series:abc:1735776000"

	seedNotification(t, repo, func(n *models.Notification) { n.DedupKey = &key })

	dup := &models.Notification{
		RecipientID: "donor-1",
		Title:       "again",
		Type:        "donation_received",
		Channel:     models.ChannelDatabase,
		Status:      models.StatusScheduled,
		DedupKey:    &key,
	}
	err := repo.Create(context.Background(), dup)
	require.ErrorIs(t, err, apperrors.ErrDuplicate)

	found, err := repo.FindByDedupKey(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "Thanks for your gift", found.Title)
}

func TestNotificationRepositoryTransitionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	n := seedNotification(t, repo, func(n *models.Notification) { n.Status = models.StatusScheduled })

	claimed, err := repo.TransitionStatus(ctx, n.ID, []models.Status{models.StatusScheduled}, models.StatusProcessing, nil)
	require.NoError(t, err)
	require.True(t, claimed)

	again, err := repo.TransitionStatus(ctx, n.ID, []models.Status{models.StatusScheduled}, models.StatusProcessing, nil)
	require.NoError(t, err)
	require.False(t, again)

	sentAt := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	ok, err := repo.TransitionStatus(ctx, n.ID, []models.Status{models.StatusProcessing}, models.StatusSent, map[string]any{"sent_at": sentAt})
	require.NoError(t, err)
	require.True(t, ok)

	reloaded, err := repo.FindByID(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, reloaded.Status)
	require.NotNil(t, reloaded.SentAt)
	require.True(t, reloaded.SentAt.Equal(sentAt))
}

func TestNotificationRepositoryUpdateByIDAndNotFound(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	n := seedNotification(t, repo, nil)

	meta := n.Meta()
	meta.Flags = map[string]any{"pinned": true}
	fields := models.MetadataColumns(meta)
	fields["title"] = "Updated"
	require.NoError(t, repo.UpdateByID(ctx, n.ID, fields))

	reloaded, err := repo.FindByID(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, "Updated", reloaded.Title)
	require.Equal(t, true, reloaded.Meta().Flags["pinned"])

	err = repo.UpdateByID(ctx, "missing", map[string]any{"title": "x"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.FindByID(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestNotificationRepositoryUpdateWhere(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	scheduleID := "series-2"
	for i := 0; i < 3; i++ {
		seedNotification(t, repo, func(n *models.Notification) {
			n.ScheduleID = &scheduleID
			n.Status = models.StatusScheduled
		})
	}
	seedNotification(t, repo, func(n *models.Notification) { n.Status = models.StatusScheduled })

	affected, err := repo.UpdateWhere(ctx, Filter{ScheduleID: scheduleID}, map[string]any{"status": models.StatusCancelled})
	require.NoError(t, err)
	require.EqualValues(t, 3, affected)

	cancelled, err := repo.Count(ctx, Filter{Statuses: []models.Status{models.StatusCancelled}})
	require.NoError(t, err)
	require.EqualValues(t, 3, cancelled)
}

func TestNotificationRepositoryCountByColumn(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	seedNotification(t, repo, func(n *models.Notification) { n.Priority = models.PriorityHigh })
	seedNotification(t, repo, func(n *models.Notification) { n.Priority = models.PriorityHigh })
	seedNotification(t, repo, func(n *models.Notification) {
		n.Priority = models.PriorityLow
		n.Type = "campaign_milestone"
	})

	byPriority, err := repo.CountByColumn(ctx, Filter{RecipientID: "donor-1"}, "priority")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{models.PriorityHigh: 2, models.PriorityLow: 1}, byPriority)

	byType, err := repo.CountByColumn(ctx, Filter{ExcludeTypes: []string{"campaign_milestone"}}, "type")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"donation_received": 2}, byType)

	_, err = repo.CountByColumn(ctx, Filter{}, "recipient_id; DROP TABLE notifications")
	require.Error(t, err)
}

func TestNotificationRepositoryUnreadAndCreatedRange(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	readAt := time.Now().UTC()
	seedNotification(t, repo, func(n *models.Notification) {
		n.Status = models.StatusRead
		n.ReadAt = &readAt
	})
	unread := seedNotification(t, repo, func(n *models.Notification) { n.Status = models.StatusSent })

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	items, err := repo.Find(ctx, Filter{RecipientID: "donor-1", UnreadOnly: true, CreatedFrom: &from, CreatedTo: &to}, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, unread.ID, items[0].ID)
}

func TestNotificationRepositoryUpdatedBeforeFindsOldClaims(t *testing.T) {
	ctx := context.Background()
	repo := newNotificationRepo(t)
	old := seedNotification(t, repo, func(n *models.Notification) { n.Status = models.StatusScheduled })
	recent := seedNotification(t, repo, func(n *models.Notification) { n.Status = models.StatusScheduled })

	claimedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for id, at := range map[string]time.Time{old.ID: claimedAt, recent.ID: claimedAt.Add(time.Hour)} {
		ok, err := repo.TransitionStatus(ctx, id, []models.Status{models.StatusScheduled}, models.StatusProcessing, map[string]any{"updated_at": at})
		require.NoError(t, err)
		require.True(t, ok)
	}

	cutoff := claimedAt.Add(30 * time.Minute)
	items, err := repo.Find(ctx, Filter{Statuses: []models.Status{models.StatusProcessing}, UpdatedBefore: &cutoff}, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, old.ID, items[0].ID)
	require.True(t, items[0].UpdatedAt.Equal(claimedAt))
}

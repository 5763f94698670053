package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/csrnotify/internal/models"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
	"github.com/charlesng35/csrnotify/pkg/validator"
)

func newNotificationService(t *testing.T, f *fixture, extra ...Option) *NotificationService {
	t.Helper()
	svc, err := NewNotificationService(f.repo, f.dispatcher, append(f.opts(), extra...)...)
	require.NoError(t, err)
	return svc
}

func TestNotificationServiceCreateScheduled(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f)

	at := baseTime.Add(2 * time.Hour)
	n, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID:  "donor-1",
		Title:        "Matching window opens",
		Message:      "Gifts are doubled until midnight",
		Type:         "campaign_update",
		Channel:      models.ChannelPush,
		ScheduledFor: &at,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusScheduled, n.Status)
	require.Equal(t, models.PriorityNormal, n.Priority)
	require.Empty(t, f.dispatcher.sentIDs())

	stored := f.reload(t, n.ID)
	require.Equal(t, models.StatusScheduled, stored.Status)
	require.True(t, stored.ScheduledFor.Equal(at))
}

func TestNotificationServiceCreateImmediateDispatches(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f)

	n, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "donor-1",
		Title:       "Receipt available",
		Type:        "donation_received",
		Channel:     models.ChannelEmail,
		Priority:    models.PriorityHigh,
		Data:        map[string]any{"amount": 25},
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, n.Status)
	require.Equal(t, []string{n.ID}, f.dispatcher.sentIDs())

	stored := f.reload(t, n.ID)
	require.Equal(t, models.StatusSent, stored.Status)
	require.True(t, stored.SentAt.Equal(baseTime))
	require.EqualValues(t, 25, stored.Data["amount"])
}

func TestNotificationServiceCreateRecordsDispatchFailure(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f)
	f.dispatcher.failTitle("Receipt available", errTransport)

	n, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "donor-1",
		Title:       "Receipt available",
		Type:        "donation_received",
		Channel:     models.ChannelSMS,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, n.Status)

	stored := f.reload(t, n.ID)
	require.Equal(t, models.StatusFailed, stored.Status)
	require.Equal(t, errTransport.Error(), stored.Meta().LastError)
}

func TestNotificationServiceCreateValidates(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f)

	_, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "  ",
		Title:       "x",
		Type:        "t",
		Channel:     "fax",
	})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 2)

	_, err = svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "donor-1",
		Title:       "Weekly impact",
		Type:        "impact_report",
		Channel:     models.ChannelEmail,
		Recurrence:  &models.RecurrenceConfig{Frequency: models.FrequencyWeeks, Interval: 1},
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidData)

	at := baseTime.Add(time.Hour)
	before := at.Add(-time.Minute)
	_, err = svc.Create(context.Background(), CreateNotificationInput{
		RecipientID:  "donor-1",
		Title:        "Weekly impact",
		Type:         "impact_report",
		Channel:      models.ChannelEmail,
		ScheduledFor: &at,
		Recurrence:   &models.RecurrenceConfig{Frequency: models.FrequencyWeeks, Interval: 1, EndDate: &before},
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidData)
}

func TestNotificationServiceCreateRecurringTemplate(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f)

	at := baseTime.Add(24 * time.Hour)
	n, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID:  "donor-1",
		Title:        "Weekly impact",
		Type:         "impact_report",
		Channel:      models.ChannelEmail,
		ScheduledFor: &at,
		Recurrence:   &models.RecurrenceConfig{Frequency: models.FrequencyWeeks, Interval: 1},
	})
	require.NoError(t, err)
	require.NotNil(t, n.ScheduleID)

	stored := f.reload(t, n.ID)
	require.True(t, stored.IsRecurring)
	require.True(t, stored.RecurringActive)
	require.False(t, stored.RecurringInstance)
	cfg := stored.Recurrence()
	require.NotNil(t, cfg)
	require.Equal(t, models.DefaultMaxOccurrences, cfg.MaxOccurrences)
	require.True(t, cfg.IsRecurring)
}

func TestNotificationServiceCreateRejectsDuplicateKey(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f)
	input := CreateNotificationInput{
		RecipientID: "donor-1",
		Title:       "Digest",
		Type:        models.TypeDigest,
		Channel:     models.ChannelEmail,
		DedupKey:    "digest:donor-1:daily:1736424000",
	}

	_, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), input)
	require.ErrorIs(t, err, apperrors.ErrDuplicate)
	require.Len(t, f.dispatcher.sentIDs(), 1)
}

func TestNotificationServiceMarkReadAndCancel(t *testing.T) {
	f := newFixture(t)
	publisher := &fakePublisher{}
	svc := newNotificationService(t, f, WithPublisher(publisher))
	ctx := context.Background()

	sent := f.seed(t, func(n *models.Notification) { n.Status = models.StatusSent })
	read, err := svc.MarkRead(ctx, sent.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, read.Status)
	stored := f.reload(t, sent.ID)
	require.Equal(t, models.StatusRead, stored.Status)
	require.True(t, stored.ReadAt.Equal(baseTime))

	scheduled := f.seedDue(t, "later", baseTime.Add(time.Hour))
	_, err = svc.MarkRead(ctx, scheduled.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidState)

	cancelled, err := svc.Cancel(ctx, scheduled.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, cancelled.Status)
	require.Equal(t, models.StatusCancelled, f.reload(t, scheduled.ID).Status)

	_, err = svc.Cancel(ctx, sent.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = svc.Cancel(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.Equal(t, []recordedEvent{
		{userID: "donor-1", event: "notification.read", id: sent.ID},
		{userID: "donor-1", event: "notification.cancelled", id: scheduled.ID},
	}, publisher.events)
}

func TestNotificationServiceListForUser(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f)
	ctx := context.Background()

	f.seed(t, func(n *models.Notification) { n.Status = models.StatusSent })
	readAt := baseTime
	f.seed(t, func(n *models.Notification) {
		n.Status = models.StatusRead
		n.ReadAt = &readAt
	})
	f.seed(t, func(n *models.Notification) { n.RecipientID = "donor-2" })

	all, err := svc.ListForUser(ctx, ListNotificationsInput{RecipientID: "donor-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)

	unread, err := svc.ListForUser(ctx, ListNotificationsInput{RecipientID: "donor-1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)

	_, err = svc.ListForUser(ctx, ListNotificationsInput{})
	require.ErrorIs(t, err, apperrors.ErrInvalidData)
}

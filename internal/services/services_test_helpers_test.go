package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/csrnotify/internal/database/testutil"
	"github.com/charlesng35/csrnotify/internal/dispatch"
	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
)

var baseTime = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type fakeDispatcher struct {
	mu       sync.Mutex
	sent     []string
	attempts map[string]int
	failures map[string]error
	panics   map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		attempts: make(map[string]int),
		failures: make(map[string]error),
		panics:   make(map[string]bool),
	}
}

// failTitle makes every notification with the given title fail.
func (f *fakeDispatcher) failTitle(title string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[title] = err
}

func (f *fakeDispatcher) panicTitle(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[title] = true
}

func (f *fakeDispatcher) Send(_ context.Context, n *models.Notification, opts dispatch.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[n.ID] = opts.Attempt
	if f.panics[n.Title] {
		panic("transport exploded")
	}
	if err := f.failures[n.Title]; err != nil {
		return err
	}
	f.sent = append(f.sent, n.ID)
	return nil
}

func (f *fakeDispatcher) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type recordedEvent struct {
	userID string
	event  string
	id     string
}

type fakePublisher struct {
	events []recordedEvent
}

func (p *fakePublisher) PublishNotificationEvent(userID, event string, n *models.Notification) {
	p.events = append(p.events, recordedEvent{userID: userID, event: event, id: n.ID})
}

type fixture struct {
	repo       *repository.GormNotificationRepository
	prefs      *repository.GormPreferenceRepository
	clock      *testClock
	dispatcher *fakeDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	repo, err := repository.NewNotificationRepository(db)
	require.NoError(t, err)
	prefs, err := repository.NewPreferenceRepository(db)
	require.NoError(t, err)
	return &fixture{
		repo:       repo,
		prefs:      prefs,
		clock:      newTestClock(baseTime),
		dispatcher: newFakeDispatcher(),
	}
}

func (f *fixture) opts() []Option {
	return []Option{WithNow(f.clock.Now)}
}

func (f *fixture) seed(t *testing.T, mutate func(*models.Notification)) *models.Notification {
	t.Helper()
	n := &models.Notification{
		RecipientID: "donor-1",
		Title:       "Donation received",
		Message:     "Thank you for supporting Clean Water",
		Type:        "donation_received",
		Channel:     models.ChannelDatabase,
		Priority:    models.PriorityNormal,
		Status:      models.StatusPending,
	}
	if mutate != nil {
		mutate(n)
	}
	require.NoError(t, f.repo.Create(context.Background(), n))
	return n
}

func (f *fixture) seedDue(t *testing.T, title string, at time.Time) *models.Notification {
	t.Helper()
	return f.seed(t, func(n *models.Notification) {
		n.Title = title
		n.Status = models.StatusScheduled
		n.ScheduledFor = repository.Time(at)
	})
}

func (f *fixture) seedTemplate(t *testing.T, scheduleID string, at time.Time, cfg models.RecurrenceConfig) *models.Notification {
	t.Helper()
	cfg.IsRecurring = true
	return f.seed(t, func(n *models.Notification) {
		n.Title = "Monthly giving reminder"
		n.Type = "giving_reminder"
		n.ScheduleID = &scheduleID
		n.Status = models.StatusSent
		n.ScheduledFor = repository.Time(at)
		n.Data = map[string]any{"campaign_id": "camp-7"}
		n.SetMeta(models.NotificationMetadata{Recurrence: &cfg})
	})
}

func (f *fixture) reload(t *testing.T, id string) *models.Notification {
	t.Helper()
	n, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return n
}

// failingRepo forces errors from selected repository calls.
type failingRepo struct {
	repository.NotificationRepository
	findErr  error
	countErr error
}

func (r *failingRepo) Find(ctx context.Context, filter repository.Filter, limit int) ([]models.Notification, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.NotificationRepository.Find(ctx, filter, limit)
}

func (r *failingRepo) Count(ctx context.Context, filter repository.Filter) (int64, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.NotificationRepository.Count(ctx, filter)
}

var errTransport = errors.New("gateway unavailable")

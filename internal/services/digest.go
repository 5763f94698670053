package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/dispatch"
	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

// Digest types.
const (
	DigestHourly  = "hourly"
	DigestDaily   = "daily"
	DigestWeekly  = "weekly"
	DigestMonthly = "monthly"
)

// Skip reasons reported by GenerateAndSend.
const (
	SkipNoNotifications = "no_notifications"
	SkipAlreadySent     = "already_sent"
)

const (
	defaultDigestLimit     = 100
	defaultGenerationLimit = 50
	samplesPerGroup        = 5
)

// digestFrequencies maps preference frequencies (days) to digest types.
var digestFrequencies = map[string]int{
	DigestDaily:   1,
	DigestWeekly:  7,
	DigestMonthly: 30,
}

// Window is a closed time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DigestRequest describes a digest to build.
type DigestRequest struct {
	UserID         string
	DigestType     string
	Window         *Window
	IncludeRead    bool
	Limit          int
	IncludeSummary bool
	GroupByType    bool
}

// DigestItem is the sample shape of a notification inside a digest.
type DigestItem struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Priority  string        `json:"priority"`
	Status    models.Status `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// TypeGroup aggregates the digest notifications of one type.
type TypeGroup struct {
	Type            string       `json:"type"`
	Count           int          `json:"count"`
	Notifications   []DigestItem `json:"notifications"`
	LatestTimestamp time.Time    `json:"latest_timestamp"`
}

// DigestSummary carries counts over the whole window, independent of the fetch limit.
type DigestSummary struct {
	Total      int64            `json:"total"`
	Unread     int64            `json:"unread"`
	ByPriority map[string]int64 `json:"by_priority"`
	ByType     map[string]int64 `json:"by_type"`
	ByChannel  map[string]int64 `json:"by_channel"`
}

// DigestPayload is the structured result of BuildDigest.
type DigestPayload struct {
	UserID              string         `json:"user_id"`
	DigestType          string         `json:"digest_type"`
	Period              Window         `json:"period"`
	Summary             *DigestSummary `json:"summary,omitempty"`
	NotificationsByType []TypeGroup    `json:"notifications_by_type,omitempty"`
	Notifications       []DigestItem   `json:"notifications,omitempty"`
	TotalNotifications  int            `json:"total_notifications"`
	Metadata            map[string]any `json:"metadata"`
}

// DigestGenerated records a digest notification that was created.
type DigestGenerated struct {
	UserID            string `json:"user_id"`
	NotificationID    string `json:"notification_id"`
	NotificationCount int    `json:"notification_count"`
}

// DigestSkipped records a user for whom no digest was created.
type DigestSkipped struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// DigestFailed records a user whose digest could not be produced.
type DigestFailed struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// DigestRunResult summarises GenerateAndSend.
type DigestRunResult struct {
	DigestType string            `json:"digest_type"`
	Generated  []DigestGenerated `json:"generated"`
	Skipped    []DigestSkipped   `json:"skipped"`
	Failed     []DigestFailed    `json:"failed"`
}

// NotificationCreator is the creation path used to emit digests.
type NotificationCreator interface {
	Create(ctx context.Context, input CreateNotificationInput) (*models.Notification, error)
}

// DigestUserSource lists users subscribed to a digest frequency.
type DigestUserSource interface {
	FindUsersByDigestFrequency(ctx context.Context, days int) ([]string, error)
}

// DigestConfig tunes digest generation.
type DigestConfig struct {
	// MaxNotifications bounds the notifications fetched per generated digest.
	MaxNotifications int
	// Channel is the delivery channel of generated digests.
	Channel string
}

// DigestService aggregates a user's activity into digest notifications.
type DigestService struct {
	repo    repository.NotificationRepository
	users   DigestUserSource
	creator NotificationCreator
	cfg     DigestConfig
	now     func() time.Time
	log     *zap.Logger
	metrics Metrics
}

// NewDigestService constructs a DigestService. users may be nil when digests are only sent to
// explicit user lists.
func NewDigestService(repo repository.NotificationRepository, users DigestUserSource, creator NotificationCreator, cfg DigestConfig, opts ...Option) (*DigestService, error) {
	if repo == nil {
		return nil, errors.New("digest service: repository is required")
	}
	if creator == nil {
		return nil, errors.New("digest service: notification creator is required")
	}
	if cfg.MaxNotifications <= 0 {
		cfg.MaxNotifications = defaultGenerationLimit
	}
	cfg.Channel = defaultIfEmpty(cfg.Channel, models.ChannelEmail)
	o := buildOptions("digest", opts)
	return &DigestService{
		repo:    repo,
		users:   users,
		creator: creator,
		cfg:     cfg,
		now:     o.clock,
		log:     o.log,
		metrics: o.metrics,
	}, nil
}

// DigestWindow returns the window a digest of the given type covers when it ends at now. The
// end is truncated to the minute so repeated runs within a minute share a period.
func DigestWindow(digestType string, now time.Time) (Window, error) {
	end := now.Truncate(time.Minute)
	var start time.Time
	switch digestType {
	case DigestHourly:
		start = end.Add(-time.Hour)
	case DigestDaily:
		start = end.AddDate(0, 0, -1)
	case DigestWeekly:
		start = end.AddDate(0, 0, -7)
	case DigestMonthly:
		start = end.AddDate(0, -1, 0)
	default:
		return Window{}, apperrors.ErrInvalidData.WithMessage("unsupported digest type %q", digestType)
	}
	return Window{Start: start, End: end}, nil
}

// DigestDedupKey identifies the digest of a user for one period.
func DigestDedupKey(userID, digestType string, periodStart time.Time) string {
	return fmt.Sprintf("digest:%s:%s:%d", userID, digestType, periodStart.UTC().Unix())
}

// BuildDigest collects a user's notifications over the requested window.
func (s *DigestService) BuildDigest(ctx context.Context, req DigestRequest) (*DigestPayload, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, apperrors.ErrInvalidData.WithMessage("user id is required")
	}

	var window Window
	if req.Window != nil {
		if req.Window.End.Before(req.Window.Start) {
			return nil, apperrors.ErrInvalidTime.WithMessage("digest window ends before it starts")
		}
		window = Window{Start: req.Window.Start.UTC(), End: req.Window.End.UTC()}
	} else {
		var err error
		if window, err = DigestWindow(req.DigestType, s.now()); err != nil {
			return nil, err
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultDigestLimit
	}

	filter := repository.Filter{
		RecipientID:  userID,
		CreatedFrom:  &window.Start,
		CreatedTo:    &window.End,
		UnreadOnly:   !req.IncludeRead,
		ExcludeTypes: []string{models.TypeDigest},
		Order:        repository.OrderCreatedDesc,
	}
	rows, err := s.repo.Find(ctx, filter, limit)
	if err != nil {
		return nil, apperrors.ErrDigestGenerationFailed.WithInternal(err)
	}

	payload := &DigestPayload{
		UserID:             userID,
		DigestType:         req.DigestType,
		Period:             window,
		TotalNotifications: len(rows),
		Metadata: map[string]any{
			"generated_at": s.now(),
			"include_read": req.IncludeRead,
			"limit":        limit,
		},
	}
	if req.GroupByType {
		payload.NotificationsByType = groupByType(rows)
	} else {
		payload.Notifications = make([]DigestItem, 0, len(rows))
		for i := range rows {
			payload.Notifications = append(payload.Notifications, toDigestItem(&rows[i]))
		}
	}

	if req.IncludeSummary {
		summary, err := s.summarise(ctx, filter)
		if err != nil {
			return nil, apperrors.ErrDigestGenerationFailed.WithInternal(err)
		}
		payload.Summary = summary
	}
	return payload, nil
}

func (s *DigestService) summarise(ctx context.Context, filter repository.Filter) (*DigestSummary, error) {
	summary := &DigestSummary{}
	var err error
	if summary.Total, err = s.repo.Count(ctx, filter); err != nil {
		return nil, err
	}
	unread := filter
	unread.UnreadOnly = true
	if summary.Unread, err = s.repo.Count(ctx, unread); err != nil {
		return nil, err
	}
	if summary.ByPriority, err = s.repo.CountByColumn(ctx, filter, "priority"); err != nil {
		return nil, err
	}
	if summary.ByType, err = s.repo.CountByColumn(ctx, filter, "type"); err != nil {
		return nil, err
	}
	if summary.ByChannel, err = s.repo.CountByColumn(ctx, filter, "channel"); err != nil {
		return nil, err
	}
	return summary, nil
}

func groupByType(rows []models.Notification) []TypeGroup {
	index := make(map[string]int)
	var groups []TypeGroup
	for i := range rows {
		n := &rows[i]
		pos, ok := index[n.Type]
		if !ok {
			pos = len(groups)
			index[n.Type] = pos
			groups = append(groups, TypeGroup{Type: n.Type})
		}
		g := &groups[pos]
		g.Count++
		if len(g.Notifications) < samplesPerGroup {
			g.Notifications = append(g.Notifications, toDigestItem(n))
		}
		if n.CreatedAt.After(g.LatestTimestamp) {
			g.LatestTimestamp = n.CreatedAt
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].LatestTimestamp.Equal(groups[j].LatestTimestamp) {
			return groups[i].LatestTimestamp.After(groups[j].LatestTimestamp)
		}
		return groups[i].Type < groups[j].Type
	})
	return groups
}

func toDigestItem(n *models.Notification) DigestItem {
	return DigestItem{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Priority:  n.Priority,
		Status:    n.Status,
		CreatedAt: n.CreatedAt,
	}
}

// GenerateAndSend builds and emits a digest for each target user. Without explicit users the
// targets are the users whose preferred digest frequency maps to digestType. Per-user failures
// are recorded and never abort the run.
func (s *DigestService) GenerateAndSend(ctx context.Context, digestType string, userIDs []string) (*DigestRunResult, error) {
	ctx = ensureContext(ctx)
	if _, err := DigestWindow(digestType, s.now()); err != nil {
		return nil, err
	}

	targets, err := s.resolveTargets(ctx, digestType, userIDs)
	if err != nil {
		return nil, err
	}

	started := s.now()
	result := &DigestRunResult{
		DigestType: digestType,
		Generated:  []DigestGenerated{},
		Skipped:    []DigestSkipped{},
		Failed:     []DigestFailed{},
	}
	for _, userID := range targets {
		var (
			generated *DigestGenerated
			skipped   string
		)
		err := guard(func() (err error) {
			generated, skipped, err = s.sendOne(ctx, digestType, userID)
			return err
		})
		switch {
		case err != nil:
			result.Failed = append(result.Failed, DigestFailed{UserID: userID, Error: err.Error()})
			s.metrics.ObserveDigest(digestType, "failed")
			s.log.Warn("digest failed", zap.String("user_id", userID), zap.String("digest_type", digestType), zap.Error(err))
		case skipped != "":
			result.Skipped = append(result.Skipped, DigestSkipped{UserID: userID, Reason: skipped})
			s.metrics.ObserveDigest(digestType, "skipped")
		default:
			result.Generated = append(result.Generated, *generated)
			s.metrics.ObserveDigest(digestType, "generated")
		}
	}

	s.metrics.ObserveBatch("digest_"+digestType, s.now().Sub(started))
	s.log.Info("digest run finished",
		zap.String("digest_type", digestType),
		zap.Int("targets", len(targets)),
		zap.Int("generated", len(result.Generated)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *DigestService) resolveTargets(ctx context.Context, digestType string, userIDs []string) ([]string, error) {
	if explicit := normaliseIDs(userIDs); len(explicit) > 0 {
		return explicit, nil
	}
	days, ok := digestFrequencies[digestType]
	if !ok {
		return nil, apperrors.ErrInvalidData.WithMessage("%s digests require explicit user ids", digestType)
	}
	if s.users == nil {
		return nil, apperrors.ErrInvalidData.WithMessage("no digest preference source configured")
	}
	users, err := s.users.FindUsersByDigestFrequency(ctx, days)
	if err != nil {
		return nil, apperrors.ErrDigestGenerationFailed.WithInternal(err)
	}
	return normaliseIDs(users), nil
}

func (s *DigestService) sendOne(ctx context.Context, digestType, userID string) (*DigestGenerated, string, error) {
	payload, err := s.BuildDigest(ctx, DigestRequest{
		UserID:         userID,
		DigestType:     digestType,
		Limit:          s.cfg.MaxNotifications,
		IncludeSummary: true,
		GroupByType:    true,
	})
	if err != nil {
		return nil, "", err
	}
	if payload.TotalNotifications == 0 {
		return nil, SkipNoNotifications, nil
	}

	now := s.now()
	content, err := RenderDigest(payload, now)
	if err != nil {
		return nil, "", apperrors.ErrDigestGenerationFailed.WithInternal(err)
	}

	n, err := s.creator.Create(ctx, CreateNotificationInput{
		RecipientID: userID,
		Title:       content.Title,
		Message:     content.Text,
		Type:        models.TypeDigest,
		Channel:     s.cfg.Channel,
		Priority:    models.PriorityLow,
		Data: map[string]any{
			"period":                payload.Period,
			"summary":               payload.Summary,
			"notifications_by_type": payload.NotificationsByType,
			"total_notifications":   payload.TotalNotifications,
			dispatch.DataKeyText:    content.Text,
			dispatch.DataKeyHTML:    content.HTML,
		},
		Digest: &models.DigestInfo{
			DigestType:    digestType,
			PeriodStart:   payload.Period.Start,
			PeriodEnd:     payload.Period.End,
			AutoGenerated: true,
			Count:         payload.TotalNotifications,
		},
		DedupKey: DigestDedupKey(userID, digestType, payload.Period.Start),
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return nil, SkipAlreadySent, nil
		}
		return nil, "", err
	}

	return &DigestGenerated{
		UserID:            userID,
		NotificationID:    n.ID,
		NotificationCount: payload.TotalNotifications,
	}, "", nil
}

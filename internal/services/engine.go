package services

import (
	"context"
	"errors"
	"time"

	"github.com/charlesng35/csrnotify/internal/repository"
)

// EngineDeps are the collaborators the scheduling engine runs against.
type EngineDeps struct {
	Notifications repository.NotificationRepository
	Preferences   DigestUserSource
	Dispatcher    Dispatcher
	Digest        DigestConfig
}

// Engine bundles the scheduling services behind the operations exposed to callers.
type Engine struct {
	Notifications *NotificationService
	Recurrence    *RecurrenceService
	Processor     *DueProcessor
	Rescheduler   *Rescheduler
	Digests       *DigestService
	Stats         *StatsService
}

// NewEngine wires the scheduling services. The same options apply to every service.
func NewEngine(deps EngineDeps, opts ...Option) (*Engine, error) {
	if deps.Notifications == nil {
		return nil, errors.New("engine: notification repository is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("engine: dispatcher is required")
	}

	notifications, err := NewNotificationService(deps.Notifications, deps.Dispatcher, opts...)
	if err != nil {
		return nil, err
	}
	recurrence, err := NewRecurrenceService(deps.Notifications, opts...)
	if err != nil {
		return nil, err
	}
	processor, err := NewDueProcessor(deps.Notifications, deps.Dispatcher, recurrence, opts...)
	if err != nil {
		return nil, err
	}
	rescheduler, err := NewRescheduler(deps.Notifications, opts...)
	if err != nil {
		return nil, err
	}
	digests, err := NewDigestService(deps.Notifications, deps.Preferences, notifications, deps.Digest, opts...)
	if err != nil {
		return nil, err
	}
	stats, err := NewStatsService(deps.Notifications, opts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Notifications: notifications,
		Recurrence:    recurrence,
		Processor:     processor,
		Rescheduler:   rescheduler,
		Digests:       digests,
		Stats:         stats,
	}, nil
}

// ProcessDue delivers up to limit due notifications.
func (e *Engine) ProcessDue(ctx context.Context, limit int) (*ProcessResult, error) {
	return e.Processor.ProcessDue(ctx, limit)
}

// GenerateInstances materialises recurring occurrences of every active series up to horizon.
func (e *Engine) GenerateInstances(ctx context.Context, horizon time.Time) (*GenerationReport, error) {
	return e.Recurrence.GenerateAll(ctx, horizon)
}

// RescheduleNotification moves a pending or scheduled notification to newTime.
func (e *Engine) RescheduleNotification(ctx context.Context, id string, newTime time.Time, reason string) error {
	return e.Rescheduler.Reschedule(ctx, id, newTime, reason)
}

// GenerateAndSendDigests emits digests of digestType to userIDs or to subscribed users.
func (e *Engine) GenerateAndSendDigests(ctx context.Context, digestType string, userIDs []string) (*DigestRunResult, error) {
	return e.Digests.GenerateAndSend(ctx, digestType, userIDs)
}

// GetSchedulingStats reports due, upcoming, overdue and recurring counts.
func (e *Engine) GetSchedulingStats(ctx context.Context) (*SchedulingStats, error) {
	return e.Stats.GetSchedulingStats(ctx)
}

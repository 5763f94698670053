package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/dispatch"
	"github.com/charlesng35/csrnotify/internal/models"
)

// Dispatcher hands a notification to the transport for its channel.
type Dispatcher interface {
	Send(ctx context.Context, notification *models.Notification, opts dispatch.Options) error
}

// EventPublisher receives notification lifecycle events for realtime consumers.
type EventPublisher interface {
	PublishNotificationEvent(userID, event string, notification *models.Notification)
}

// Metrics records engine activity.
type Metrics interface {
	ObserveDispatch(channel string, err error)
	AddGeneratedInstances(n int)
	ObserveDigest(digestType, result string)
	ObserveReschedule(result string)
	ObserveBatch(job string, elapsed time.Duration)
}

// Option customises the engine services.
type Option func(*serviceOptions)

type serviceOptions struct {
	now       func() time.Time
	log       *zap.Logger
	metrics   Metrics
	publisher EventPublisher
	lease     time.Duration
}

// WithNow overrides the clock used by the services.
func WithNow(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the base logger; each service annotates it with its module.
func WithLogger(log *zap.Logger) Option {
	return func(o *serviceOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithPublisher attaches a realtime event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(o *serviceOptions) {
		o.publisher = p
	}
}

// WithClaimLease sets how long a notification may stay in processing before it is treated as
// abandoned and returned to the schedule. Non-positive values keep DefaultClaimLease.
func WithClaimLease(d time.Duration) Option {
	return func(o *serviceOptions) {
		if d > 0 {
			o.lease = d
		}
	}
}

func buildOptions(module string, opts []Option) serviceOptions {
	o := serviceOptions{
		now:     time.Now,
		log:     zap.NewNop(),
		metrics: nopMetrics{},
		lease:   DefaultClaimLease,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(zap.String("module", module))
	return o
}

func (o serviceOptions) clock() time.Time {
	return o.now().UTC()
}

type nopMetrics struct{}

func (nopMetrics) ObserveDispatch(string, error)      {}
func (nopMetrics) AddGeneratedInstances(int)          {}
func (nopMetrics) ObserveDigest(string, string)       {}
func (nopMetrics) ObserveReschedule(string)           {}
func (nopMetrics) ObserveBatch(string, time.Duration) {}

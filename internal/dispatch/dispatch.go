package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/models"
)

// ErrUnsupportedChannel is returned when no sender is registered for a notification channel.
var ErrUnsupportedChannel = errors.New("dispatch: unsupported channel")

// Options carries per-delivery context supplied by the engine.
type Options struct {
	// Attempt is the 1-based delivery attempt for the notification.
	Attempt int
	// Source names the engine path that triggered the delivery (immediate, due, digest).
	Source string
}

// Sender delivers a notification through one transport.
type Sender interface {
	Send(ctx context.Context, notification *models.Notification, opts Options) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, notification *models.Notification, opts Options) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, notification *models.Notification, opts Options) error {
	return f(ctx, notification, opts)
}

// Registry routes notifications to the sender registered for their channel.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
	timeout time.Duration
	log     *zap.Logger
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithTimeout bounds each delivery call.
func WithTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = timeout
	}
}

// WithLogger attaches a logger to the registry.
func WithLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		senders: make(map[string]Sender),
		timeout: 30 * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds sender to channel, replacing any previous binding.
func (r *Registry) Register(channel string, sender Sender) {
	channel = normaliseChannel(channel)
	if channel == "" || sender == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = sender
}

// Channels lists the registered channel names.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.senders))
	for channel := range r.senders {
		out = append(out, channel)
	}
	return out
}

// Send delivers notification through the sender registered for its channel.
func (r *Registry) Send(ctx context.Context, notification *models.Notification, opts Options) error {
	if notification == nil {
		return errors.New("dispatch: notification is required")
	}

	channel := normaliseChannel(notification.Channel)
	r.mu.RLock()
	sender, ok := r.senders[channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnsupportedChannel, notification.Channel)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := time.Now()
	err := sender.Send(ctx, notification, opts)
	fields := []zap.Field{
		zap.String("notification_id", notification.ID),
		zap.String("channel", channel),
		zap.String("source", opts.Source),
		zap.Int("attempt", opts.Attempt),
		zap.Duration("elapsed", time.Since(started)),
	}
	if err != nil {
		r.log.Warn("delivery failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("dispatch: %s: %w", channel, err)
	}
	r.log.Debug("delivered", fields...)
	return nil
}

func normaliseChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}

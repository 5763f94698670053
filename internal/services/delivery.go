package services

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/csrnotify/internal/dispatch"
	"github.com/charlesng35/csrnotify/internal/models"
	"github.com/charlesng35/csrnotify/internal/repository"
)

// deliverer claims a notification, dispatches it and records the outcome.
type deliverer struct {
	repo       repository.NotificationRepository
	dispatcher Dispatcher
	now        func() time.Time
	log        *zap.Logger
	metrics    Metrics
}

// deliver moves n from `from` to processing, sends it, then to sent or failed. The claim
// stamps updated_at so an abandoned claim can be reclaimed after the lease. It returns
// claimed=false without error when another worker changed the status first. A non-nil error
// with claimed=true is the dispatch failure already recorded on the row.
func (d *deliverer) deliver(ctx context.Context, n *models.Notification, from models.Status, source string) (bool, error) {
	claim := map[string]any{"updated_at": d.now().UTC()}
	claimed, err := d.repo.TransitionStatus(ctx, n.ID, []models.Status{from}, models.StatusProcessing, claim)
	if err != nil || !claimed {
		return false, err
	}
	n.Status = models.StatusProcessing

	meta := n.Meta()
	meta.Attempts++
	sendErr := guard(func() error {
		return d.dispatcher.Send(ctx, n, dispatch.Options{Attempt: meta.Attempts, Source: source})
	})
	d.metrics.ObserveDispatch(n.Channel, sendErr)

	next := models.StatusSent
	if sendErr != nil {
		next = models.StatusFailed
		meta.LastError = sendErr.Error()
	} else {
		meta.LastError = ""
	}

	fields := models.MetadataColumns(meta)
	var sentAt time.Time
	if sendErr == nil {
		sentAt = d.now().UTC()
		fields["sent_at"] = sentAt
	}

	// Finalise without the caller's context so a cancelled request cannot strand the row in processing.
	ok, err := d.repo.TransitionStatus(context.WithoutCancel(ctx), n.ID, []models.Status{models.StatusProcessing}, next, fields)
	if err != nil {
		return true, multierr.Append(sendErr, err)
	}
	if !ok {
		d.log.Warn("notification left processing before finalisation", zap.String("notification_id", n.ID))
	}

	n.SetMeta(meta)
	n.Status = next
	if sendErr == nil {
		n.SentAt = &sentAt
	}
	return true, sendErr
}

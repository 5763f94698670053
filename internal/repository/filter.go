package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/csrnotify/internal/models"
)

// Order selects the ordering applied to Find.
type Order string

const (
	OrderCreatedDesc   Order = "created_desc"
	OrderCreatedAsc    Order = "created_asc"
	OrderScheduledAsc  Order = "scheduled_asc"
	OrderScheduledDesc Order = "scheduled_desc"
)

var orderClauses = map[Order]string{
	OrderCreatedDesc:   "created_at DESC",
	OrderCreatedAsc:    "created_at ASC",
	OrderScheduledAsc:  "scheduled_for ASC, created_at ASC",
	OrderScheduledDesc: "scheduled_for DESC, created_at DESC",
}

// Filter narrows notification queries. Zero-valued fields are ignored.
type Filter struct {
	IDs      []string
	Statuses []models.Status

	ScheduledAtOrBefore *time.Time
	ScheduledAtOrAfter  *time.Time
	ScheduledBefore     *time.Time

	ScheduleID        string
	IsRecurring       *bool
	RecurringActive   *bool
	RecurringInstance *bool

	RecipientID  string
	Types        []string
	ExcludeTypes []string

	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	UpdatedBefore *time.Time
	UnreadOnly    bool

	Order Order
}

// Bool returns a pointer to v for the tri-state filter fields.
func Bool(v bool) *bool {
	return &v
}

// Time returns a pointer to t.
func Time(t time.Time) *time.Time {
	return &t
}

func (f Filter) apply(query *gorm.DB) *gorm.DB {
	if len(f.IDs) > 0 {
		query = query.Where("id IN ?", f.IDs)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}
	if f.ScheduledAtOrBefore != nil {
		query = query.Where("scheduled_for IS NOT NULL AND scheduled_for <= ?", f.ScheduledAtOrBefore.UTC())
	}
	if f.ScheduledAtOrAfter != nil {
		query = query.Where("scheduled_for IS NOT NULL AND scheduled_for >= ?", f.ScheduledAtOrAfter.UTC())
	}
	if f.ScheduledBefore != nil {
		query = query.Where("scheduled_for IS NOT NULL AND scheduled_for < ?", f.ScheduledBefore.UTC())
	}
	if f.ScheduleID != "" {
		query = query.Where("schedule_id = ?", f.ScheduleID)
	}
	if f.IsRecurring != nil {
		query = query.Where("is_recurring = ?", *f.IsRecurring)
	}
	if f.RecurringActive != nil {
		query = query.Where("recurring_active = ?", *f.RecurringActive)
	}
	if f.RecurringInstance != nil {
		query = query.Where("recurring_instance = ?", *f.RecurringInstance)
	}
	if f.RecipientID != "" {
		query = query.Where("recipient_id = ?", f.RecipientID)
	}
	if len(f.Types) > 0 {
		query = query.Where("type IN ?", f.Types)
	}
	if len(f.ExcludeTypes) > 0 {
		query = query.Where("type NOT IN ?", f.ExcludeTypes)
	}
	if f.CreatedFrom != nil {
		query = query.Where("created_at >= ?", f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		query = query.Where("created_at <= ?", f.CreatedTo.UTC())
	}
	if f.UpdatedBefore != nil {
		query = query.Where("updated_at < ?", f.UpdatedBefore.UTC())
	}
	if f.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	return query
}

func (f Filter) orderClause() string {
	if clause, ok := orderClauses[f.Order]; ok {
		return clause
	}
	return orderClauses[OrderCreatedDesc]
}

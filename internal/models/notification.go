package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification channels understood by the dispatcher registry.
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelPush     = "push"
	ChannelDatabase = "database"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// TypeDigest marks notifications synthesised by the digest aggregator.
const TypeDigest = "digest"

// Notification is the schedulable unit: a one-off message, a recurring series template or an
// instance materialised from one.
type Notification struct {
	BaseModel

	ScheduleID           *string `gorm:"type:varchar(36);index" json:"schedule_id,omitempty"`
	ParentNotificationID *string `gorm:"type:varchar(36);index" json:"parent_notification_id,omitempty"`

	RecipientID string            `gorm:"type:varchar(64);not null;index:idx_notifications_recipient_created,priority:1" json:"recipient_id"`
	SenderID    *string           `gorm:"type:varchar(64)" json:"sender_id,omitempty"`
	Title       string            `gorm:"type:varchar(255);not null" json:"title"`
	Message     string            `gorm:"type:text" json:"message"`
	Type        string            `gorm:"type:varchar(64);not null;index" json:"type"`
	Channel     string            `gorm:"type:varchar(32);not null" json:"channel"`
	Priority    string            `gorm:"type:varchar(16);default:'normal'" json:"priority"`
	Data        datatypes.JSONMap `json:"data,omitempty"`

	Metadata datatypes.JSONType[NotificationMetadata] `json:"metadata"`

	Status       Status     `gorm:"type:varchar(16);not null;index:idx_notifications_status_scheduled,priority:1" json:"status"`
	ScheduledFor *time.Time `gorm:"index:idx_notifications_status_scheduled,priority:2" json:"scheduled_for,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`

	// Query mirrors of Metadata, maintained by BeforeSave.
	IsRecurring       bool    `gorm:"default:false;index" json:"is_recurring"`
	RecurringActive   bool    `gorm:"default:false" json:"recurring_active"`
	RecurringInstance bool    `gorm:"default:false" json:"recurring_instance"`
	DedupKey          *string `gorm:"type:varchar(191);uniqueIndex" json:"-"`
}

// NotificationMetadata is the typed document stored in the metadata column.
type NotificationMetadata struct {
	Recurrence           *RecurrenceConfig `json:"recurrence,omitempty"`
	RecurringInstance    bool              `json:"recurringInstance,omitempty"`
	ParentNotificationID string            `json:"parentNotificationId,omitempty"`
	OccurrenceAt         *time.Time        `json:"occurrenceAt,omitempty"`
	RescheduleHistory    []RescheduleEntry `json:"rescheduleHistory,omitempty"`
	Digest               *DigestInfo       `json:"digest,omitempty"`
	LastError            string            `json:"lastError,omitempty"`
	Attempts             int               `json:"attempts,omitempty"`
	Flags                map[string]any    `json:"flags,omitempty"`
}

// RescheduleEntry is one audit record appended by the rescheduler.
type RescheduleEntry struct {
	RescheduledAt        time.Time  `json:"rescheduledAt"`
	PreviousScheduledFor *time.Time `json:"previousScheduledFor,omitempty"`
	NewScheduledFor      time.Time  `json:"newScheduledFor"`
	Reason               string     `json:"reason,omitempty"`
}

// DigestInfo links a digest notification to the period it summarises.
type DigestInfo struct {
	DigestType    string    `json:"digestType"`
	PeriodStart   time.Time `json:"periodStart"`
	PeriodEnd     time.Time `json:"periodEnd"`
	AutoGenerated bool      `json:"autoGenerated"`
	Count         int       `json:"notificationCount"`
}

// Meta returns a copy of the typed metadata document.
func (n *Notification) Meta() NotificationMetadata {
	return n.Metadata.Data()
}

// SetMeta replaces the metadata document and refreshes the query mirrors.
func (n *Notification) SetMeta(meta NotificationMetadata) {
	n.Metadata = datatypes.NewJSONType(meta)
	n.syncMirrors()
}

// Recurrence returns the recurrence configuration, or nil for one-off notifications.
func (n *Notification) Recurrence() *RecurrenceConfig {
	return n.Meta().Recurrence
}

// IsSeriesTemplate reports whether n defines a series rather than being generated from one.
func (n *Notification) IsSeriesTemplate() bool {
	return n.IsRecurring && !n.RecurringInstance
}

// BeforeSave keeps the query mirrors consistent with the metadata document.
func (n *Notification) BeforeSave(tx *gorm.DB) error {
	n.syncMirrors()
	return nil
}

func (n *Notification) syncMirrors() {
	n.IsRecurring, n.RecurringActive, n.RecurringInstance = mirrorsOf(n.Metadata.Data())
}

// MetadataColumns returns the column assignments that persist meta together with its query
// mirrors, for use with map based updates that bypass BeforeSave.
func MetadataColumns(meta NotificationMetadata) map[string]any {
	recurring, active, instance := mirrorsOf(meta)
	return map[string]any{
		"metadata":           datatypes.NewJSONType(meta),
		"is_recurring":       recurring,
		"recurring_active":   active,
		"recurring_instance": instance,
	}
}

func mirrorsOf(meta NotificationMetadata) (recurring, active, instance bool) {
	instance = meta.RecurringInstance
	if rc := meta.Recurrence; rc != nil {
		recurring = rc.IsRecurring
		active = rc.IsRecurring && rc.RecurringActive
	}
	return recurring, active, instance
}

// NotificationPreference stores the per-user delivery preferences consulted by the digest
// aggregator and the email channel.
type NotificationPreference struct {
	BaseModel

	UserID          string `gorm:"type:varchar(64);not null;uniqueIndex" json:"user_id"`
	Email           string `gorm:"type:varchar(255)" json:"email"`
	Phone           string `gorm:"type:varchar(32)" json:"phone"`
	DigestEnabled   bool   `gorm:"not null" json:"digest_enabled"`
	DigestFrequency int    `gorm:"default:0;index" json:"digest_frequency"`
	Timezone        string `gorm:"type:varchar(64)" json:"timezone"`
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/csrnotify/internal/models"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

// NotificationRepository is the storage boundary of the scheduling engine.
type NotificationRepository interface {
	Find(ctx context.Context, filter Filter, limit int) ([]models.Notification, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	CountByColumn(ctx context.Context, filter Filter, column string) (map[string]int64, error)
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	FindByDedupKey(ctx context.Context, key string) (*models.Notification, error)
	Create(ctx context.Context, notification *models.Notification) error
	UpdateByID(ctx context.Context, id string, fields map[string]any) error
	UpdateWhere(ctx context.Context, filter Filter, fields map[string]any) (int64, error)
	// TransitionStatus atomically moves the notification to `to` if its current status is one
	// of `from`, applying fields in the same statement. It reports whether the row changed.
	TransitionStatus(ctx context.Context, id string, from []models.Status, to models.Status, fields map[string]any) (bool, error)
}

var groupableColumns = map[string]struct{}{
	"type":     {},
	"priority": {},
	"channel":  {},
	"status":   {},
}

// GormNotificationRepository implements NotificationRepository on top of GORM.
type GormNotificationRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewNotificationRepository constructs a GORM backed repository.
func NewNotificationRepository(db *gorm.DB) (*GormNotificationRepository, error) {
	if db == nil {
		return nil, errors.New("notification repository: db is required")
	}
	return &GormNotificationRepository{db: db, now: time.Now}, nil
}

func (r *GormNotificationRepository) Find(ctx context.Context, filter Filter, limit int) ([]models.Notification, error) {
	query := filter.apply(r.db.WithContext(ctx).Model(&models.Notification{})).Order(filter.orderClause())
	if limit > 0 {
		query = query.Limit(limit)
	}

	var notifications []models.Notification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("notification repository: find: %w", err)
	}
	return notifications, nil
}

func (r *GormNotificationRepository) Count(ctx context.Context, filter Filter) (int64, error) {
	var total int64
	if err := filter.apply(r.db.WithContext(ctx).Model(&models.Notification{})).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("notification repository: count: %w", err)
	}
	return total, nil
}

func (r *GormNotificationRepository) CountByColumn(ctx context.Context, filter Filter, column string) (map[string]int64, error) {
	if _, ok := groupableColumns[column]; !ok {
		return nil, fmt.Errorf("notification repository: column %q cannot be grouped", column)
	}

	var rows []struct {
		Value string
		Total int64
	}
	err := filter.apply(r.db.WithContext(ctx).Model(&models.Notification{})).
		Select(column + " AS value, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("notification repository: count by %s: %w", column, err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Value] = row.Total
	}
	return counts, nil
}

func (r *GormNotificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormNotificationRepository) FindByDedupKey(ctx context.Context, key string) (*models.Notification, error) {
	return r.first(ctx, "dedup_key = ?", key)
}

func (r *GormNotificationRepository) first(ctx context.Context, clause string, arg any) (*models.Notification, error) {
	var notification models.Notification
	err := r.db.WithContext(ctx).Where(clause, arg).First(&notification).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification repository: find: %w", err)
	}
	return &notification, nil
}

func (r *GormNotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification == nil {
		return errors.New("notification repository: notification is required")
	}
	if err := r.db.WithContext(ctx).Create(notification).Error; err != nil {
		if IsUniqueViolation(err) {
			return apperrors.ErrDuplicate.WithInternal(err)
		}
		return fmt.Errorf("notification repository: create: %w", err)
	}
	return nil
}

func (r *GormNotificationRepository) UpdateByID(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(r.withTimestamp(fields))
	if result.Error != nil {
		return fmt.Errorf("notification repository: update %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepository) UpdateWhere(ctx context.Context, filter Filter, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	// gorm refuses the update with ErrMissingWhereClause when the filter is empty.
	result := filter.apply(r.db.WithContext(ctx).Model(&models.Notification{})).Updates(r.withTimestamp(fields))
	if result.Error != nil {
		return 0, fmt.Errorf("notification repository: update where: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *GormNotificationRepository) TransitionStatus(ctx context.Context, id string, from []models.Status, to models.Status, fields map[string]any) (bool, error) {
	if !to.Valid() {
		return false, apperrors.ErrInvalidState.WithMessage("unknown status %q", to)
	}
	if len(from) == 0 {
		return false, errors.New("notification repository: transition requires source statuses")
	}

	updates := r.withTimestamp(fields)
	updates["status"] = to

	result := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("notification repository: transition %s to %s: %w", id, to, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *GormNotificationRepository) withTimestamp(fields map[string]any) map[string]any {
	updates := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		updates[key] = value
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = r.now().UTC()
	}
	return updates
}

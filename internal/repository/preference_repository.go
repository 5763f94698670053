package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/csrnotify/internal/models"
	apperrors "github.com/charlesng35/csrnotify/pkg/errors"
)

// PreferenceRepository exposes the per-user delivery preferences.
type PreferenceRepository interface {
	FindUsersByDigestFrequency(ctx context.Context, days int) ([]string, error)
	FindByUserID(ctx context.Context, userID string) (*models.NotificationPreference, error)
	Upsert(ctx context.Context, pref *models.NotificationPreference) error
}

// GormPreferenceRepository implements PreferenceRepository on top of GORM.
type GormPreferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository constructs a GORM backed preference repository.
func NewPreferenceRepository(db *gorm.DB) (*GormPreferenceRepository, error) {
	if db == nil {
		return nil, errors.New("preference repository: db is required")
	}
	return &GormPreferenceRepository{db: db}, nil
}

func (r *GormPreferenceRepository) FindUsersByDigestFrequency(ctx context.Context, days int) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).Model(&models.NotificationPreference{}).
		Where("digest_enabled = ? AND digest_frequency = ?", true, days).
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("preference repository: users by digest frequency: %w", err)
	}
	return userIDs, nil
}

func (r *GormPreferenceRepository) FindByUserID(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("preference repository: find: %w", err)
	}
	return &pref, nil
}

func (r *GormPreferenceRepository) Upsert(ctx context.Context, pref *models.NotificationPreference) error {
	if pref == nil || pref.UserID == "" {
		return apperrors.ErrInvalidData.WithMessage("preference user id is required")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "phone", "digest_enabled", "digest_frequency", "timezone", "updated_at"}),
	}).Create(pref).Error
	if err != nil {
		return fmt.Errorf("preference repository: upsert: %w", err)
	}
	return nil
}

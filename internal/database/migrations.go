package database

import "github.com/charlesng35/csrnotify/internal/models"

func allModels() []any {
	return []any{
		&models.Notification{},
		&models.NotificationPreference{},
	}
}

package db

import (
	"github.com/NikKowPHP/meetup/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	// The unique index on events.source_url is what closes the dedup race;
	// AutoMigrate creates it from the model tag.
	return db.Gorm.AutoMigrate(
		&models.Event{},
		&models.SourceState{},
		&models.SystemSetting{},
	)
}

package database

import "livecount/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.VodStats{},
		&models.ViewHistory{},
		&models.BroadcastSummary{},
	}
}

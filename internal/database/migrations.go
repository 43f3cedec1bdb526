package database

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/trialkit/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
// Usage tables are owned by other services; they are migrated here so a standalone
// deployment and the test suite have something to count.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Entitlement{},
		&models.Campaign{},
		&models.RewardGrant{},
		&models.Referral{},
		&models.Experience{},
		&models.ESDocument{},
		&models.InterviewSession{},
		&models.DomainEvent{},
		&models.CacheEntry{},
	)
}

// SeedCampaigns inserts campaigns that do not exist yet. Existing rows are left
// untouched so restarts never reset claimed slots.
func SeedCampaigns(db *gorm.DB, campaigns []models.Campaign) error {
	for i := range campaigns {
		campaign := campaigns[i]
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).Create(&campaign).Error; err != nil {
			return err
		}
	}
	return nil
}

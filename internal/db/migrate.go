package db

import (
	"pmbots/internal/models"
)

// AutoMigrate migrates the application schema. The bot database is owned by
// the bot runners and is never migrated from here.
func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.Wallet{},
		&models.Strategy{},
		&models.Bot{},
		&models.BotOperationHistory{},
		&models.UserSubscription{},
		&models.SubscriptionPayment{},
		&models.SystemSetting{},
	); err != nil {
		return err
	}

	// Funder uniqueness only applies to live wallets; a soft-deleted wallet's
	// address can be imported again.
	return db.Gorm.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_wallets_funder_live ON wallets (funder) WHERE deleted = false",
	).Error
}

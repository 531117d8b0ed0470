package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillCatalogSearchText = "2026-05-12_backfill_catalog_search_text"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillCatalogSearchText, apply: backfillCatalogSearchText},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows synced before search_text existed carry an empty denormalized blob,
// which makes them invisible to catalog search until the next full sync.
func backfillCatalogSearchText(db *gorm.DB) error {
	backfillProducts := "UPDATE catalog_products SET search_text = lower(name || ' ' || sku) WHERE search_text = '';"
	if err := db.Exec(backfillProducts).Error; err != nil {
		return err
	}
	backfillCustomers := "UPDATE catalog_customers SET search_text = lower(first_name || ' ' || last_name || ' ' || email) WHERE search_text = '';"
	return db.Exec(backfillCustomers).Error
}

package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/quoteflow/backend/internal/catalog"
	"github.com/quoteflow/backend/internal/quote"
	syncpkg "github.com/quoteflow/backend/internal/sync"
	"github.com/quoteflow/backend/internal/users"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open establishes the database connection for the configured driver and
// performs schema migrations. SQLite connections are capped at a single open
// connection because the file driver serializes writers anyway.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(
		&catalog.CachedProduct{},
		&catalog.CachedCustomer{},
		&syncpkg.SyncRun{},
		&quote.Quote{},
		&quote.QuoteView{},
		&quote.NumberSequence{},
		&users.Account{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driver))
	}

	return db, nil
}

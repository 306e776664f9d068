package database

import (
	"fmt"
	"strings"
	"time"

	"tokenkeeper/internal/domain"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

// Connect opens PostgreSQL for postgres:// DSNs and SQLite (pure Go driver)
// for anything else. All timestamps are written in UTC.
func Connect(dsn string, log logrus.FieldLogger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		log.Info("Connecting to PostgreSQL")
		return gorm.Open(postgres.Open(dsn), cfg)
	}

	log.WithField("dsn", dsn).Info("Using SQLite for local development")

	db, err := gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		}),
		cfg,
	)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite serializes writers anyway, and an in-memory
	// database only exists on the connection that created it.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return db, nil
}

// Migrate creates the users and refresh_tokens tables with their indexes
// (unique token_hash, (user_id, user_role), expires_at, revoked_at, family_id).
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.User{}, &domain.RefreshToken{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

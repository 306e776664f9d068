// Package databasetest opens throwaway databases for tests.
package databasetest

import (
	"io"
	"testing"

	"tokenkeeper/internal/database"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Open returns a migrated in-memory SQLite database that is closed when the
// test ends.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	log := logrus.New()
	log.Out = io.Discard

	db, err := database.Connect(":memory:", log)
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

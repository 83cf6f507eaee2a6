package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/storyapp/storyapp/internal/datastore/entities"
)

// setupTestDB creates an in-memory SQLite database with all tables migrated.
// A private cache name per test keeps parallel tests isolated while the
// single connection guarantees every query sees the same database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared&_foreign_keys=ON"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&entities.CacheBucket{},
		&entities.CacheEntry{},
		&entities.PushSubscription{},
	)
	require.NoError(t, err, "failed to migrate tables")
	return db
}

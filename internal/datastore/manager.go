// Package datastore opens the gorm database backing persistent caches and
// push subscriptions.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/storyapp/storyapp/internal/datastore/entities"
	"github.com/storyapp/storyapp/internal/errors"
)

// Supported backends.
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// Config selects a backend and its connection string.
type Config struct {
	Backend string
	// DSN is a file path or sqlite URI for sqlite, a go-sql-driver DSN for mysql.
	DSN string
	// Debug enables gorm SQL logging.
	Debug bool
}

// Manager owns a gorm connection.
type Manager struct {
	db      *gorm.DB
	backend string
}

// NewManager opens the configured database. Call Initialize before use.
func NewManager(cfg Config) (*Manager, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite, "":
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(cfg.DSN)
	case BackendMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported datastore backend %q", cfg.Backend).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	level := gorm_logger.Silent
	if cfg.Debug {
		level = gorm_logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gorm_logger.Default.LogMode(level)})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", cfg.Backend, err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Build()
	}

	backend := strings.ToLower(cfg.Backend)
	if backend == "" {
		backend = BackendSQLite
	}
	if backend == BackendSQLite {
		// sqlite allows a single writer
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return &Manager{db: db, backend: backend}, nil
}

func ensureSQLiteDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

// Initialize migrates all tables.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(
		&entities.CacheBucket{},
		&entities.CacheEntry{},
		&entities.PushSubscription{},
	); err != nil {
		return errors.New(fmt.Errorf("failed to migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("backend", m.backend).
			Build()
	}
	return nil
}

// DB returns the underlying connection.
func (m *Manager) DB() *gorm.DB { return m.db }

// Backend returns the normalized backend name.
func (m *Manager) Backend() string { return m.backend }

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

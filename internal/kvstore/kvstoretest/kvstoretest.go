// Package kvstoretest opens throwaway stores for package tests.
package kvstoretest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/konnection/roomstate/internal/kvstore"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDatabase returns a migrated SQLite database living in t.TempDir.
func OpenDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&kvstore.Entry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewStore returns a Store over a fresh database and a fixed clock.
func NewStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.NewStore(kvstore.StoreConfig{
		Database: OpenDatabase(t),
		Clock:    func() time.Time { return time.Unix(1_760_000_000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

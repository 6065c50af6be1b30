// Package sqlite opens the pure-Go SQLite store used for single-node runs and tests.
package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/sifan077/TempLogin/internal/infra/postgres"
)

// NewGorm opens the SQLite database at dsn. SQLite allows one writer at a time, so
// the pool is pinned to a single connection and transactions run one after another.
func NewGorm(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), postgres.GormConfig())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: retrieve sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return nil, fmt.Errorf("sqlite: set busy timeout: %w", err)
	}
	return db, nil
}

// MemoryDSN names a private in-memory database that lives as long as its connection.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

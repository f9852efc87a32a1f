// Package db opens the GORM connection backing the ledger store. SQLite is
// used for single-node deployments and tests, postgres when several
// processes share one ledger.
package db

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pushchain/txledger/txledger/store"
)

const (
	// InMemorySQLiteDSN opens an ephemeral SQLite database
	InMemorySQLiteDSN = ":memory:"

	// DialectPostgres is the dialector name reported for postgres connections
	DialectPostgres = "postgres"

	dialectSQLite = "sqlite"

	// sqliteFileParams applies to file databases only
	sqliteFileParams = "?_journal_mode=WAL&_busy_timeout=5000"
)

// pool sizes the database/sql connection pool of a dialect
type pool struct {
	maxOpen int
	maxIdle int
}

var (
	// One SQLite connection serialises every write, which also makes each
	// transaction exclusive. In-memory databases live only as long as it does.
	sqlitePool   = pool{maxOpen: 1, maxIdle: 1}
	postgresPool = pool{maxOpen: 20, maxIdle: 5}
)

// DB wraps a GORM client and provides simplified DB lifecycle management.
type DB struct {
	client *gorm.DB
}

// OpenFileDB opens (or creates) <dir>/<filename>, creating dir when missing.
func OpenFileDB(dir, filename string, migrateSchema bool) (*DB, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
	}
	return open(sqlite.Open(filepath.Join(dir, filename)+sqliteFileParams), sqlitePool, migrateSchema)
}

// OpenInMemoryDB opens a non-persistent SQLite database.
func OpenInMemoryDB(migrateSchema bool) (*DB, error) {
	return open(sqlite.Open(InMemorySQLiteDSN), sqlitePool, migrateSchema)
}

// OpenPostgres connects to a postgres ledger.
func OpenPostgres(dsn string, migrateSchema bool) (*DB, error) {
	return open(postgres.Open(dsn), postgresPool, migrateSchema)
}

func open(dialector gorm.Dialector, p pool, migrateSchema bool) (*DB, error) {
	client, err := gorm.Open(dialector, &gorm.Config{
		// callers log through zerolog
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", dialector.Name())
	}

	sqlDB, err := client.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetConnMaxLifetime(0)

	if dialector.Name() == dialectSQLite {
		if err := client.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, errors.Wrap(err, "failed to enable foreign keys")
		}
	}

	if migrateSchema {
		if err := client.AutoMigrate(store.Models()...); err != nil {
			return nil, errors.Wrap(err, "failed to auto-migrate database schema")
		}
	}
	return &DB{client: client}, nil
}

// Client returns the GORM handle used by the store packages.
func (d *DB) Client() *gorm.DB {
	return d.client
}

// Dialect returns "sqlite" or "postgres".
func (d *DB) Dialect() string {
	return d.client.Dialector.Name()
}

// Close closes the connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "failed to close database connection")
}

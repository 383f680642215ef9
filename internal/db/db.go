package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/foxzi/wacampaign/internal/config"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB is the state store handle. Queries are written with ? placeholders and
// passed through Rebind before execution.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the store described by cfg
func Open(cfg config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgres(cfg.DSN)
	case DriverSQLite, "":
		return New(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// New opens a SQLite database at path
func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(DriverSQLite, path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{DB: db, Driver: DriverSQLite}, nil
}

// NewPostgres opens a PostgreSQL database using dsn
func NewPostgres(dsn string) (*DB, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: db, Driver: DriverPostgres}, nil
}

// Wrap adapts an already opened connection pool
func Wrap(sqlDB *sql.DB, driver string) *DB {
	return &DB{DB: sqlDB, Driver: driver}
}

// Rebind rewrites ? placeholders into the driver's bind syntax
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationCampaigns,
		migrationCampaignsIndex,
		migrationInstances,
		migrationInstancesIndex,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    instance_name TEXT NOT NULL,
    send_type TEXT NOT NULL,
    image_url TEXT NOT NULL DEFAULT '',
    phone_count INTEGER NOT NULL,
    delay_seconds INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL
)`

const migrationCampaignsIndex = `
CREATE INDEX IF NOT EXISTS idx_campaigns_created_at ON campaigns(created_at)`

const migrationInstances = `
CREATE TABLE IF NOT EXISTS instances (
    name TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'pending',
    qr_code TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const migrationInstancesIndex = `
CREATE INDEX IF NOT EXISTS idx_instances_updated_at ON instances(updated_at)`

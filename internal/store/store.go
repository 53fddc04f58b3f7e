// Package store persists license keys and admin accounts in a relational
// database through sqlx. SQLite is the default; PostgreSQL, MySQL and SQL
// Server are supported with the same schema.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
)

// DefaultOpTimeout bounds every store operation that does not carry a
// shorter deadline of its own.
const DefaultOpTimeout = 5 * time.Second

// Config selects and tunes the backing database.
type Config struct {
	// Driver is one of Drivers(). Empty selects sqlite.
	Driver string

	// DSN is passed to the driver. For sqlite an empty DSN selects
	// DataDir/latch.db, or an in-memory database when DataDir is empty.
	DSN     string
	DataDir string

	OpTimeout time.Duration
	Pool      PoolConfig
}

// PoolConfig controls the database connection pool. Zero values keep the
// database/sql defaults. Ignored for sqlite.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig returns sensible defaults for a server database pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// Store is the key and admin store.
type Store struct {
	db        *sqlx.DB
	dialect   *dialect
	opTimeout time.Duration
}

// Open connects to the configured database. It does not create the schema;
// call Migrate once after opening.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == "sqlite" && dsn == "" {
		dsn, err = sqliteDSN(cfg.DataDir)
		if err != nil {
			return nil, err
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s driver requires a dsn", d.name)
	}
	if d.normalizeDSN != nil {
		if dsn, err = d.normalizeDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.ConnectContext(ctx, d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d.name, err)
	}

	if d.singleConn {
		db.SetMaxOpenConns(1)
	} else {
		applyPool(db, cfg.Pool)
	}

	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &Store{db: db, dialect: d, opTimeout: timeout}, nil
}

// OpenAndMigrate opens the database and brings its schema up to date.
func OpenAndMigrate(ctx context.Context, cfg Config) (*Store, error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func sqliteDSN(dataDir string) (string, error) {
	if dataDir == "" {
		return ":memory:", nil
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(dataDir, "latch.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
}

func applyPool(db *sqlx.DB, p PoolConfig) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	if p.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the configured dialect name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

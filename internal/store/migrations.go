package store

import (
	"context"
	"fmt"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS license_keys (
		key_string TEXT PRIMARY KEY NOT NULL,
		expires_at DATETIME NOT NULL,
		hardware_id TEXT,
		redeemed_by TEXT NOT NULL DEFAULT '[]',
		is_banned INTEGER NOT NULL DEFAULT 0,
		violation_count INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		email TEXT PRIMARY KEY NOT NULL,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		last_login_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_license_keys_created_at ON license_keys(created_at)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS license_keys (
		key_string VARCHAR(64) PRIMARY KEY,
		expires_at TIMESTAMPTZ NOT NULL,
		hardware_id VARCHAR(255),
		redeemed_by TEXT NOT NULL DEFAULT '[]',
		is_banned BOOLEAN NOT NULL DEFAULT FALSE,
		violation_count INTEGER NOT NULL DEFAULT 0,
		created_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		email VARCHAR(255) PRIMARY KEY,
		password_hash TEXT NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_license_keys_created_at ON license_keys(created_at)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS; a "Duplicate key name" failure on
// rerun is treated as applied.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS license_keys (
		key_string VARCHAR(64) NOT NULL PRIMARY KEY,
		expires_at DATETIME(6) NOT NULL,
		hardware_id VARCHAR(255) NULL,
		redeemed_by TEXT NOT NULL,
		is_banned BOOLEAN NOT NULL DEFAULT FALSE,
		violation_count INT NOT NULL DEFAULT 0,
		created_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS admins (
		email VARCHAR(255) NOT NULL PRIMARY KEY,
		password_hash TEXT NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE INDEX idx_license_keys_created_at ON license_keys(created_at)`,
}

var sqlserverMigrations = []string{
	`IF OBJECT_ID(N'license_keys', N'U') IS NULL
	CREATE TABLE license_keys (
		key_string NVARCHAR(64) NOT NULL PRIMARY KEY,
		expires_at DATETIME2 NOT NULL,
		hardware_id NVARCHAR(255) NULL,
		redeemed_by NVARCHAR(MAX) NOT NULL DEFAULT '[]',
		is_banned BIT NOT NULL DEFAULT 0,
		violation_count INT NOT NULL DEFAULT 0,
		created_by NVARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME2 NOT NULL,
		updated_at DATETIME2 NOT NULL
	)`,

	`IF OBJECT_ID(N'admins', N'U') IS NULL
	CREATE TABLE admins (
		email NVARCHAR(255) NOT NULL PRIMARY KEY,
		password_hash NVARCHAR(MAX) NOT NULL,
		name NVARCHAR(255) NOT NULL DEFAULT '',
		is_active BIT NOT NULL DEFAULT 1,
		last_login_at DATETIME2 NULL,
		created_at DATETIME2 NOT NULL,
		updated_at DATETIME2 NOT NULL
	)`,

	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'idx_license_keys_created_at')
	CREATE INDEX idx_license_keys_created_at ON license_keys(created_at)`,
}

// Migrate creates or upgrades the schema. Every statement is idempotent, so
// Migrate is safe to run on each startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			if isDuplicateObject(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

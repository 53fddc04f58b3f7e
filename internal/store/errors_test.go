package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), ErrNotFound},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, ErrConflict},
		{"mysql duplicate entry", &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, ErrConflict},
		{"sqlserver primary key", mssql.Error{Number: 2627, Message: "Violation of PRIMARY KEY constraint"}, ErrConflict},
		{"sqlserver unique index", mssql.Error{Number: 2601, Message: "Cannot insert duplicate key row"}, ErrConflict},
		{"sqlite message", errors.New("constraint failed: UNIQUE constraint failed: license_keys.key_string (1555)"), ErrConflict},
		{"deadline", context.DeadlineExceeded, ErrUnavailable},
		{"canceled", context.Canceled, ErrUnavailable},
		{"closed", sql.ErrConnDone, ErrUnavailable},
		{"postgres other", &pgconn.PgError{Code: "57P01"}, ErrUnavailable},
		{"already classified", ErrConflict, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if err := classify("op", nil); err != nil {
		t.Errorf("classify(nil) = %v, want nil", err)
	}
}

func TestClassifyKeepsCause(t *testing.T) {
	err := classify("get key", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected cause in chain, got %v", err)
	}
}

func TestNormalizeMySQLDSN(t *testing.T) {
	dsn, err := normalizeMySQLDSN("user:pass@tcp(localhost:3306)/latch")
	if err != nil {
		t.Fatalf("normalizeMySQLDSN: %v", err)
	}
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if !cfg.ParseTime {
		t.Error("expected parseTime to be enabled")
	}
	if cfg.DBName != "latch" {
		t.Errorf("got db name %q, want latch", cfg.DBName)
	}
}

func TestLookupDialect(t *testing.T) {
	tests := map[string]string{
		"":           "sqlite",
		"SQLite":     "sqlite",
		"postgresql": "postgres",
		"pgx":        "postgres",
		"mysql":      "mysql",
		"mssql":      "sqlserver",
	}
	for in, want := range tests {
		d, err := lookupDialect(in)
		if err != nil {
			t.Errorf("lookupDialect(%q): %v", in, err)
			continue
		}
		if d.name != want {
			t.Errorf("lookupDialect(%q) = %s, want %s", in, d.name, want)
		}
	}
	if got := Drivers(); len(got) != 4 || got[0] != "mysql" {
		t.Errorf("Drivers() = %v", got)
	}
}

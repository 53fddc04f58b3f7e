package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// dialect describes how the store talks to one database engine.
type dialect struct {
	name   string // name used in configuration
	driver string // database/sql driver name

	// singleConn forces a one-connection pool. SQLite serializes writers
	// this way, which also serializes ModifyKey transactions.
	singleConn bool

	// lockHint is placed after the table name and lockSuffix after the
	// WHERE clause of a locking read.
	lockHint   string
	lockSuffix string

	normalizeDSN func(dsn string) (string, error)
	migrations   []string
}

var dialects = map[string]*dialect{
	"sqlite": {
		name:       "sqlite",
		driver:     "sqlite",
		singleConn: true,
		migrations: sqliteMigrations,
	},
	"postgres": {
		name:       "postgres",
		driver:     "pgx",
		lockSuffix: " FOR UPDATE",
		migrations: postgresMigrations,
	},
	"mysql": {
		name:         "mysql",
		driver:       "mysql",
		lockSuffix:   " FOR UPDATE",
		normalizeDSN: normalizeMySQLDSN,
		migrations:   mysqlMigrations,
	},
	"sqlserver": {
		name:       "sqlserver",
		driver:     "sqlserver",
		lockHint:   " WITH (UPDLOCK, ROWLOCK)",
		migrations: sqlserverMigrations,
	},
}

// driver aliases accepted in configuration
var dialectAliases = map[string]string{
	"sqlite3":    "sqlite",
	"postgresql": "postgres",
	"pgx":        "postgres",
	"mssql":      "sqlserver",
}

func lookupDialect(name string) (*dialect, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "sqlite"
	}
	if alias, ok := dialectAliases[name]; ok {
		name = alias
	}
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s (available: %v)", name, Drivers())
	}
	return d, nil
}

// CheckDriver reports an error unless name, or an alias of it, is a
// supported driver. An empty name selects sqlite and is always valid.
func CheckDriver(name string) error {
	_, err := lookupDialect(name)
	return err
}

// Drivers returns the names of all supported database drivers, sorted.
func Drivers() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalizeMySQLDSN turns on parseTime and pins the session location to UTC
// so DATETIME columns scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

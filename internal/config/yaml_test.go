package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/latch/internal/license"
	"github.com/faucetdb/latch/internal/store"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "latch.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultYAMLConfig_Valid(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Keys.Prefix != license.DefaultPrefix {
		t.Errorf("keys.prefix = %q, want %q", cfg.Keys.Prefix, license.DefaultPrefix)
	}
	if cfg.Keys.DefaultDays != 3 {
		t.Errorf("keys.default_days = %d, want 3", cfg.Keys.DefaultDays)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store.driver = %q, want sqlite", cfg.Store.Driver)
	}
}

func TestLoadYAMLConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadYAMLConfig("")
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoadYAMLConfig_MergesOverDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
store:
  driver: postgres
  dsn: postgres://localhost/latch
keys:
  default_days: 30
`)
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server.host = %q, want default 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/latch" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Keys.DefaultDays != 30 {
		t.Errorf("keys.default_days = %d, want 30", cfg.Keys.DefaultDays)
	}
	if cfg.Keys.Prefix != license.DefaultPrefix {
		t.Errorf("keys.prefix = %q, want default", cfg.Keys.Prefix)
	}
}

func TestLoadYAMLConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("LATCH_TEST_SECRET", "s3cret")
	path := writeFile(t, "auth:\n  jwt_secret: ${LATCH_TEST_SECRET}\n")

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("auth.jwt_secret = %q, want s3cret", cfg.Auth.JWTSecret)
	}
}

func TestLoadYAMLConfig_Errors(t *testing.T) {
	if _, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadYAMLConfig(writeFile(t, "server: [not, a, map")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestWriteDefaultConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latch.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written defaults invalid: %v", err)
	}
	if cfg.Auth.SessionTTL != "24h" {
		t.Errorf("auth.session_ttl = %q, want 24h", cfg.Auth.SessionTTL)
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("LATCH_TEST_DSN", "file.db")
	values := map[string]string{
		"server.port":       "9999",
		"store.dsn":         "${LATCH_TEST_DSN}",
		"keys.default_days": "7",
		"mcp.enabled":       "true",
		"logging.level":     "debug",
	}
	lookup := func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}

	cfg := DefaultYAMLConfig()
	if err := cfg.ApplyOverrides(lookup); err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Store.DSN != "file.db" {
		t.Errorf("store.dsn = %q, want file.db", cfg.Store.DSN)
	}
	if cfg.Keys.DefaultDays != 7 {
		t.Errorf("keys.default_days = %d, want 7", cfg.Keys.DefaultDays)
	}
	if !cfg.MCP.Enabled {
		t.Error("mcp.enabled should be true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server.host changed to %q without an override", cfg.Server.Host)
	}
}

func TestApplyOverrides_BadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"server.port", "eighty"},
		{"mcp.enabled", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultYAMLConfig()
			err := cfg.ApplyOverrides(func(key string) (string, bool) {
				if key == tt.key {
					return tt.value, true
				}
				return "", false
			})
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error = %v, want mention of %s", err, tt.key)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultYAMLConfig()
	cfg.Server.Port = 0
	cfg.Store.Driver = "oracle"
	cfg.Keys.DefaultDays = -1
	cfg.Keys.SuffixLength = 4
	cfg.Keys.MaxCreateAttempts = 0
	cfg.MCP.Transport = "carrier-pigeon"
	cfg.Logging.Format = "xml"
	cfg.Logging.Level = "loud"
	cfg.Auth.SessionTTL = "forever"
	cfg.Store.OpTimeout = "-1s"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, field := range []string{
		"server.port", "store.driver", "keys.default_days", "keys.suffix_length",
		"keys.max_create_attempts", "mcp.transport", "logging.format", "logging.level",
		"auth.session_ttl", "store.op_timeout",
	} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error does not mention %s: %v", field, err)
		}
	}
}

func TestValidate_DefaultDaysUpperBound(t *testing.T) {
	cfg := DefaultYAMLConfig()
	cfg.Keys.DefaultDays = license.MaxExpiryDays
	if err := cfg.Validate(); err != nil {
		t.Fatalf("max default_days rejected: %v", err)
	}
	cfg.Keys.DefaultDays = license.MaxExpiryDays + 1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "keys.default_days") {
		t.Errorf("error = %v, want keys.default_days", err)
	}
}

func TestValidate_DriverAliases(t *testing.T) {
	for _, driver := range []string{"sqlite3", "postgresql", "mssql", "mysql", ""} {
		cfg := DefaultYAMLConfig()
		cfg.Store.Driver = driver
		if err := cfg.Validate(); err != nil {
			t.Errorf("driver %q rejected: %v", driver, err)
		}
	}
}

func TestStoreConfig(t *testing.T) {
	cfg := DefaultYAMLConfig()
	cfg.Store.OpTimeout = "2s"
	cfg.Store.Pool.ConnMaxLifetime = "10m"

	sc, err := cfg.StoreConfig("/var/lib/latch")
	if err != nil {
		t.Fatalf("StoreConfig: %v", err)
	}
	if sc.DataDir != "/var/lib/latch" {
		t.Errorf("DataDir = %q, want default dir", sc.DataDir)
	}
	if sc.OpTimeout != 2*time.Second {
		t.Errorf("OpTimeout = %v, want 2s", sc.OpTimeout)
	}
	if sc.Pool.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want 10m", sc.Pool.ConnMaxLifetime)
	}
	if sc.Pool.MaxOpenConns != store.DefaultPoolConfig().MaxOpenConns {
		t.Errorf("MaxOpenConns = %d", sc.Pool.MaxOpenConns)
	}

	cfg.Store.DataDir = "/explicit"
	sc, _ = cfg.StoreConfig("/var/lib/latch")
	if sc.DataDir != "/explicit" {
		t.Errorf("DataDir = %q, want /explicit", sc.DataDir)
	}

	cfg.Store.OpTimeout = ""
	sc, _ = cfg.StoreConfig("")
	if sc.OpTimeout != store.DefaultOpTimeout {
		t.Errorf("empty op_timeout = %v, want %v", sc.OpTimeout, store.DefaultOpTimeout)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if got := cfg.ShutdownTimeout(); got != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", got)
	}
	cfg.Auth.SessionTTL = "2h"
	if got := cfg.SessionTTL(); got != 2*time.Hour {
		t.Errorf("SessionTTL = %v, want 2h", got)
	}
	cfg.Auth.SessionTTL = ""
	if got := cfg.SessionTTL(); got != 24*time.Hour {
		t.Errorf("empty SessionTTL = %v, want 24h", got)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"debug", false},
		{"INFO", false},
		{"warn", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		_, err := LoggingConfig{Level: tt.in}.SlogLevel()
		if (err != nil) != tt.wantErr {
			t.Errorf("SlogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

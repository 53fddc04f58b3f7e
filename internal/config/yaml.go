package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faucetdb/latch/internal/license"
	"github.com/faucetdb/latch/internal/store"
)

// YAMLConfig represents the top-level latch configuration file.
type YAMLConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Keys    KeysConfig    `yaml:"keys"`
	Auth    AuthConfig    `yaml:"auth"`
	MCP     MCPConfig     `yaml:"mcp"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// StoreConfig selects the database holding keys and admin accounts.
type StoreConfig struct {
	Driver    string         `yaml:"driver"`
	DSN       string         `yaml:"dsn"`
	DataDir   string         `yaml:"data_dir"`
	OpTimeout string         `yaml:"op_timeout"`
	Pool      PoolYAMLConfig `yaml:"pool"`
}

// PoolYAMLConfig controls the connection pool in YAML config.
type PoolYAMLConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `yaml:"conn_max_idle_time"`
}

// KeysConfig controls key issuance.
type KeysConfig struct {
	Prefix            string `yaml:"prefix"`
	SuffixLength      int    `yaml:"suffix_length"`
	DefaultDays       int    `yaml:"default_days"`
	MaxCreateAttempts int    `yaml:"max_create_attempts"`
}

// AuthConfig controls admin authentication.
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	SessionTTL string `yaml:"session_ttl"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	// Enabled mounts the Streamable HTTP endpoint at /mcp on `latch serve`.
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"`
	Port      int    `yaml:"port"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of
// DefaultYAMLConfig. Environment variables referenced as ${VAR_NAME} in the
// file are expanded before parsing. An empty path returns the defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	cfg := DefaultYAMLConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	pool := store.DefaultPoolConfig()
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Store: StoreConfig{
			Driver:    "sqlite",
			OpTimeout: store.DefaultOpTimeout.String(),
			Pool: PoolYAMLConfig{
				MaxOpenConns:    pool.MaxOpenConns,
				MaxIdleConns:    pool.MaxIdleConns,
				ConnMaxLifetime: pool.ConnMaxLifetime.String(),
				ConnMaxIdleTime: pool.ConnMaxIdleTime.String(),
			},
		},
		Keys: KeysConfig{
			Prefix:            license.DefaultPrefix,
			SuffixLength:      license.DefaultSuffixLength,
			DefaultDays:       license.DefaultExpiryDays,
			MaxCreateAttempts: 5,
		},
		Auth: AuthConfig{
			SessionTTL: "24h",
		},
		MCP: MCPConfig{
			Enabled:   false,
			Transport: "stdio",
			Port:      3001,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyOverrides replaces settings with values returned by lookup, keyed by
// their dotted YAML path (e.g. "store.dsn"). Values are env-expanded like the
// file itself. Keys lookup does not report are left alone.
func (c *YAMLConfig) ApplyOverrides(lookup func(key string) (string, bool)) error {
	strs := map[string]*string{
		"server.host":             &c.Server.Host,
		"server.shutdown_timeout": &c.Server.ShutdownTimeout,
		"store.driver":            &c.Store.Driver,
		"store.dsn":               &c.Store.DSN,
		"store.data_dir":          &c.Store.DataDir,
		"store.op_timeout":        &c.Store.OpTimeout,
		"keys.prefix":             &c.Keys.Prefix,
		"auth.jwt_secret":         &c.Auth.JWTSecret,
		"auth.session_ttl":        &c.Auth.SessionTTL,
		"mcp.transport":           &c.MCP.Transport,
		"logging.level":           &c.Logging.Level,
		"logging.format":          &c.Logging.Format,
	}
	ints := map[string]*int{
		"server.port":              &c.Server.Port,
		"keys.suffix_length":       &c.Keys.SuffixLength,
		"keys.default_days":        &c.Keys.DefaultDays,
		"keys.max_create_attempts": &c.Keys.MaxCreateAttempts,
		"mcp.port":                 &c.MCP.Port,
	}
	bools := map[string]*bool{
		"mcp.enabled": &c.MCP.Enabled,
	}

	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = os.ExpandEnv(v)
		}
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(os.ExpandEnv(v)))
			if err != nil {
				return fmt.Errorf("%s: %q is not an integer", key, v)
			}
			*dst = n
		}
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(os.ExpandEnv(v)))
			if err != nil {
				return fmt.Errorf("%s: %q is not a boolean", key, v)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the configuration for values the server cannot start with.
// All problems are reported together.
func (c *YAMLConfig) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if err := store.CheckDriver(c.Store.Driver); err != nil {
		errs = append(errs, fmt.Errorf("store.driver: %w", err))
	}
	if c.Keys.DefaultDays < 0 {
		errs = append(errs, errors.New("keys.default_days: must not be negative"))
	} else if c.Keys.DefaultDays > license.MaxExpiryDays {
		errs = append(errs, fmt.Errorf("keys.default_days: must be at most %d", license.MaxExpiryDays))
	}
	if c.Keys.SuffixLength != 0 && c.Keys.SuffixLength < license.MinSuffixLength {
		errs = append(errs, fmt.Errorf("keys.suffix_length: must be at least %d", license.MinSuffixLength))
	}
	if c.Keys.MaxCreateAttempts < 1 {
		errs = append(errs, errors.New("keys.max_create_attempts: must be at least 1"))
	}
	switch c.MCP.Transport {
	case "", "stdio", "http":
	default:
		errs = append(errs, fmt.Errorf("mcp.transport: %q is not stdio or http", c.MCP.Transport))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: %q is not text or json", c.Logging.Format))
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	durations := map[string]string{
		"server.shutdown_timeout":       c.Server.ShutdownTimeout,
		"store.op_timeout":              c.Store.OpTimeout,
		"store.pool.conn_max_lifetime":  c.Store.Pool.ConnMaxLifetime,
		"store.pool.conn_max_idle_time": c.Store.Pool.ConnMaxIdleTime,
		"auth.session_ttl":              c.Auth.SessionTTL,
	}
	for field, v := range durations {
		if _, err := parseDuration(field, v, 0); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ShutdownTimeout returns server.shutdown_timeout, defaulting to 30s.
func (c *YAMLConfig) ShutdownTimeout() time.Duration {
	d, _ := parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout, 30*time.Second)
	return d
}

// SessionTTL returns auth.session_ttl, defaulting to 24h.
func (c *YAMLConfig) SessionTTL() time.Duration {
	d, _ := parseDuration("auth.session_ttl", c.Auth.SessionTTL, 24*time.Hour)
	return d
}

// StoreConfig converts the store section into a store.Config. defaultDataDir
// is used for sqlite when store.data_dir is empty.
func (c *YAMLConfig) StoreConfig(defaultDataDir string) (store.Config, error) {
	s := c.Store
	cfg := store.Config{
		Driver:  s.Driver,
		DSN:     s.DSN,
		DataDir: s.DataDir,
		Pool: store.PoolConfig{
			MaxOpenConns: s.Pool.MaxOpenConns,
			MaxIdleConns: s.Pool.MaxIdleConns,
		},
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}

	var err error
	if cfg.OpTimeout, err = parseDuration("store.op_timeout", s.OpTimeout, store.DefaultOpTimeout); err != nil {
		return store.Config{}, err
	}
	if cfg.Pool.ConnMaxLifetime, err = parseDuration("store.pool.conn_max_lifetime", s.Pool.ConnMaxLifetime, 0); err != nil {
		return store.Config{}, err
	}
	if cfg.Pool.ConnMaxIdleTime, err = parseDuration("store.pool.conn_max_idle_time", s.Pool.ConnMaxIdleTime, 0); err != nil {
		return store.Config{}, err
	}
	return cfg, nil
}

// SlogLevel parses logging.level. Empty means info.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %q is not debug, info, warn or error", l.Level)
	}
	return level, nil
}

func parseDuration(field, v string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", field, v)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}

package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/faucetdb/latch/internal/config"
	"github.com/faucetdb/latch/internal/license"
	"github.com/faucetdb/latch/internal/service"
	"github.com/faucetdb/latch/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir,
// LATCH_STORE_DATA_DIR, store.data_dir in the config file, or ~/.latch.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if dir := viper.GetString("store.data_dir"); dir != "" {
		return os.ExpandEnv(dir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".latch")
}

// viperLookup reports settings that were given explicitly through the
// config file, a LATCH_* variable or a bound flag.
func viperLookup(key string) (string, bool) {
	if !viper.IsSet(key) {
		return "", false
	}
	return viper.GetString(key), true
}

// loadConfig reads latch.yaml (if any) on top of the defaults, applies
// environment and flag overrides, and validates the result.
func loadConfig() (*config.YAMLConfig, error) {
	cfg, err := config.LoadYAMLConfig(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(viperLookup); err != nil {
		return nil, fmt.Errorf("config override: %w", err)
	}
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. dev forces debug level.
func newLogger(cfg config.LoggingConfig, dev bool, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openStore opens the configured key store and brings its schema up to date.
func openStore(ctx context.Context, cfg *config.YAMLConfig) (*store.Store, error) {
	sc, err := cfg.StoreConfig(resolveDataDir())
	if err != nil {
		return nil, err
	}
	st, err := store.OpenAndMigrate(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	return st, nil
}

// newKeyService wires the license engine for the configured key format.
func newKeyService(cfg *config.YAMLConfig, st *store.Store, logger *slog.Logger, opts ...service.KeyOption) *service.KeyService {
	engine := license.New(license.NewGenerator(cfg.Keys.Prefix, cfg.Keys.SuffixLength))
	opts = append([]service.KeyOption{
		service.WithDefaultExpiryDays(cfg.Keys.DefaultDays),
		service.WithMaxCreateAttempts(cfg.Keys.MaxCreateAttempts),
	}, opts...)
	return service.NewKeyService(st, engine, logger, opts...)
}

// jwtSecret returns auth.jwt_secret or, when unset, a random per-process
// secret. Sessions signed with a random secret end when the process exits.
func jwtSecret(cfg *config.YAMLConfig, logger *slog.Logger) (string, error) {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	logger.Warn("auth.jwt_secret is not set; using a random secret, admin sessions will not survive a restart")
	return hex.EncodeToString(b), nil
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "latch.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "latch.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

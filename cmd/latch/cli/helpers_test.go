package cli

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/faucetdb/latch/internal/config"
)

func TestVersionString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "dev"},
		{"dev", "dev"},
		{"1.2.0", "v1.2.0"},
		{"v1.2.0", "v1.2.0"},
	}
	for _, tt := range tests {
		appVersion = tt.in
		if got := versionString(); got != tt.want {
			t.Errorf("versionString() with %q = %q, want %q", tt.in, got, tt.want)
		}
	}
	appVersion = ""
}

func TestDisplayAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"0.0.0.0", 8080, "127.0.0.1:8080"},
		{"", 9090, "127.0.0.1:9090"},
		{"::", 80, "127.0.0.1:80"},
		{"licenses.internal", 443, "licenses.internal:443"},
	}
	for _, tt := range tests {
		if got := displayAddr(tt.host, tt.port); got != tt.want {
			t.Errorf("displayAddr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := redact(""); got != "" {
		t.Errorf("redact(\"\") = %q, want empty", got)
	}
	if got := redact("postgres://u:p@db/latch"); strings.Contains(got, "p@db") {
		t.Errorf("redact leaked the secret: %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, false, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "key", "AOV-VN-0000000000")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON record, got %q", out)
	}

	logger, err = newLogger(config.LoggingConfig{Level: "error"}, true, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("dev mode should enable debug logging")
	}

	if _, err := newLogger(config.LoggingConfig{Level: "chatty"}, false, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd("1.0.0", "abc", "today")

	for _, path := range [][]string{
		{"serve"}, {"status"}, {"stop"}, {"version"}, {"mcp"},
		{"key", "create"}, {"key", "list"}, {"key", "check"},
		{"key", "ban"}, {"key", "unban"}, {"key", "delete"},
		{"admin", "create"}, {"admin", "list"},
		{"config", "init"}, {"config", "show"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found (err=%v)", path, err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCmd("1.4.2", "abc123", "2026-01-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "latch 1.4.2") || !strings.Contains(out.String(), "sqlite") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

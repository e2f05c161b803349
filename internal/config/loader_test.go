package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

var schedulerEnv = []string{
	"SCHEDULER_CONFIG_FILE",
	"SCHEDULER_HTTP_PORT",
	"SCHEDULER_SHUTDOWN_TIMEOUT",
	"SCHEDULER_STORAGE",
	"SCHEDULER_SQLITE_DSN",
	"SCHEDULER_LOG_LEVEL",
	"SCHEDULER_LOG_FORMAT",
	"SCHEDULER_BACKFILL_LIMIT",
	"SCHEDULER_FORWARD_LIMIT",
	"SCHEDULER_PROJECTION_CONCURRENCY",
	"SCHEDULER_DEFAULT_MAX_DELAY",
	"SCHEDULER_MAX_WINDOW",
	"SCHEDULER_TASKREF_KEY",
	"SCHEDULER_REDIS_ADDR",
	"SCHEDULER_AUDIT_STREAM",
	"SCHEDULER_AUDIT_STREAM_MAXLEN",
	"SCHEDULER_AUDIT_BUFFER",
	"SCHEDULER_RATE_LIMIT_RPS",
	"SCHEDULER_RATE_LIMIT_BURST",
	"SCHEDULER_CORS_ORIGINS",
}

// clearEnv blanks every scheduler variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range schedulerEnv {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if !reflect.DeepEqual(cfg, Default()) {
			t.Fatalf("expected defaults, got %+v", cfg)
		}
		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.Storage != StorageSQLite {
			t.Fatalf("expected sqlite storage by default, got %q", cfg.Storage)
		}
		if got := cfg.ApplicationOptions().MaxWindow; got != 366*24*time.Hour {
			t.Fatalf("unexpected default max window: %s", got)
		}
	})

	t.Run("parses duration, numeric and list fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_HTTP_PORT", "9090")
		t.Setenv("SCHEDULER_STORAGE", "Memory")
		t.Setenv("SCHEDULER_DEFAULT_MAX_DELAY", "4h")
		t.Setenv("SCHEDULER_BACKFILL_LIMIT", "14")
		t.Setenv("SCHEDULER_RATE_LIMIT_RPS", "2.5")
		t.Setenv("SCHEDULER_CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
		t.Setenv("SCHEDULER_REDIS_ADDR", "localhost:6379")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.Addr() != ":9090" {
			t.Fatalf("expected :9090, got %s", cfg.Addr())
		}
		if cfg.Storage != StorageMemory {
			t.Fatalf("expected memory storage, got %q", cfg.Storage)
		}
		if cfg.DefaultMaxDelay != 4*time.Hour {
			t.Fatalf("expected max delay 4h, got %s", cfg.DefaultMaxDelay)
		}
		if cfg.ApplicationOptions().BackfillLimit != 14 {
			t.Fatalf("expected backfill limit 14, got %d", cfg.BackfillLimit)
		}
		if cfg.RateLimitRPS != 2.5 {
			t.Fatalf("expected 2.5 rps, got %v", cfg.RateLimitRPS)
		}
		want := []string{"https://a.example.com", "https://b.example.com"}
		if !reflect.DeepEqual(cfg.CORSOrigins, want) {
			t.Fatalf("unexpected CORS origins: %v", cfg.CORSOrigins)
		}
		if cfg.RedisAddr != "localhost:6379" {
			t.Fatalf("unexpected redis address: %q", cfg.RedisAddr)
		}
	})

	t.Run("zero backfill limit is kept", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_BACKFILL_LIMIT", "0")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if got := cfg.ApplicationOptions().BackfillLimit; got != 0 {
			t.Fatalf("expected backfill limit 0, got %d", got)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_HTTP_PORT", "http")
		t.Setenv("SCHEDULER_STORAGE", "postgres")
		t.Setenv("SCHEDULER_LOG_FORMAT", "xml")
		t.Setenv("SCHEDULER_MAX_WINDOW", "-1h")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{"SCHEDULER_HTTP_PORT", "SCHEDULER_STORAGE", "SCHEDULER_LOG_FORMAT", "SCHEDULER_MAX_WINDOW"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("error %q does not mention %s", err.Error(), key)
			}
		}
	})
}

func TestLoader_ConfigFile(t *testing.T) {
	t.Run("environment overrides the file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_CONFIG_FILE", writeFile(t, `
http:
  port: 7070
  cors_origins: [https://ops.example.com]
storage:
  driver: sqlite
  sqlite_dsn: file:/var/lib/scheduler/data.db
log:
  level: debug
  format: text
engine:
  default_max_delay: 8h
  projection_concurrency: 2
audit:
  redis_addr: redis:6379
  buffer: 16
`))
		t.Setenv("SCHEDULER_HTTP_PORT", "7171")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 7171 {
			t.Fatalf("expected environment port 7171, got %d", cfg.HTTPPort)
		}
		if cfg.SQLiteDSN != "file:/var/lib/scheduler/data.db" {
			t.Fatalf("unexpected DSN: %q", cfg.SQLiteDSN)
		}
		if cfg.LogFormat != "text" || cfg.LogLevel != "debug" {
			t.Fatalf("unexpected log settings: %s/%s", cfg.LogLevel, cfg.LogFormat)
		}
		if cfg.DefaultMaxDelay != 8*time.Hour {
			t.Fatalf("expected max delay 8h, got %s", cfg.DefaultMaxDelay)
		}
		if cfg.ProjectionConcurrency != 2 || cfg.AuditBuffer != 16 {
			t.Fatalf("unexpected engine settings: %+v", cfg)
		}
		if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://ops.example.com" {
			t.Fatalf("unexpected CORS origins: %v", cfg.CORSOrigins)
		}
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_CONFIG_FILE", writeFile(t, "engine:\n  backfil_limit: 3\n"))

		if _, err := Load(); err == nil {
			t.Fatalf("expected error for unknown key")
		}
	})

	t.Run("rejects malformed durations", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_CONFIG_FILE", writeFile(t, "engine:\n  max_window: a year\n"))

		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), "engine.max_window") {
			t.Fatalf("expected duration error, got %v", err)
		}
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SCHEDULER_CONFIG_FILE", writeFile(t, ""))

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if !reflect.DeepEqual(cfg, Default()) {
			t.Fatalf("expected defaults, got %+v", cfg)
		}
	})
}

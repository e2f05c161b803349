package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/example/facility-scheduler/internal/application"
)

// Storage drivers.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config captures configuration values for the scheduler service.
type Config struct {
	HTTPPort        int
	ShutdownTimeout time.Duration

	Storage   string
	SQLiteDSN string

	LogLevel  string
	LogFormat string

	BackfillLimit         int
	ForwardLimit          int
	ProjectionConcurrency int
	DefaultMaxDelay       time.Duration
	MaxWindow             time.Duration

	// TaskRefKey signs virtual task references. Empty disables signing.
	TaskRefKey string

	// RedisAddr enables the Redis audit stream when set.
	RedisAddr         string
	AuditStream       string
	AuditStreamMaxLen int64
	AuditBuffer       int

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	opts := application.DefaultOptions()
	return Config{
		HTTPPort:              8080,
		ShutdownTimeout:       10 * time.Second,
		Storage:               StorageSQLite,
		SQLiteDSN:             "file:scheduler.db",
		LogLevel:              "info",
		LogFormat:             "json",
		BackfillLimit:         opts.BackfillLimit,
		ForwardLimit:          opts.ForwardLimit,
		ProjectionConcurrency: opts.ProjectionConcurrency,
		DefaultMaxDelay:       opts.DefaultMaxDelay,
		MaxWindow:             opts.MaxWindow,
		AuditStream:           "scheduler:audit",
		AuditStreamMaxLen:     100000,
		AuditBuffer:           256,
		RateLimitRPS:          20,
		RateLimitBurst:        40,
	}
}

// ApplicationOptions returns the engine tuning derived from cfg.
func (c Config) ApplicationOptions() application.Options {
	return application.Options{
		BackfillLimit:         c.BackfillLimit,
		ForwardLimit:          c.ForwardLimit,
		ProjectionConcurrency: c.ProjectionConcurrency,
		DefaultMaxDelay:       c.DefaultMaxDelay,
		MaxWindow:             c.MaxWindow,
	}
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Load parses configuration from the file named by SCHEDULER_CONFIG_FILE, if
// any, and then from SCHEDULER_* environment variables, which take
// precedence. Invalid values are reported together.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("SCHEDULER_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := applyYAML(&cfg, data); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	env := envReader{}
	env.readInt("SCHEDULER_HTTP_PORT", &cfg.HTTPPort, positive)
	env.readDuration("SCHEDULER_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	env.readString("SCHEDULER_STORAGE", &cfg.Storage)
	env.readString("SCHEDULER_SQLITE_DSN", &cfg.SQLiteDSN)
	env.readString("SCHEDULER_LOG_LEVEL", &cfg.LogLevel)
	env.readString("SCHEDULER_LOG_FORMAT", &cfg.LogFormat)
	env.readInt("SCHEDULER_BACKFILL_LIMIT", &cfg.BackfillLimit, nonNegative)
	env.readInt("SCHEDULER_FORWARD_LIMIT", &cfg.ForwardLimit, positive)
	env.readInt("SCHEDULER_PROJECTION_CONCURRENCY", &cfg.ProjectionConcurrency, positive)
	env.readDuration("SCHEDULER_DEFAULT_MAX_DELAY", &cfg.DefaultMaxDelay)
	env.readDuration("SCHEDULER_MAX_WINDOW", &cfg.MaxWindow)
	env.readString("SCHEDULER_TASKREF_KEY", &cfg.TaskRefKey)
	env.readString("SCHEDULER_REDIS_ADDR", &cfg.RedisAddr)
	env.readString("SCHEDULER_AUDIT_STREAM", &cfg.AuditStream)
	env.readInt64("SCHEDULER_AUDIT_STREAM_MAXLEN", &cfg.AuditStreamMaxLen)
	env.readInt("SCHEDULER_AUDIT_BUFFER", &cfg.AuditBuffer, positive)
	env.readFloat("SCHEDULER_RATE_LIMIT_RPS", &cfg.RateLimitRPS)
	env.readInt("SCHEDULER_RATE_LIMIT_BURST", &cfg.RateLimitBurst, nonNegative)
	if origins := strings.TrimSpace(os.Getenv("SCHEDULER_CORS_ORIGINS")); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	invalid := env.invalid
	invalid = append(invalid, cfg.validate()...)
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var invalid []string
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if c.Storage != StorageSQLite && c.Storage != StorageMemory {
		invalid = append(invalid, "SCHEDULER_STORAGE")
	}
	if c.Storage == StorageSQLite && strings.TrimSpace(c.SQLiteDSN) == "" {
		invalid = append(invalid, "SCHEDULER_SQLITE_DSN")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		invalid = append(invalid, "SCHEDULER_LOG_FORMAT")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		invalid = append(invalid, "SCHEDULER_LOG_LEVEL")
	}
	if c.DefaultMaxDelay <= 0 {
		invalid = append(invalid, "SCHEDULER_DEFAULT_MAX_DELAY")
	}
	if c.MaxWindow <= 0 {
		invalid = append(invalid, "SCHEDULER_MAX_WINDOW")
	}
	if len(c.TaskRefKey) > 64 {
		invalid = append(invalid, "SCHEDULER_TASKREF_KEY")
	}
	if c.RateLimitRPS < 0 {
		invalid = append(invalid, "SCHEDULER_RATE_LIMIT_RPS")
	}
	return invalid
}

// fileConfig mirrors Config for YAML files. Durations are strings such as
// "24h".
type fileConfig struct {
	HTTP struct {
		Port            *int     `yaml:"port"`
		ShutdownTimeout string   `yaml:"shutdown_timeout"`
		RateLimitRPS    *float64 `yaml:"rate_limit_rps"`
		RateLimitBurst  *int     `yaml:"rate_limit_burst"`
		CORSOrigins     []string `yaml:"cors_origins"`
	} `yaml:"http"`
	Storage struct {
		Driver    string `yaml:"driver"`
		SQLiteDSN string `yaml:"sqlite_dsn"`
	} `yaml:"storage"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Engine struct {
		BackfillLimit         *int   `yaml:"backfill_limit"`
		ForwardLimit          *int   `yaml:"forward_limit"`
		ProjectionConcurrency *int   `yaml:"projection_concurrency"`
		DefaultMaxDelay       string `yaml:"default_max_delay"`
		MaxWindow             string `yaml:"max_window"`
		TaskRefKey            string `yaml:"taskref_key"`
	} `yaml:"engine"`
	Audit struct {
		RedisAddr    string `yaml:"redis_addr"`
		Stream       string `yaml:"stream"`
		StreamMaxLen *int64 `yaml:"stream_max_len"`
		Buffer       *int   `yaml:"buffer"`
	} `yaml:"audit"`
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}

	setInt(&cfg.HTTPPort, fc.HTTP.Port)
	setFloat(&cfg.RateLimitRPS, fc.HTTP.RateLimitRPS)
	setInt(&cfg.RateLimitBurst, fc.HTTP.RateLimitBurst)
	if len(fc.HTTP.CORSOrigins) > 0 {
		cfg.CORSOrigins = append([]string(nil), fc.HTTP.CORSOrigins...)
	}
	setString(&cfg.Storage, fc.Storage.Driver)
	setString(&cfg.SQLiteDSN, fc.Storage.SQLiteDSN)
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	setInt(&cfg.BackfillLimit, fc.Engine.BackfillLimit)
	setInt(&cfg.ForwardLimit, fc.Engine.ForwardLimit)
	setInt(&cfg.ProjectionConcurrency, fc.Engine.ProjectionConcurrency)
	setString(&cfg.TaskRefKey, fc.Engine.TaskRefKey)
	setString(&cfg.RedisAddr, fc.Audit.RedisAddr)
	setString(&cfg.AuditStream, fc.Audit.Stream)
	if fc.Audit.StreamMaxLen != nil {
		cfg.AuditStreamMaxLen = *fc.Audit.StreamMaxLen
	}
	setInt(&cfg.AuditBuffer, fc.Audit.Buffer)

	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"http.shutdown_timeout", fc.HTTP.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"engine.default_max_delay", fc.Engine.DefaultMaxDelay, &cfg.DefaultMaxDelay},
		{"engine.max_window", fc.Engine.MaxWindow, &cfg.MaxWindow},
	}
	for _, d := range durations {
		parsed, err := ParseDurationOrDefault(d.path, d.raw, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = parsed
	}
	return nil
}

// ParseDurationOrDefault parses raw, returning def when raw is empty.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive", path)
	}
	return d, nil
}

type envReader struct {
	invalid []string
}

func positive(n int) bool    { return n > 0 }
func nonNegative(n int) bool { return n >= 0 }

func (e *envReader) readString(key string, dst *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func (e *envReader) readInt(key string, dst *int, valid func(int) bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil || !valid(n) {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = n
}

func (e *envReader) readInt64(key string, dst *int64) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = n
}

func (e *envReader) readFloat(key string, dst *float64) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = f
}

func (e *envReader) readDuration(key string, dst *time.Duration) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = d
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}

func setFloat(dst *float64, value *float64) {
	if value != nil {
		*dst = *value
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

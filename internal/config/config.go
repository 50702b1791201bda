// Package config loads the daemon configuration from a YAML file with
// defaults and SQLOG_* environment overrides layered on top.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/sqlog/internal/appender"
)

type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type DatabaseConfig struct {
	Path    string `koanf:"path"`
	Dialect string `koanf:"dialect"`

	// BatchInserts and GeneratedKeys override the dialect's default
	// capability descriptor when set; nil keeps the dialect default.
	BatchInserts  *bool `koanf:"batch_inserts"`
	GeneratedKeys *bool `koanf:"generated_keys"`

	// MismatchPolicy is "warn" (continue past a parent insert that affected
	// an unexpected row count) or "abort".
	MismatchPolicy string `koanf:"mismatch_policy"`
}

type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	AuthToken    string        `koanf:"auth_token"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`

	// ToDB persists the daemon's own records into the served database,
	// alongside stderr.
	ToDB bool `koanf:"to_db"`
}

// Load reads the YAML file at path (optional; empty path skips the file),
// applies defaults and SQLOG_* environment overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load from YAML file if one was given
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Apply defaults and environment variable overrides
	applyDefaults(k)
	applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DialectValue resolves the configured dialect.
func (c DatabaseConfig) DialectValue() (appender.Dialect, error) {
	return appender.DialectFor(c.Dialect)
}

// Capabilities returns the dialect's defaults with any configured override
// applied.
func (c DatabaseConfig) Capabilities(d appender.Dialect) appender.Capabilities {
	caps := d.Caps
	if c.BatchInserts != nil {
		caps.BatchInserts = *c.BatchInserts
	}
	if c.GeneratedKeys != nil {
		caps.GeneratedKeys = *c.GeneratedKeys
	}
	return caps
}

// Policy maps the configured mismatch policy name onto the appender knob.
func (c DatabaseConfig) Policy() appender.MismatchPolicy {
	if c.MismatchPolicy == "abort" {
		return appender.MismatchAbort
	}
	return appender.MismatchWarn
}

// SlogLevel maps the configured level name onto a slog.Level.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validate() error {
	if _, err := appender.DialectFor(c.Database.Dialect); err != nil {
		return fmt.Errorf("database.dialect: %w", err)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	switch c.Database.MismatchPolicy {
	case "warn", "abort":
	default:
		return fmt.Errorf("database.mismatch_policy %q (want warn or abort)", c.Database.MismatchPolicy)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q (want debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	return nil
}

func applyDefaults(k *koanf.Koanf) {
	// Database defaults
	setDefault(k, "database.path", "sqlog.db")
	setDefault(k, "database.dialect", "sqlite3")
	setDefault(k, "database.mismatch_policy", "warn")

	// Server defaults
	setDefault(k, "server.addr", ":8080")
	setDefault(k, "server.read_timeout", 10*time.Second)
	setDefault(k, "server.write_timeout", 30*time.Second)

	// Logging defaults
	setDefault(k, "logging.level", "info")
}

func applyEnvOverrides(k *koanf.Koanf) {
	// Database config from env
	if path := envString("SQLOG_DB_PATH"); path != "" {
		k.Set("database.path", path)
	}
	if dialect := envString("SQLOG_DB_DIALECT"); dialect != "" {
		k.Set("database.dialect", dialect)
	}
	if policy := envString("SQLOG_DB_MISMATCH_POLICY"); policy != "" {
		k.Set("database.mismatch_policy", policy)
	}
	if batch, ok := envBool("SQLOG_DB_BATCH_INSERTS"); ok {
		k.Set("database.batch_inserts", batch)
	}
	if keys, ok := envBool("SQLOG_DB_GENERATED_KEYS"); ok {
		k.Set("database.generated_keys", keys)
	}

	// Server config from env
	if addr := envString("SQLOG_SERVER_ADDR"); addr != "" {
		k.Set("server.addr", addr)
	}
	if token := envString("SQLOG_SERVER_AUTH_TOKEN"); token != "" {
		k.Set("server.auth_token", token)
	}
	if readTimeout := envInt("SQLOG_SERVER_READ_TIMEOUT_SECONDS"); readTimeout > 0 {
		k.Set("server.read_timeout", time.Duration(readTimeout)*time.Second)
	}
	if writeTimeout := envInt("SQLOG_SERVER_WRITE_TIMEOUT_SECONDS"); writeTimeout > 0 {
		k.Set("server.write_timeout", time.Duration(writeTimeout)*time.Second)
	}

	// Logging config from env
	if level := envString("SQLOG_LOG_LEVEL"); level != "" {
		k.Set("logging.level", level)
	}
	if toDB, ok := envBool("SQLOG_LOG_TO_DB"); ok {
		k.Set("logging.to_db", toDB)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value interface{}) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string) int {
	v, err := strconv.Atoi(envString(key))
	if err != nil {
		return 0
	}
	return v
}

func envBool(key string) (value, ok bool) {
	raw := envString(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

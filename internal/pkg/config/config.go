package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes environment overrides, e.g. PGW_SERVER__PORT=9000.
const EnvPrefix = "PGW_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Storage   StorageConfig   `koanf:"storage"`
	Auth      AuthConfig      `koanf:"auth"`
	Mounts    []MountConfig   `koanf:"mounts"`
}

type ServerConfig struct {
	Port            int   `koanf:"port"`
	MaxRequestBytes int64 `koanf:"max_request_bytes"`
	// RequestTimeout bounds non-streaming requests. Zero disables it; the
	// gateway never imposes a pipeline timeout by default.
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type AuthConfig struct {
	// APIKeyHashes are hex SHA-256 hashes of accepted bearer keys.
	// Empty disables authentication.
	APIKeyHashes []string `koanf:"api_key_hashes"`
}

// MountConfig binds one pipeline to a path prefix.
type MountConfig struct {
	Path        string        `koanf:"path"`
	Name        string        `koanf:"name"`
	Description string        `koanf:"description"`
	Pipeline    string        `koanf:"pipeline"`     // registered pipeline type, e.g. propositional, webhook
	BatchPolicy string        `koanf:"batch_policy"` // partial (default) or all_or_nothing
	Webhook     WebhookConfig `koanf:"webhook"`
}

// WebhookConfig configures a pipeline hosted behind HTTP.
type WebhookConfig struct {
	URL          string            `koanf:"url"`
	Timeout      time.Duration     `koanf:"timeout"`
	Headers      map[string]string `koanf:"headers"`
	AllowPrivate bool              `koanf:"allow_private"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the config file at path (optional), then environment
// overrides, then fills defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Environment variables override the file
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Mounts {
		for name, value := range cfg.Mounts[i].Webhook.Headers {
			cfg.Mounts[i].Webhook.Headers[name] = substituteEnvVars(value)
		}
		cfg.Mounts[i].Webhook.URL = substituteEnvVars(cfg.Mounts[i].Webhook.URL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the built-in defaults without reading a file or the
// environment.
func Default() *Config {
	k := koanf.New(".")
	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// DefaultMounts is what a gateway serves when neither its config nor the
// embedding program mounts anything.
func DefaultMounts() []MountConfig {
	return []MountConfig{{
		Path:        "/propositional-retrieval",
		Name:        "propositional-retrieval",
		Description: "Retrieval-then-generation over the built-in proposition corpus",
		Pipeline:    "propositional",
	}}
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":              8080,
		"server.max_request_bytes": 1 << 20,
		"server.request_timeout":   "0s",
		"server.shutdown_timeout":  "30s",
		"logging.level":            "info",
		"logging.format":           "json",
		"telemetry.service_name":   "pipeline-gateway",
		"storage.type":             "sqlite",
		"storage.sqlite.path":      "./data/gateway.db",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// Validate checks process-level settings. Mount entries are validated when
// the mounts are built so one bad mount cannot block the others.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("server.max_request_bytes must be positive")
	}
	switch c.Storage.Type {
	case "sqlite", "memory", "none", "":
	default:
		return fmt.Errorf("unsupported storage.type %q", c.Storage.Type)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a logging.level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown logging.level %q", level)
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Package config handles TOML configuration loading with environment
// variable expansion. The loaded Config is an immutable snapshot: it is
// built once at startup and passed by read-only reference.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level proxy configuration.
type Config struct {
	LogLevel string `toml:"log_level"` // INFO, DEBUG, WARN, ERROR
	Addr     string `toml:"addr"`
	Port     int    `toml:"port"`
	DataDir  string `toml:"data_dir"` // holds the SQLite database file

	TargetAddress   string `toml:"target_address"`    // host, no scheme
	TargetAuthToken string `toml:"target_auth_token"` // shared upstream credential

	MinHitInterval    float64 `toml:"min_hit_interval"`    // seconds; 0 = unlimited
	MaxTokensPerDay   uint64  `toml:"max_tokens_per_day"`  // 0 = unlimited
	SqliteBusyTimeout float64 `toml:"sqlite_busy_timeout"` // seconds

	UpstreamTimeout  float64 `toml:"upstream_timeout"`  // seconds; 0 = no deadline
	UpstreamInsecure bool    `toml:"upstream_insecure"` // skip TLS verification (dev only)
	ShutdownTimeout  float64 `toml:"shutdown_timeout"`  // seconds

	JWT       JWTConfig       `toml:"jwt"`
	TLS       *TLSConfig      `toml:"tls,omitempty"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// JWTConfig holds the symmetric token-signing settings.
type JWTConfig struct {
	Secret   string `toml:"secret"`
	Audience string `toml:"audience"`
	Issuer   string `toml:"issuer"`
}

// TLSConfig holds the listener certificate paths. When absent from the
// config file, the server listens in plaintext.
type TLSConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics           bool    `toml:"metrics"`
	Tracing           bool    `toml:"tracing"`
	TracingEndpoint   string  `toml:"tracing_endpoint"`    // OTLP gRPC endpoint
	TracingSampleRate float64 `toml:"tracing_sample_rate"` // 0.0 to 1.0
}

// Default returns the built-in configuration, written out verbatim when
// no config file exists yet.
func Default() *Config {
	return &Config{
		LogLevel:          "INFO",
		Addr:              "127.0.0.1",
		Port:              3001,
		DataDir:           "data",
		TargetAddress:     "api.groq.com",
		TargetAuthToken:   "",
		MinHitInterval:    5.0,
		MaxTokensPerDay:   1_000_000,
		SqliteBusyTimeout: 60.0,
		UpstreamTimeout:   0,
		ShutdownTimeout:   30.0,
		JWT: JWTConfig{
			Secret:   "super-secret",
			Audience: "authenticated",
			Issuer:   "raskol",
		},
		Telemetry: TelemetryConfig{
			Metrics:           true,
			TracingSampleRate: 1.0,
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
// Unset variables are left as-is so deployment templates fail loudly at
// validation rather than silently producing empty secrets.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a TOML config file, expanding environment
// variables. If the file does not exist, the defaults are written to
// path and returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return writeDefault(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// writeDefault persists the default config at path (creating parent
// directories) so operators have a file to edit on first run.
func writeDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if net.ParseIP(c.Addr) == nil {
		return fmt.Errorf("addr %q is not an IP address", c.Addr)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TargetAddress == "" {
		return fmt.Errorf("target_address is required")
	}
	if c.MinHitInterval < 0 {
		return fmt.Errorf("min_hit_interval must be non-negative")
	}
	if c.SqliteBusyTimeout < 0 {
		return fmt.Errorf("sqlite_busy_timeout must be non-negative")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}

// SlogLevel maps the configured log_level onto a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}

// ListenAddr returns the addr:port pair for the HTTP listener.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Addr, fmt.Sprintf("%d", c.Port))
}

// DBPath returns the SQLite database path under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "raskol.db")
}

// UpstreamDeadline returns the configured upstream timeout as a
// Duration, or zero when disabled.
func (c *Config) UpstreamDeadline() time.Duration {
	return time.Duration(c.UpstreamTimeout * float64(time.Second))
}

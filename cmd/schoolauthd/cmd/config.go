package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

// RedisConfig locates the session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig locates the school database. An empty URL selects the
// in-memory identity store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
}

type SessionConfig struct {
	Prefix        string        `yaml:"prefix"`
	SlidingWindow time.Duration `yaml:"sliding_window"`
	SingleSession bool          `yaml:"single_session"`
}

type PermissionCacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// AuditConfig selects audit sinks. Records go to Postgres when a database is
// configured and to BoltPath when set.
type AuditConfig struct {
	Enabled    *bool         `yaml:"enabled"`
	BoltPath   string        `yaml:"bolt_path"`
	Retention  time.Duration `yaml:"retention"`
	DropIfFull bool          `yaml:"drop_if_full"`
}

type RateLimitConfig struct {
	MaxPerUsername int           `yaml:"max_per_username"`
	MaxPerIP       int           `yaml:"max_per_ip"`
	Window         time.Duration `yaml:"window"`
	AuthPerSecond  float64       `yaml:"auth_per_second"`
	AuthBurst      int           `yaml:"auth_burst"`
}

// MetricsConfig selects metric endpoints. Prometheus is always served at
// /metrics; OTel adds the OpenTelemetry collection as JSON at OTelPath.
type MetricsConfig struct {
	OTel     bool   `yaml:"otel"`
	OTelPath string `yaml:"otel_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the daemon configuration file.
type Config struct {
	Listen          string                `yaml:"listen"`
	Redis           RedisConfig           `yaml:"redis"`
	Database        DatabaseConfig        `yaml:"database"`
	JWT             JWTConfig             `yaml:"jwt"`
	Session         SessionConfig         `yaml:"session"`
	PermissionCache PermissionCacheConfig `yaml:"permission_cache"`
	Audit           AuditConfig           `yaml:"audit"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	Metrics         MetricsConfig         `yaml:"metrics"`
	Log             LogConfig             `yaml:"log"`
}

// ApplyDefaults fills zero-valued fields.
func (cfg *Config) ApplyDefaults() {
	def := schoolauth.DefaultConfig()
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.JWT.AccessTTL == 0 {
		cfg.JWT.AccessTTL = def.JWT.AccessTTL
	}
	if cfg.JWT.RefreshTTL == 0 {
		cfg.JWT.RefreshTTL = def.JWT.RefreshTTL
	}
	if cfg.Session.Prefix == "" {
		cfg.Session.Prefix = def.Session.RedisPrefix
	}
	if cfg.PermissionCache.Backend == "" {
		cfg.PermissionCache.Backend = def.PermissionCache.Backend
	}
	if cfg.PermissionCache.TTL == 0 {
		cfg.PermissionCache.TTL = def.PermissionCache.TTL
	}
	if cfg.Audit.Enabled == nil {
		enabled := true
		cfg.Audit.Enabled = &enabled
	}
	if cfg.RateLimit.MaxPerUsername == 0 {
		cfg.RateLimit.MaxPerUsername = def.RateLimit.MaxPerUsername
	}
	if cfg.RateLimit.MaxPerIP == 0 {
		cfg.RateLimit.MaxPerIP = def.RateLimit.MaxPerIP
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}
	if cfg.RateLimit.AuthPerSecond == 0 {
		cfg.RateLimit.AuthPerSecond = 5
	}
	if cfg.RateLimit.AuthBurst == 0 {
		cfg.RateLimit.AuthBurst = 20
	}
	if cfg.Metrics.OTelPath == "" {
		cfg.Metrics.OTelPath = "/metrics/otel"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// applyEnv overrides secrets and endpoints from the environment.
func (cfg *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SCHOOLAUTH_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := getenv("SCHOOLAUTH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := getenv("SCHOOLAUTH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := getenv("SCHOOLAUTH_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := getenv("SCHOOLAUTH_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := getenv("SCHOOLAUTH_METRICS_OTEL"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCHOOLAUTH_METRICS_OTEL: %w", err)
		}
		cfg.Metrics.OTel = enabled
	}
	if v := getenv("SCHOOLAUTH_AUDIT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCHOOLAUTH_AUDIT_ENABLED: %w", err)
		}
		cfg.Audit.Enabled = &enabled
	}
	return nil
}

func (cfg *Config) validate() error {
	var errs []string
	if len(cfg.JWT.Secret) < 32 {
		errs = append(errs, "jwt.secret must be at least 32 bytes (set SCHOOLAUTH_JWT_SECRET)")
	}
	switch cfg.PermissionCache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, "permission_cache.backend must be memory or redis")
	}
	if cfg.Audit.Retention < 0 {
		errs = append(errs, "audit.retention must be >= 0")
	}
	if cfg.Metrics.OTelPath == "/metrics" || !strings.HasPrefix(cfg.Metrics.OTelPath, "/") {
		errs = append(errs, "metrics.otel_path must be an absolute path other than /metrics")
	}
	if cfg.RateLimit.AuthBurst < 0 {
		errs = append(errs, "rate_limit.auth_burst must be >= 0")
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, "log.format must be json or text")
	}
	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}

// LoadConfig reads path (optional), applies defaults, then environment
// overrides, and validates the result.
func LoadConfig(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EngineConfig maps the file config onto the engine configuration.
func (cfg *Config) EngineConfig(logger *slog.Logger) schoolauth.Config {
	ec := schoolauth.DefaultConfig()
	ec.Logger = logger
	ec.JWT.PrivateKey = []byte(cfg.JWT.Secret)
	ec.JWT.AccessTTL = cfg.JWT.AccessTTL
	ec.JWT.RefreshTTL = cfg.JWT.RefreshTTL
	ec.JWT.Issuer = cfg.JWT.Issuer
	ec.JWT.Audience = cfg.JWT.Audience
	ec.Session.RedisPrefix = cfg.Session.Prefix
	ec.Session.SlidingWindow = cfg.Session.SlidingWindow
	ec.Session.SingleSession = cfg.Session.SingleSession
	ec.PermissionCache.Backend = cfg.PermissionCache.Backend
	ec.PermissionCache.TTL = cfg.PermissionCache.TTL
	ec.Audit.Enabled = *cfg.Audit.Enabled
	ec.Audit.DropIfFull = cfg.Audit.DropIfFull
	ec.RateLimit.MaxPerUsername = cfg.RateLimit.MaxPerUsername
	ec.RateLimit.MaxPerIP = cfg.RateLimit.MaxPerIP
	ec.RateLimit.Window = cfg.RateLimit.Window
	return ec
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// newLogger builds the process logger from cfg.Log.
func newLogger(w io.Writer, cfg LogConfig) *slog.Logger {
	lvl, _ := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// redacted returns a copy safe to print.
func (cfg Config) redacted() Config {
	if cfg.JWT.Secret != "" {
		cfg.JWT.Secret = "<redacted>"
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = "<redacted>"
	}
	if cfg.Database.URL != "" {
		cfg.Database.URL = "<redacted>"
	}
	return cfg
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration tools",
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath, os.Getenv)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg.redacted())
	},
}

func init() {
	configCmd.AddCommand(configPrintCmd)
	rootCmd.AddCommand(configCmd)
}

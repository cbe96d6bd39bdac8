package schoolauth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yyupcompany/kyyupgame-sub117/rbac"
)

// Config is the full engine configuration. Build a value with DefaultConfig
// and override what differs.
type Config struct {
	JWT             JWTConfig
	Session         SessionConfig
	Password        PasswordConfig
	PermissionCache PermissionCacheConfig
	Policy          PolicyConfig
	Audit           AuditConfig
	RateLimit       RateLimitConfig
	Metrics         MetricsConfig

	// Logger receives best-effort failures and security events. Nil means
	// slog.Default().
	Logger *slog.Logger
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig sets token lifetimes and signing keys.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis session store.
type SessionConfig struct {
	RedisPrefix string
	// TTL is the lifetime of a session record. Zero means JWT.RefreshTTL.
	TTL time.Duration
	// SlidingWindow, when positive, resets the session TTL on every
	// validated request.
	SlidingWindow time.Duration
	// SingleSession deletes a user's other sessions on login.
	SingleSession bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig sets argon2id cost parameters for new hashes.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
PERMISSION CACHE CONFIG
====================================
*/

// PermissionCacheConfig controls the permission cache and its
// invalidation coordinator.
type PermissionCacheConfig struct {
	TTL time.Duration
	// Backend is "memory" (default) or "redis".
	Backend      string
	RedisPrefix  string
	AdminRoles   []string
	QueueSize    int
	ApplyTimeout time.Duration
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig overrides the built-in role table when Roles is non-nil.
type PolicyConfig struct {
	Roles map[rbac.Role]rbac.Policy
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards records once BufferSize is reached. Off by
	// default: excess records queue in memory until the sink catches up.
	DropIfFull   bool
	WriteTimeout time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig sets failed-login budgets per username and per client IP
// within Window.
type RateLimitConfig struct {
	Enabled        bool
	RedisPrefix    string
	MaxPerUsername int
	MaxPerIP       int
	Window         time.Duration
}

// MetricsConfig toggles in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults. JWT.PrivateKey is empty and
// must be provided.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "sa",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		PermissionCache: PermissionCacheConfig{
			TTL:          5 * time.Minute,
			Backend:      "memory",
			RedisPrefix:  "sa:pc",
			AdminRoles:   []string{"admin", "super_admin"},
			QueueSize:    256,
			ApplyTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:      true,
			BufferSize:   1024,
			DropIfFull:   false,
			WriteTimeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RedisPrefix:    "sa",
			MaxPerUsername: 10,
			MaxPerIP:       50,
			Window:         15 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.PermissionCache.AdminRoles = append([]string(nil), cfg.PermissionCache.AdminRoles...)
	if cfg.Policy.Roles != nil {
		out.Policy.Roles = make(map[rbac.Role]rbac.Policy, len(cfg.Policy.Roles))
		for k, v := range cfg.Policy.Roles {
			out.Policy.Roles[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// sessionTTL is the effective session record lifetime.
func (c *Config) sessionTTL() time.Duration {
	if c.Session.TTL > 0 {
		return c.Session.TTL
	}
	return c.JWT.RefreshTTL
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must not be shorter than AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.TTL < 0 {
		return errors.New("Session TTL must be >= 0")
	}
	if c.Session.TTL > 0 && c.Session.TTL < c.JWT.AccessTTL {
		return errors.New("Session TTL must not be shorter than JWT AccessTTL")
	}
	if c.Session.SlidingWindow < 0 {
		return errors.New("Session SlidingWindow must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Permission cache
	if c.PermissionCache.TTL <= 0 {
		return errors.New("PermissionCache TTL must be > 0")
	}
	switch c.PermissionCache.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("PermissionCache Backend %q must be 'memory' or 'redis'", c.PermissionCache.Backend)
	}
	if c.PermissionCache.QueueSize < 0 {
		return errors.New("PermissionCache QueueSize must be >= 0")
	}

	// Policy
	for role, p := range c.Policy.Roles {
		if p.Role != role {
			return fmt.Errorf("Policy for %q declares role %q", role, p.Role)
		}
		if p.Level == "" {
			return fmt.Errorf("Policy for %q has no Level", role)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxPerUsername < 0 || c.RateLimit.MaxPerIP < 0 {
			return errors.New("RateLimit budgets must be >= 0")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

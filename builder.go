package schoolauth

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/yyupcompany/kyyupgame-sub117/internal/audit"
	"github.com/yyupcompany/kyyupgame-sub117/internal/rate"
	"github.com/yyupcompany/kyyupgame-sub117/jwt"
	"github.com/yyupcompany/kyyupgame-sub117/password"
	"github.com/yyupcompany/kyyupgame-sub117/permission"
	"github.com/yyupcompany/kyyupgame-sub117/rbac"
	"github.com/yyupcompany/kyyupgame-sub117/session"
)

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identity  IdentityStore
	auditSink AuditSink
	roleIndex permission.RoleIndex

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, the blacklist, login
// throttling and, when configured, the permission cache.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identity = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRoleIndex enables targeted invalidation of ROLE and ROLE_PERMISSION
// events. Identity stores that implement permission.RoleIndex are picked
// up automatically.
func (b *Builder) WithRoleIndex(idx permission.RoleIndex) *Builder {
	b.roleIndex = idx
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.config.Logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.identity == nil {
		return nil, errors.New("identity store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger()

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	argon, err := password.NewArgon2(password.Argon2Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	// -------- PERMISSION CACHE --------
	var store permission.Store
	if cfg.PermissionCache.Backend == "redis" {
		store = permission.NewRedisStore(b.redis, cfg.PermissionCache.RedisPrefix)
	} else {
		store = permission.NewMemoryStore()
	}
	cache := permission.NewCache(b.identity, store, permission.Config{
		TTL:        cfg.PermissionCache.TTL,
		AdminRoles: cfg.PermissionCache.AdminRoles,
		Logger:     logger,
	})
	roleIndex := b.roleIndex
	if roleIndex == nil {
		if idx, ok := b.identity.(permission.RoleIndex); ok {
			roleIndex = idx
		}
	}
	coordinator := permission.NewCoordinator(cache, permission.CoordinatorConfig{
		BufferSize: cfg.PermissionCache.QueueSize,
		Timeout:    cfg.PermissionCache.ApplyTimeout,
		RoleIndex:  roleIndex,
		Logger:     logger,
	})

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		identity:    b.identity,
		sessions:    session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.SlidingWindow),
		tokens:      jm,
		passwords:   password.NewVerifier(argon),
		cache:       cache,
		coordinator: coordinator,
		policy:      rbac.NewEngine(rbac.Config{Policies: cfg.Policy.Roles, Logger: logger}),
		metrics:     NewMetrics(cfg.Metrics),
	}
	if cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:         cfg.RateLimit.RedisPrefix,
			MaxPerUsername: cfg.RateLimit.MaxPerUsername,
			MaxPerIP:       cfg.RateLimit.MaxPerIP,
			Window:         cfg.RateLimit.Window,
		})
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		WriteTimeout: cfg.Audit.WriteTimeout,
		Logger:       logger,
	}, b.auditSink)
	engine.initFlows()

	b.built = true

	return engine, nil
}

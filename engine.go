package schoolauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	internalaudit "github.com/yyupcompany/kyyupgame-sub117/internal/audit"
	"github.com/yyupcompany/kyyupgame-sub117/internal/flows"
	"github.com/yyupcompany/kyyupgame-sub117/internal/rate"
	"github.com/yyupcompany/kyyupgame-sub117/jwt"
	"github.com/yyupcompany/kyyupgame-sub117/password"
	"github.com/yyupcompany/kyyupgame-sub117/permission"
	"github.com/yyupcompany/kyyupgame-sub117/rbac"
	"github.com/yyupcompany/kyyupgame-sub117/session"
)

// Engine is the authorization and session integrity layer. It is safe for
// concurrent use; build it with New().Build().
type Engine struct {
	config      Config
	logger      *slog.Logger
	identity    IdentityStore
	sessions    *session.Store
	tokens      *jwt.Manager
	passwords   *password.Verifier
	limiter     *rate.Limiter
	cache       *permission.Cache
	coordinator *permission.Coordinator
	policy      *rbac.Engine
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	flows       flows.Deps

	// bgMu orders bg.Add against bg.Wait. Detached writers hold it shared.
	bgMu      sync.RWMutex
	bg        sync.WaitGroup
	closed    bool
	closeOnce sync.Once
}

// Close waits for background session work, drains pending invalidations
// and flushes queued audit records.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.bgMu.Lock()
		e.closed = true
		e.bg.Wait()
		e.bgMu.Unlock()
		if e.coordinator != nil {
			e.coordinator.Close()
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// Wait blocks until detached session writes started so far have finished.
func (e *Engine) Wait() {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	e.bg.Wait()
}

// MetricsSnapshot returns engine counters merged with permission cache,
// policy and audit statistics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	s := e.metrics.Snapshot()
	if !e.metrics.Enabled() {
		return s
	}
	cs := e.cache.Stats(context.Background())
	s.Counters[MetricPermissionCacheHit] = cs.Hits
	s.Counters[MetricPermissionCacheMiss] = cs.Misses
	s.Counters[MetricPermissionInvalidation] = cs.Invalidations
	ps := e.policy.Stats()
	s.Counters[MetricRBACAllowed] = ps.Allowed
	s.Counters[MetricRBACDenied] = ps.Denied
	s.Counters[MetricAuditDropped] = e.AuditDropped()
	return s
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) initFlows() {
	hooks := flows.Hooks{
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Go:        e.goDetached,
		Security:  e.securityEvent,
		Warn: func(msg string, attrs ...any) {
			e.logger.Warn(msg, attrs...)
		},
	}
	now := time.Now
	ttl := e.config.sessionTTL()

	e.flows = flows.Deps{
		Login: flows.LoginDeps{
			SingleSession:      e.config.Session.SingleSession,
			SessionTTL:         ttl,
			Now:                now,
			FindUserByUsername: e.findPrincipalByUsername,
			VerifyPassword: func(hash, plain string) (bool, error) {
				return e.passwords.Verify(plain, hash)
			},
			BurnPassword:  e.passwords.Burn,
			CreateAccess:  e.tokens.CreateAccess,
			CreateRefresh: e.tokens.CreateRefresh,
			AccessExpiry:  e.tokens.ParseUnverifiedExpiry,
			SessionStore:  e.sessions,
			WarmPermissions: func(ctx context.Context, userID string) error {
				return e.cache.Warm(ctx, userID)
			},
			Hooks: hooks,
			Metrics: flows.LoginMetrics{
				LoginSuccess:     int(MetricLoginSuccess),
				LoginFailure:     int(MetricLoginFailure),
				LoginRateLimited: int(MetricLoginRateLimited),
				SessionCreated:   int(MetricSessionCreated),
			},
			Errors: flows.LoginErrors{
				EngineNotReady:        ErrEngineNotReady,
				MissingRequiredFields: ErrMissingRequiredFields,
				InvalidUsername:       ErrInvalidUsername,
				PasswordTooShort:      ErrPasswordTooShort,
				InvalidCredentials:    ErrInvalidCredentials,
				LoginRateLimited:      ErrLoginRateLimited,
				AccountDisabled:       ErrAccountDisabled,
				UserNotFound:          ErrUserNotFound,
				IdentityUnavailable:   ErrIdentityUnavailable,
			},
		},
		Refresh: flows.RefreshDeps{
			SessionTTL:    ttl,
			RevokeTTL:     e.config.JWT.RefreshTTL,
			Now:           now,
			ParseRefresh:  e.tokens.ParseRefresh,
			CreateAccess:  e.tokens.CreateAccess,
			CreateRefresh: e.tokens.CreateRefresh,
			AccessExpiry:  e.tokens.ParseUnverifiedExpiry,
			FindUserByID:  e.findPrincipalByID,
			UserNotFound:  ErrUserNotFound,
			SessionStore:  e.sessions,
			Hooks:         hooks,
			Metrics: flows.RefreshMetrics{
				RefreshSuccess: int(MetricRefreshSuccess),
				RefreshFailure: int(MetricRefreshFailure),
				RefreshReuse:   int(MetricRefreshReuseDetected),
				SessionCreated: int(MetricSessionCreated),
			},
		},
		Validate: flows.ValidateDeps{
			Now:          now,
			ParseAccess:  e.tokens.ParseAccess,
			FindUserByID: e.findPrincipalByID,
			UserNotFound: ErrUserNotFound,
			SessionStore: e.sessions,
			Hooks:        hooks,
			Metrics: flows.ValidateMetrics{
				ValidateSuccess: int(MetricValidateSuccess),
				ValidateFailure: int(MetricValidateFailure),
				BlacklistHit:    int(MetricBlacklistHit),
				SessionHealed:   int(MetricSessionHealed),
			},
		},
		Logout: flows.LogoutDeps{
			Now:           now,
			ParseAccess:   e.tokens.ParseAccess,
			ParseRefresh:  e.tokens.ParseRefresh,
			RevokeAllTTL:  e.config.JWT.RefreshTTL,
			SessionStore:  e.sessions,
			InvalidToken:  ErrTokenInvalid,
			Hooks:         hooks,
			LogoutMetric:  int(MetricLogout),
			RevokedMetric: int(MetricLogoutAll),
		},
	}

	if e.limiter != nil {
		e.flows.Login.CheckLoginRate = e.limiter.CheckLogin
		e.flows.Login.IncrementLoginRate = e.limiter.IncrementLogin
		e.flows.Login.ResetLoginRate = e.limiter.ResetLogin
	}
	if up, ok := e.identity.(PasswordUpdater); ok && e.config.Password.UpgradeOnLogin {
		e.flows.Login.NeedsRehash = e.passwords.NeedsRehash
		e.flows.Login.HashPassword = e.passwords.Hash
		e.flows.Login.UpdatePasswordHash = up.UpdatePasswordHash
	}
}

// goDetached runs fn outside the request lifecycle. Close waits for it.
func (e *Engine) goDetached(ctx context.Context, fn func(context.Context)) {
	e.bgMu.RLock()
	if e.closed {
		e.bgMu.RUnlock()
		fn(context.WithoutCancel(ctx))
		return
	}
	e.bg.Add(1)
	e.bgMu.RUnlock()
	go func() {
		defer e.bg.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

func requestMeta(ctx context.Context) flows.RequestMeta {
	return flows.RequestMeta{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		DeviceID:  deviceIDFromContext(ctx),
	}
}

func toPrincipal(u UserRecord) flows.Principal {
	return flows.Principal{
		UserID:         u.UserID,
		Username:       u.Username,
		Role:           u.Role,
		KindergartenID: u.KindergartenID,
		PasswordHash:   u.PasswordHash,
		Active:         u.Status == AccountActive,
	}
}

func (e *Engine) findPrincipalByID(ctx context.Context, userID string) (flows.Principal, error) {
	u, err := e.identity.FindUserByID(ctx, userID)
	if err != nil {
		return flows.Principal{}, err
	}
	return toPrincipal(u), nil
}

func (e *Engine) findPrincipalByUsername(ctx context.Context, identifier string) (flows.Principal, error) {
	u, err := e.identity.FindUserByUsername(ctx, identifier)
	if err != nil {
		return flows.Principal{}, err
	}
	return toPrincipal(u), nil
}

func (e *Engine) isAdminRole(role string) bool {
	return slices.Contains(e.config.PermissionCache.AdminRoles, role)
}

func (e *Engine) identityOf(p flows.Principal) Identity {
	return Identity{
		UserID:         p.UserID,
		Username:       p.Username,
		Role:           p.Role,
		IsAdmin:        e.isAdminRole(p.Role),
		KindergartenID: p.KindergartenID,
	}
}

// Login verifies credentials and issues a token pair. Client IP, user agent
// and device id are read from ctx.
func (e *Engine) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if e == nil || e.identity == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunLogin(ctx, username, password, requestMeta(ctx), e.flows.Login)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		TokenPair: TokenPair{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
		},
		User: e.identityOf(res.Principal),
	}, nil
}

// Refresh rotates a refresh token into a new pair. Each refresh token works
// once; presenting it again returns ErrRefreshReuse and revokes every
// session of the user.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.identity == nil {
		return nil, ErrEngineNotReady
	}
	res := flows.RunRefresh(ctx, refreshToken, requestMeta(ctx), e.flows.Refresh)
	switch res.Failure {
	case flows.RefreshFailureNone:
		return &TokenPair{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken}, nil
	case flows.RefreshFailureReuse:
		return nil, ErrRefreshReuse
	case flows.RefreshFailureAccountDisabled:
		return nil, ErrAccountDisabled
	case flows.RefreshFailureDependency:
		if errors.Is(res.Err, session.ErrRedisUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, res.Err)
		}
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, res.Err)
	case flows.RefreshFailureIssue:
		return nil, fmt.Errorf("issue token pair: %w", res.Err)
	default:
		return nil, ErrRefreshInvalid
	}
}

// Validate runs the per-request token check: blacklist, signature, revoke
// cutoff, live session and identity, in that order. Any store failure
// rejects the token.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Identity, error) {
	if e == nil || e.identity == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	res := flows.RunValidate(ctx, accessToken, requestMeta(ctx), e.flows.Validate)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	switch res.Failure {
	case flows.ValidateFailureNone:
		id := e.identityOf(res.Principal)
		id.SessionHealed = res.Healed
		return &id, nil
	case flows.ValidateFailureMissingToken:
		return nil, ErrUnauthenticated
	case flows.ValidateFailureRevoked:
		return nil, ErrTokenRevoked
	case flows.ValidateFailureUserNotFound:
		return nil, ErrUserNotFound
	case flows.ValidateFailureAccountDisabled:
		return nil, ErrAccountDisabled
	case flows.ValidateFailureSessionUnavailable:
		e.logger.Error("schoolauth: session store unavailable during validation", "error", res.Err)
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, res.Err)
	case flows.ValidateFailureIdentityUnavailable:
		e.logger.Error("schoolauth: identity store unavailable during validation", "error", res.Err)
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnavailable, res.Err)
	default:
		return nil, ErrTokenInvalid
	}
}

// Logout blacklists the access token and deletes its session. A refresh
// token of the same user, when given, is blacklisted too.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if e == nil || e.identity == nil {
		return ErrEngineNotReady
	}
	userID, err := flows.RunLogout(ctx, accessToken, refreshToken, e.flows.Logout)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	e.logger.Debug("schoolauth: logout", "user_id", userID)
	return nil
}

// LogoutAll revokes every token issued to userID so far and returns the
// number of sessions removed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.identity == nil {
		return 0, ErrEngineNotReady
	}
	n, err := flows.RunLogoutAll(ctx, userID, e.flows.Logout)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	e.securityEvent(ctx, "logout_all", string(rbac.SeverityLow), userID, "sessions", n)
	return n, nil
}

// HashPassword returns an argon2id hash suitable for the identity store.
func (e *Engine) HashPassword(plain string) (string, error) {
	return e.passwords.Hash(plain)
}

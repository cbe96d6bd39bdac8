package flows

import (
	"context"
	"time"

	"github.com/yyupcompany/kyyupgame-sub117/session"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login    LoginDeps
	Refresh  RefreshDeps
	Validate ValidateDeps
	Logout   LogoutDeps
}

// Principal is the flow-local view of an account resolved from the identity
// store.
type Principal struct {
	UserID         string
	Username       string
	Role           string
	KindergartenID string
	PasswordHash   string
	Active         bool
}

// RequestMeta is the client metadata recorded on a session.
type RequestMeta struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// SessionStore is the subset of session.Store the flows use.
type SessionStore interface {
	Key(userID, token string) string
	Save(ctx context.Context, sess *session.Session, ttl time.Duration) error
	Get(ctx context.Context, key string) (*session.Session, error)
	Delete(ctx context.Context, key string) error
	RevokeSessions(ctx context.Context, userID, reason string, ttl time.Duration) (int, error)
	Touch(ctx context.Context, userID, token string) error
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)
	Blacklist(ctx context.Context, tokenHash, reason string, ttl time.Duration) error
	ClaimBlacklist(ctx context.Context, tokenHash, reason string, ttl time.Duration) (string, error)
	RevokeAll(ctx context.Context, userID string, ttl time.Duration) (int, error)
	RevokedBefore(ctx context.Context, userID string) (time.Time, error)
}

// Blacklist reasons.
const (
	ReasonLogout  = "logout"
	ReasonRotated = "rotated"
	// Set on tokens whose session was replaced by a single-session login.
	ReasonReplaced = "replaced"
)

// Hooks are the side channels every flow reports through. Nil fields are
// replaced with no-ops.
type Hooks struct {
	MetricInc func(int)
	// Go runs fn detached from the request. The context passed to fn
	// outlives the request.
	Go func(ctx context.Context, fn func(context.Context))
	// Security records a security event at the given severity.
	Security func(ctx context.Context, event, severity, userID string, attrs ...any)
	Warn     func(msg string, attrs ...any)
}

func (h *Hooks) defaults() {
	if h.MetricInc == nil {
		h.MetricInc = func(int) {}
	}
	if h.Go == nil {
		h.Go = func(ctx context.Context, fn func(context.Context)) {
			go fn(context.WithoutCancel(ctx))
		}
	}
	if h.Security == nil {
		h.Security = func(context.Context, string, string, string, ...any) {}
	}
	if h.Warn == nil {
		h.Warn = func(string, ...any) {}
	}
}

func newSession(p Principal, token string, meta RequestMeta, now time.Time, expires time.Time) *session.Session {
	return &session.Session{
		UserID:         p.UserID,
		TokenHash:      session.TokenHash(token),
		Username:       p.Username,
		Role:           p.Role,
		KindergartenID: p.KindergartenID,
		IP:             meta.IP,
		UserAgent:      meta.UserAgent,
		DeviceID:       meta.DeviceID,
		LoginTime:      now.UnixMilli(),
		LastActiveTime: now.UnixMilli(),
		ExpiresAt:      expires.UnixMilli(),
	}
}

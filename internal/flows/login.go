package flows

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxUsernameLen    = 50
	minPasswordLength = 6
)

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Principal    Principal
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	SessionCreated   int
}

// LoginErrors carries host-level sentinel errors used by the login flow.
// Validation errors are returned as-is so the host can attach codes.
type LoginErrors struct {
	EngineNotReady        error
	MissingRequiredFields error
	InvalidUsername       error
	PasswordTooShort      error
	InvalidCredentials    error
	LoginRateLimited      error
	AccountDisabled       error
	UserNotFound          error
	IdentityUnavailable   error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	SingleSession bool
	SessionTTL    time.Duration
	Now           func() time.Time

	CheckLoginRate     func(ctx context.Context, username, ip string) error
	IncrementLoginRate func(ctx context.Context, username, ip string) error
	ResetLoginRate     func(ctx context.Context, username string) error

	FindUserByUsername func(ctx context.Context, username string) (Principal, error)
	VerifyPassword     func(hash, plain string) (bool, error)
	// BurnPassword spends the cost of one verification when no account
	// matched, so response time does not reveal which usernames exist.
	BurnPassword       func(plain string)
	NeedsRehash        func(hash string) bool
	HashPassword       func(plain string) (string, error)
	UpdatePasswordHash func(ctx context.Context, userID, hash string) error

	CreateAccess  func(userID, username string) (string, error)
	CreateRefresh func(userID, username string) (string, error)
	AccessExpiry  func(token string) (time.Time, bool)
	SessionStore  SessionStore

	// WarmPermissions preloads the permission cache after login.
	WarmPermissions func(ctx context.Context, userID string) error

	Hooks   Hooks
	Metrics LoginMetrics
	Errors  LoginErrors
}

// ValidateLoginInput checks the shape of a login request before any store
// is touched.
func ValidateLoginInput(username, password string, errs LoginErrors) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return errs.MissingRequiredFields
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return errs.InvalidUsername
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return errs.PasswordTooShort
	}
	return nil
}

// RunLogin verifies credentials, mints a token pair and records the session.
func RunLogin(ctx context.Context, username, password string, meta RequestMeta, deps LoginDeps) (*LoginResult, error) {
	deps.Hooks.defaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.FindUserByUsername == nil ||
		deps.VerifyPassword == nil ||
		deps.CreateAccess == nil ||
		deps.CreateRefresh == nil ||
		deps.SessionStore == nil {
		return nil, deps.Errors.EngineNotReady
	}

	username = strings.TrimSpace(username)
	if err := ValidateLoginInput(username, password, deps.Errors); err != nil {
		deps.Hooks.MetricInc(deps.Metrics.LoginFailure)
		return nil, err
	}

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, username, meta.IP); err != nil {
			deps.Hooks.MetricInc(deps.Metrics.LoginRateLimited)
			deps.Hooks.Security(ctx, "login_rate_limited", "medium", "", "username", username, "ip", meta.IP)
			return nil, deps.Errors.LoginRateLimited
		}
	}

	fail := func(userID, reason string) error {
		if deps.IncrementLoginRate != nil {
			if err := deps.IncrementLoginRate(ctx, username, meta.IP); err != nil {
				deps.Hooks.Warn("schoolauth: login throttle increment failed", "error", err)
			}
		}
		deps.Hooks.MetricInc(deps.Metrics.LoginFailure)
		deps.Hooks.Security(ctx, "login_failed", "low", userID, "username", username, "ip", meta.IP, "reason", reason)
		return deps.Errors.InvalidCredentials
	}

	user, err := deps.FindUserByUsername(ctx, username)
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			if deps.BurnPassword != nil {
				deps.BurnPassword(password)
			}
			return nil, fail("", "user_not_found")
		}
		deps.Hooks.MetricInc(deps.Metrics.LoginFailure)
		deps.Hooks.Warn("schoolauth: identity lookup failed during login", "error", err)
		return nil, deps.Errors.IdentityUnavailable
	}

	ok, err := deps.VerifyPassword(user.PasswordHash, password)
	if err != nil || !ok {
		if err != nil {
			deps.Hooks.Warn("schoolauth: password verification error", "user_id", user.UserID, "error", err)
		}
		return nil, fail(user.UserID, "password_mismatch")
	}

	if !user.Active {
		deps.Hooks.MetricInc(deps.Metrics.LoginFailure)
		deps.Hooks.Security(ctx, "login_disabled_account", "medium", user.UserID, "username", username)
		return nil, deps.Errors.AccountDisabled
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, username); err != nil {
			deps.Hooks.Warn("schoolauth: login throttle reset failed", "error", err)
		}
	}

	if deps.NeedsRehash != nil && deps.HashPassword != nil && deps.UpdatePasswordHash != nil && deps.NeedsRehash(user.PasswordHash) {
		if upgraded, err := deps.HashPassword(password); err == nil {
			if err := deps.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
				deps.Hooks.Warn("schoolauth: password hash upgrade failed", "user_id", user.UserID, "error", err)
			}
		}
	}
	password = ""

	access, err := deps.CreateAccess(user.UserID, user.Username)
	if err != nil {
		return nil, err
	}
	refresh, err := deps.CreateRefresh(user.UserID, user.Username)
	if err != nil {
		return nil, err
	}

	if deps.SingleSession {
		if _, err := deps.SessionStore.RevokeSessions(ctx, user.UserID, ReasonReplaced, deps.SessionTTL); err != nil {
			deps.Hooks.Warn("schoolauth: single-session cleanup failed", "user_id", user.UserID, "error", err)
		}
	}

	now := deps.Now()
	expires := now.Add(deps.SessionTTL)
	if deps.AccessExpiry != nil {
		if exp, ok := deps.AccessExpiry(access); ok && exp.After(expires) {
			expires = exp
		}
	}
	// A lost write is recovered by the validator's self-heal path.
	if err := deps.SessionStore.Save(ctx, newSession(user, access, meta, now, expires), expires.Sub(now)); err != nil {
		deps.Hooks.Warn("schoolauth: session save failed", "user_id", user.UserID, "error", err)
	} else {
		deps.Hooks.MetricInc(deps.Metrics.SessionCreated)
	}

	if deps.WarmPermissions != nil {
		userID := user.UserID
		deps.Hooks.Go(ctx, func(ctx context.Context) {
			if err := deps.WarmPermissions(ctx, userID); err != nil {
				deps.Hooks.Warn("schoolauth: permission warm failed", "user_id", userID, "error", err)
			}
		})
	}

	deps.Hooks.MetricInc(deps.Metrics.LoginSuccess)
	user.PasswordHash = ""
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Principal:    user,
	}, nil
}

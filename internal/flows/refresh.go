package flows

import (
	"context"
	"errors"
	"time"

	"github.com/yyupcompany/kyyupgame-sub117/jwt"
	"github.com/yyupcompany/kyyupgame-sub117/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalid
	RefreshFailureRevoked
	RefreshFailureReuse
	RefreshFailureUserNotFound
	RefreshFailureAccountDisabled
	RefreshFailureDependency
	RefreshFailureIssue
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	UserID       string
	Principal    Principal
	AccessToken  string
	RefreshToken string
}

// RefreshMetrics carries metric IDs needed by the refresh flow.
type RefreshMetrics struct {
	RefreshSuccess int
	RefreshFailure int
	RefreshReuse   int
	SessionCreated int
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	SessionTTL time.Duration
	// RevokeTTL bounds the revoke-all cutoff set on refresh reuse. It should
	// cover the refresh token lifetime.
	RevokeTTL time.Duration
	Now       func() time.Time

	ParseRefresh  func(token string) (*jwt.Claims, error)
	CreateAccess  func(userID, username string) (string, error)
	CreateRefresh func(userID, username string) (string, error)
	AccessExpiry  func(token string) (time.Time, bool)
	FindUserByID  func(ctx context.Context, userID string) (Principal, error)
	UserNotFound  error
	SessionStore  SessionStore

	Hooks   Hooks
	Metrics RefreshMetrics
}

// RunRefresh rotates a refresh token. The presented token is claimed in the
// blacklist before anything is minted, so each refresh token yields at most
// one new pair. Presenting an already rotated token revokes every session of
// its user.
func RunRefresh(ctx context.Context, refreshToken string, meta RequestMeta, deps RefreshDeps) RefreshResult {
	deps.Hooks.defaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	failed := func(kind RefreshFailureKind, userID string, err error) RefreshResult {
		deps.Hooks.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: kind, Err: err, UserID: userID}
	}

	if refreshToken == "" {
		return failed(RefreshFailureInvalid, "", errors.New("missing refresh token"))
	}
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return failed(RefreshFailureInvalid, "", err)
	}
	userID := claims.UserID

	cutoff, err := deps.SessionStore.RevokedBefore(ctx, userID)
	if err != nil {
		return failed(RefreshFailureDependency, userID, err)
	}
	if issuedBefore(claims, cutoff) {
		return failed(RefreshFailureRevoked, userID, nil)
	}

	hash := session.TokenHash(refreshToken)
	prev, err := deps.SessionStore.ClaimBlacklist(ctx, hash, ReasonRotated, claims.Remaining(deps.Now()))
	if err != nil {
		return failed(RefreshFailureDependency, userID, err)
	}
	switch prev {
	case "":
	case ReasonRotated:
		deps.Hooks.MetricInc(deps.Metrics.RefreshReuse)
		deps.Hooks.Security(ctx, "refresh_token_reuse", "high", userID, "ip", meta.IP)
		if _, err := deps.SessionStore.RevokeAll(ctx, userID, deps.RevokeTTL); err != nil {
			deps.Hooks.Warn("schoolauth: revoke after refresh reuse failed", "user_id", userID, "error", err)
		}
		return failed(RefreshFailureReuse, userID, nil)
	default:
		return failed(RefreshFailureRevoked, userID, nil)
	}

	user, err := deps.FindUserByID(ctx, userID)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return failed(RefreshFailureUserNotFound, userID, err)
		}
		return failed(RefreshFailureDependency, userID, err)
	}
	if !user.Active {
		return failed(RefreshFailureAccountDisabled, userID, nil)
	}

	access, err := deps.CreateAccess(user.UserID, user.Username)
	if err != nil {
		return failed(RefreshFailureIssue, userID, err)
	}
	refresh, err := deps.CreateRefresh(user.UserID, user.Username)
	if err != nil {
		return failed(RefreshFailureIssue, userID, err)
	}

	now := deps.Now()
	expires := now.Add(deps.SessionTTL)
	if deps.AccessExpiry != nil {
		if exp, ok := deps.AccessExpiry(access); ok && exp.After(expires) {
			expires = exp
		}
	}
	if err := deps.SessionStore.Save(ctx, newSession(user, access, meta, now, expires), expires.Sub(now)); err != nil {
		deps.Hooks.Warn("schoolauth: session save failed", "user_id", user.UserID, "error", err)
	} else {
		deps.Hooks.MetricInc(deps.Metrics.SessionCreated)
	}

	deps.Hooks.MetricInc(deps.Metrics.RefreshSuccess)
	user.PasswordHash = ""
	return RefreshResult{
		UserID:       user.UserID,
		Principal:    user,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}

// issuedBefore reports whether claims were minted at or before a revoke-all
// cutoff. Tokens without an issue time are treated as revoked once a cutoff
// exists.
func issuedBefore(claims *jwt.Claims, cutoff time.Time) bool {
	if cutoff.IsZero() {
		return false
	}
	issued := claims.IssuedTime()
	if issued.IsZero() {
		return true
	}
	if claims.IssuedAtMillis == 0 {
		return issued.Unix() <= cutoff.Unix()
	}
	return !issued.After(cutoff)
}

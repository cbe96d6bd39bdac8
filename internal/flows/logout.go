package flows

import (
	"context"
	"time"

	"github.com/yyupcompany/kyyupgame-sub117/jwt"
	"github.com/yyupcompany/kyyupgame-sub117/session"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Now           func() time.Time
	ParseAccess   func(token string) (*jwt.Claims, error)
	ParseRefresh  func(token string) (*jwt.Claims, error)
	RevokeAllTTL  time.Duration
	SessionStore  SessionStore
	InvalidToken  error
	Hooks         Hooks
	LogoutMetric  int
	RevokedMetric int
}

// RunLogout blacklists the access token for its remaining lifetime and
// deletes its session. A refresh token of the same user, when given, is
// blacklisted too. The blacklist write must succeed; session cleanup is
// best-effort.
func RunLogout(ctx context.Context, accessToken, refreshToken string, deps LogoutDeps) (string, error) {
	deps.Hooks.defaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}

	claims, err := deps.ParseAccess(accessToken)
	if err != nil {
		if deps.InvalidToken != nil {
			return "", deps.InvalidToken
		}
		return "", err
	}
	now := deps.Now()
	if err := deps.SessionStore.Blacklist(ctx, session.TokenHash(accessToken), ReasonLogout, claims.Remaining(now)); err != nil {
		return claims.UserID, err
	}
	if err := deps.SessionStore.Delete(ctx, deps.SessionStore.Key(claims.UserID, accessToken)); err != nil {
		deps.Hooks.Warn("schoolauth: logout session delete failed", "user_id", claims.UserID, "error", err)
	}

	if refreshToken != "" && deps.ParseRefresh != nil {
		rc, err := deps.ParseRefresh(refreshToken)
		if err == nil && rc.UserID == claims.UserID {
			if err := deps.SessionStore.Blacklist(ctx, session.TokenHash(refreshToken), ReasonLogout, rc.Remaining(now)); err != nil {
				deps.Hooks.Warn("schoolauth: refresh token revoke failed", "user_id", claims.UserID, "error", err)
			}
		}
	}

	deps.Hooks.MetricInc(deps.LogoutMetric)
	return claims.UserID, nil
}

// RunLogoutAll revokes every token issued to userID so far and deletes the
// user's sessions.
func RunLogoutAll(ctx context.Context, userID string, deps LogoutDeps) (int, error) {
	deps.Hooks.defaults()
	n, err := deps.SessionStore.RevokeAll(ctx, userID, deps.RevokeAllTTL)
	if err != nil {
		return 0, err
	}
	deps.Hooks.MetricInc(deps.RevokedMetric)
	return n, nil
}

package flows

import (
	"context"
	"errors"
	"time"

	"github.com/yyupcompany/kyyupgame-sub117/jwt"
	"github.com/yyupcompany/kyyupgame-sub117/session"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureMissingToken
	ValidateFailureRevoked
	ValidateFailureInvalid
	ValidateFailureUserNotFound
	ValidateFailureAccountDisabled
	// Session store unreachable. Always a rejection.
	ValidateFailureSessionUnavailable
	// Identity store unreachable. Always a rejection, never a fallback
	// identity.
	ValidateFailureIdentityUnavailable
)

// ValidateResult returns either the resolved principal or a classified failure.
type ValidateResult struct {
	Failure   ValidateFailureKind
	Err       error
	Claims    *jwt.Claims
	Session   *session.Session
	Principal Principal
	// Healed is set when the session record was missing and is being
	// recreated in the background.
	Healed bool
}

// ValidateMetrics carries metric IDs needed by the validate flow.
type ValidateMetrics struct {
	ValidateSuccess int
	ValidateFailure int
	BlacklistHit    int
	SessionHealed   int
}

// ValidateDeps captures token validation dependencies.
type ValidateDeps struct {
	Now          func() time.Time
	ParseAccess  func(token string) (*jwt.Claims, error)
	FindUserByID func(ctx context.Context, userID string) (Principal, error)
	UserNotFound error
	SessionStore SessionStore

	Hooks   Hooks
	Metrics ValidateMetrics
}

// RunValidate checks an access token against the blacklist, its signature,
// the live session and the identity store, in that order. Every store
// failure is a rejection.
func RunValidate(ctx context.Context, token string, meta RequestMeta, deps ValidateDeps) ValidateResult {
	deps.Hooks.defaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	failed := func(kind ValidateFailureKind, err error) ValidateResult {
		deps.Hooks.MetricInc(deps.Metrics.ValidateFailure)
		return ValidateResult{Failure: kind, Err: err}
	}

	if token == "" {
		return failed(ValidateFailureMissingToken, nil)
	}

	hash := session.TokenHash(token)
	listed, err := deps.SessionStore.IsBlacklisted(ctx, hash)
	if err != nil {
		return failed(ValidateFailureSessionUnavailable, err)
	}
	if listed {
		deps.Hooks.MetricInc(deps.Metrics.BlacklistHit)
		deps.Hooks.Security(ctx, "blacklisted_token", "medium", "", "ip", meta.IP)
		return failed(ValidateFailureRevoked, nil)
	}

	claims, err := deps.ParseAccess(token)
	if err != nil {
		return failed(ValidateFailureInvalid, err)
	}

	cutoff, err := deps.SessionStore.RevokedBefore(ctx, claims.UserID)
	if err != nil {
		return failed(ValidateFailureSessionUnavailable, err)
	}
	if issuedBefore(claims, cutoff) {
		return failed(ValidateFailureRevoked, nil)
	}

	key := deps.SessionStore.Key(claims.UserID, token)
	sess, err := deps.SessionStore.Get(ctx, key)
	heal := false
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrCorrupt):
			heal = true
		default:
			return failed(ValidateFailureSessionUnavailable, err)
		}
	}

	user, err := deps.FindUserByID(ctx, claims.UserID)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return failed(ValidateFailureUserNotFound, err)
		}
		return failed(ValidateFailureIdentityUnavailable, err)
	}
	user.PasswordHash = ""

	if !user.Active {
		if sess != nil {
			if err := deps.SessionStore.Delete(ctx, key); err != nil {
				deps.Hooks.Warn("schoolauth: disabled account session delete failed", "user_id", user.UserID, "error", err)
			}
		}
		return failed(ValidateFailureAccountDisabled, nil)
	}

	if heal {
		now := deps.Now()
		remaining := claims.Remaining(now)
		healed := newSession(user, token, meta, now, now.Add(remaining))
		deps.Hooks.MetricInc(deps.Metrics.SessionHealed)
		deps.Hooks.Go(ctx, func(ctx context.Context) {
			if remaining <= 0 {
				return
			}
			if err := deps.SessionStore.Save(ctx, healed, remaining); err != nil {
				deps.Hooks.Warn("schoolauth: session self-heal failed", "user_id", healed.UserID, "error", err)
			}
		})
		sess = healed
	} else {
		userID := claims.UserID
		deps.Hooks.Go(ctx, func(ctx context.Context) {
			if err := deps.SessionStore.Touch(ctx, userID, token); err != nil {
				deps.Hooks.Warn("schoolauth: session touch failed", "user_id", userID, "error", err)
			}
		})
	}

	deps.Hooks.MetricInc(deps.Metrics.ValidateSuccess)
	return ValidateResult{
		Claims:    claims,
		Session:   sess,
		Principal: user,
		Healed:    heal,
	}
}

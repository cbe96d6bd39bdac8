package schoolauth

import "errors"

var (
	// ErrUnauthenticated is returned when no bearer token was presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrTokenInvalid covers bad signatures, expiry and wrong token kind.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenRevoked is returned for blacklisted tokens and tokens issued
	// before a logout-all.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrSessionUnavailable is returned when the session store cannot be
	// reached. Validation fails closed.
	ErrSessionUnavailable = errors.New("session store unavailable")
	// ErrIdentityUnavailable is returned when the identity store cannot be
	// reached. No fallback identity is ever substituted.
	ErrIdentityUnavailable = errors.New("identity store unavailable")

	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrUserNotFound          = errors.New("user not found")
	ErrAccountDisabled       = errors.New("account disabled")
	ErrMissingRequiredFields = errors.New("username and password are required")
	ErrInvalidUsername       = errors.New("invalid username")
	ErrPasswordTooShort      = errors.New("password too short")
	ErrLoginRateLimited      = errors.New("too many login attempts")

	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when an already rotated refresh token is
	// presented again. Every session of the user is revoked.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrPermissionDenied is returned by permission and role checks.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPermissionUnavailable is returned when permissions cannot be
	// resolved. Checks deny.
	ErrPermissionUnavailable = errors.New("permissions unavailable")

	ErrEngineNotReady = errors.New("engine not initialized")
)

// DeniedError carries an RBAC denial.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return "access denied: " + e.Decision.Reason
}

// Unwrap makes errors.Is(err, ErrPermissionDenied) hold.
func (e *DeniedError) Unwrap() error {
	return ErrPermissionDenied
}

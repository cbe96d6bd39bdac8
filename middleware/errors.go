package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

var (
	// ErrInvalidStudentID is returned when a child-scoped route carries a
	// malformed student id.
	ErrInvalidStudentID = errors.New("invalid student id")
	// ErrChildAccessDenied is returned when a parent addresses a student
	// outside their own children.
	ErrChildAccessDenied = errors.New("parents can only access their own children's data")
	// ErrInvalidRequest is returned for malformed request bodies.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// StatusFor maps err onto an HTTP status and a stable error body. Unknown
// errors become a generic 500 without internal detail.
func StatusFor(err error) (int, ErrorBody) {
	body := func(code, msg string) ErrorBody {
		return ErrorBody{Success: false, Message: msg, Code: code}
	}

	var denied *schoolauth.DeniedError
	switch {
	case err == nil:
		return http.StatusOK, ErrorBody{Success: true}
	case errors.As(err, &denied):
		return http.StatusForbidden, body("RBAC_DENIED", denied.Decision.Reason)
	case errors.Is(err, ErrChildAccessDenied):
		return http.StatusForbidden, body("PARENT_STUDENT_ACCESS_DENIED", ErrChildAccessDenied.Error())
	case errors.Is(err, ErrInvalidStudentID):
		return http.StatusBadRequest, body("INVALID_STUDENT_ID", "invalid student id")
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, body("INVALID_REQUEST", "invalid request")

	case errors.Is(err, schoolauth.ErrUnauthenticated):
		return http.StatusUnauthorized, body("UNAUTHENTICATED", "authentication required")
	case errors.Is(err, schoolauth.ErrTokenRevoked):
		return http.StatusUnauthorized, body("TOKEN_REVOKED", "token has been revoked")
	case errors.Is(err, schoolauth.ErrTokenInvalid), errors.Is(err, schoolauth.ErrUserNotFound):
		return http.StatusUnauthorized, body("INVALID_TOKEN", "invalid or expired token")
	case errors.Is(err, schoolauth.ErrSessionUnavailable):
		return http.StatusUnauthorized, body("AUTH_DEPENDENCY_UNAVAILABLE", "authentication is temporarily unavailable")
	case errors.Is(err, schoolauth.ErrInvalidCredentials):
		return http.StatusUnauthorized, body("INVALID_CREDENTIALS", "invalid username or password")
	case errors.Is(err, schoolauth.ErrRefreshInvalid), errors.Is(err, schoolauth.ErrRefreshReuse):
		return http.StatusUnauthorized, body("INVALID_REFRESH_TOKEN", "invalid refresh token")

	case errors.Is(err, schoolauth.ErrAccountDisabled):
		return http.StatusForbidden, body("ACCOUNT_DISABLED", "account is disabled")
	case errors.Is(err, schoolauth.ErrPermissionDenied):
		return http.StatusForbidden, body("FORBIDDEN", "insufficient permissions")

	case errors.Is(err, schoolauth.ErrMissingRequiredFields):
		return http.StatusBadRequest, body("MISSING_REQUIRED_FIELDS", "username and password are required")
	case errors.Is(err, schoolauth.ErrInvalidUsername):
		return http.StatusBadRequest, body("INVALID_USERNAME", "username must be at most 50 characters")
	case errors.Is(err, schoolauth.ErrPasswordTooShort):
		return http.StatusBadRequest, body("PASSWORD_TOO_SHORT", "password must be at least 6 characters")

	case errors.Is(err, schoolauth.ErrLoginRateLimited):
		return http.StatusTooManyRequests, body("RATE_LIMITED", "too many attempts, try again later")

	case errors.Is(err, schoolauth.ErrIdentityUnavailable),
		errors.Is(err, schoolauth.ErrPermissionUnavailable),
		errors.Is(err, schoolauth.ErrEngineNotReady):
		return http.StatusServiceUnavailable, body("SERVICE_UNAVAILABLE", "service temporarily unavailable")
	}
	return http.StatusInternalServerError, body("INTERNAL_ERROR", "internal server error")
}

// WriteError writes the mapped error response for err.
func WriteError(w http.ResponseWriter, err error) {
	status, body := StatusFor(err)
	WriteJSON(w, status, body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

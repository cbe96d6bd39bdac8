package middleware

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"slices"

	"github.com/go-chi/chi/v5"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	"github.com/yyupcompany/kyyupgame-sub117/rbac"
)

type decisionContextKey struct{}

// DecisionFromContext returns the policy decision Authorize attached.
func DecisionFromContext(ctx context.Context) (schoolauth.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(schoolauth.Decision)
	return d, ok
}

// RequestFunc describes the access a request asks for.
type RequestFunc func(r *http.Request) schoolauth.AccessRequest

// Static returns a RequestFunc with a fixed request type. Method and path
// are filled from the request.
func Static(t schoolauth.RequestType, target schoolauth.Target) RequestFunc {
	return func(r *http.Request) schoolauth.AccessRequest {
		return schoolauth.AccessRequest{
			Type:   t,
			Method: r.Method,
			Path:   r.URL.Path,
			Target: target,
		}
	}
}

// Authorize evaluates the role policy for every request. It must run after
// Guard. Allowed decisions are attached to the context.
func Authorize(engine *schoolauth.Engine, build RequestFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := Identity(r)
			if !ok {
				WriteError(w, schoolauth.ErrUnauthenticated)
				return
			}
			req := build(r)
			if req.Method == "" {
				req.Method = r.Method
			}
			if req.Path == "" {
				req.Path = r.URL.Path
			}
			d, err := engine.Authorize(r.Context(), id, req)
			if err != nil {
				WriteError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), decisionContextKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission admits callers holding code in the permission cache.
// Admin roles always pass.
func RequirePermission(engine *schoolauth.Engine, code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := Identity(r)
			if !ok {
				WriteError(w, schoolauth.ErrUnauthenticated)
				return
			}
			if !id.IsAdmin {
				has, err := engine.HasPermission(r.Context(), id.UserID, code)
				if err != nil {
					WriteError(w, err)
					return
				}
				if !has {
					WriteError(w, schoolauth.ErrPermissionDenied)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits callers whose role is one of roles. Admin identities
// always pass.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := Identity(r)
			if !ok {
				WriteError(w, schoolauth.ErrUnauthenticated)
				return
			}
			if !id.IsAdmin && !slices.Contains(roles, id.Role) {
				WriteError(w, schoolauth.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RequireChildAccess restricts parents to their own children on routes that
// carry a student id in the URL parameter param. Other roles pass through
// to later checks.
func RequireChildAccess(engine *schoolauth.Engine, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := Identity(r)
			if !ok {
				WriteError(w, schoolauth.ErrUnauthenticated)
				return
			}
			if id.Role != string(rbac.RoleParent) {
				next.ServeHTTP(w, r)
				return
			}

			studentID := chi.URLParam(r, param)
			if studentID == "" {
				studentID = r.PathValue(param)
			}
			if !studentIDPattern.MatchString(studentID) {
				WriteError(w, ErrInvalidStudentID)
				return
			}

			_, err := engine.Authorize(r.Context(), id, schoolauth.AccessRequest{
				Type:   rbac.TypeGeneralQuery,
				Method: r.Method,
				Path:   r.URL.Path,
				Target: schoolauth.Target{Category: rbac.CategoryStudents, StudentID: studentID},
			})
			if err != nil {
				var denied *schoolauth.DeniedError
				if errors.As(err, &denied) {
					WriteError(w, ErrChildAccessDenied)
					return
				}
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

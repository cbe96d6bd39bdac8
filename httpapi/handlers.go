package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	"github.com/yyupcompany/kyyupgame-sub117/middleware"
	"github.com/yyupcompany/kyyupgame-sub117/permission"
	"github.com/yyupcompany/kyyupgame-sub117/rbac"
)

const maxBodyBytes = 1 << 20

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	schoolauth.Identity
	Roles []string `json:"roles,omitempty"`
}

type loginResponse struct {
	Success      bool     `json:"success"`
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	User         userView `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	Success      bool   `json:"success"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type identityResponse struct {
	Success bool     `json:"success"`
	User    userView `json:"user"`
}

type meResponse struct {
	Success     bool     `json:"success"`
	User        userView `json:"user"`
	Permissions []string `json:"permissions"`
}

type invalidateRequest struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids"`
}

type accessCheckRequest struct {
	RequestType string            `json:"requestType"`
	Text        string            `json:"text"`
	Categories  []rbac.Category   `json:"categories"`
	Target      schoolauth.Target `json:"target"`
}

type accessCheckResponse struct {
	Success  bool                `json:"success"`
	Decision schoolauth.Decision `json:"decision"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", middleware.ErrInvalidRequest, err)
	}
	return nil
}

// fail writes the mapped error. Server-side failures are logged with the
// request id; clients never see the cause.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := middleware.StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("schoolauth: request failed",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	middleware.WriteJSON(w, status, body)
}

// roles reads the caller's role codes from the permission cache. A cache
// failure leaves them out of the response.
func (a *API) roles(r *http.Request, userID string) []string {
	entry, err := a.engine.Permissions(r.Context(), userID)
	if err != nil {
		a.logger.Warn("schoolauth: role lookup for response failed", "user_id", userID, "error", err)
		return nil
	}
	return entry.RoleCodes
}

// Login accepts a username or email with a password.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}

	res, err := a.engine.Login(middleware.WithRequestMeta(r), identifier, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		Token:        res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         userView{Identity: res.User, Roles: a.roles(r, res.User.UserID)},
	})
}

// Refresh rotates a refresh token.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		a.fail(w, r, schoolauth.ErrRefreshInvalid)
		return
	}

	pair, err := a.engine.Refresh(middleware.WithRequestMeta(r), req.RefreshToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{
		Success:      true,
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// Logout revokes the bearer token and, when given, the refresh token in
// the body.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	access, _ := middleware.BearerToken(r)
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	if err := a.engine.Logout(r.Context(), access, req.RefreshToken); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: "logged out"})
}

// LogoutAll revokes every session of the caller.
func (a *API) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.Identity(r)
	n, err := a.engine.LogoutAll(r.Context(), id.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: fmt.Sprintf("revoked %d sessions", n),
	})
}

// Verify returns the authenticated identity.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.Identity(r)
	middleware.WriteJSON(w, http.StatusOK, identityResponse{Success: true, User: userView{Identity: *id}})
}

// Me returns the identity with its cached roles and permissions.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.Identity(r)
	entry, err := a.engine.Permissions(r.Context(), id.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	perms := entry.PermissionCodes
	if perms == nil {
		perms = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		Success:     true,
		User:        userView{Identity: *id, Roles: entry.RoleCodes},
		Permissions: perms,
	})
}

// CheckAccess evaluates the role policy for a described request without
// performing it. An explicit requestType is preferred over free text.
func (a *API) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var req accessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	typ, err := rbac.ParseRequestType(req.RequestType)
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: %v", middleware.ErrInvalidRequest, err))
		return
	}

	id, _ := middleware.Identity(r)
	d, err := a.engine.Authorize(r.Context(), id, schoolauth.AccessRequest{
		Type:       typ,
		Method:     r.Method,
		Path:       r.URL.Path,
		Text:       req.Text,
		Categories: req.Categories,
		Target:     req.Target,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, accessCheckResponse{Success: true, Decision: d})
}

// InvalidatePermissions queues a cache invalidation for a mutation
// committed outside this process.
func (a *API) InvalidatePermissions(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	kind, err := permission.ParseKind(req.Kind)
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: %v", middleware.ErrInvalidRequest, err))
		return
	}
	if err := a.engine.Invalidate(schoolauth.InvalidationEvent{Kind: kind, IDs: req.IDs}); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, messageResponse{Success: true, Message: "invalidation queued"})
}

// PermissionCacheStats reports cache and coordinator counters.
func (a *API) PermissionCacheStats(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"cache":       a.engine.PermissionCacheStats(r.Context()),
		"coordinator": a.engine.InvalidationStats(),
	})
}

// Package httpapi exposes the engine over HTTP with chi.
//
// Routes:
//
//	POST /auth/login             username or email plus password
//	POST /auth/refresh           rotate a refresh token
//	POST /auth/logout            revoke the bearer token (and refresh token)
//	POST /auth/logout-all        revoke every session of the caller
//	GET  /auth/verify            identity of the bearer
//	GET  /auth/me                identity with roles and permissions
//	POST /api/access/check       dry-run a role policy decision
//	POST /api/permission-cache/invalidate  admin only
//	GET  /api/permission-cache/stats       admin only
//	GET  /healthz
//	GET  /metrics                when WithMetrics is set
//
// Application routes registered with WithRoutes sit under /api behind the
// guard and the audit interceptor.
package httpapi

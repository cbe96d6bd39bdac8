package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	promexport "github.com/yyupcompany/kyyupgame-sub117/metrics/export/prometheus"
	"github.com/yyupcompany/kyyupgame-sub117/middleware"
)

// API serves the authentication endpoints and hosts protected application
// routes under /api.
type API struct {
	engine   *schoolauth.Engine
	logger   *slog.Logger
	limiter  *ipLimiter
	exporter *promexport.Exporter
	routes   []func(chi.Router)
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the logger for handler failures. Defaults to the engine
// logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAuthRateLimit sets the per-IP token bucket on /auth. perSecond <= 0
// disables it.
func WithAuthRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond <= 0 {
			a.limiter = nil
			return
		}
		a.limiter = newIPLimiter(perSecond, burst)
	}
}

// WithMetrics mounts exp at /metrics and records per-route request counts
// in its registry.
func WithMetrics(exp *promexport.Exporter) Option {
	return func(a *API) {
		a.exporter = exp
	}
}

// WithRoutes registers application routes inside the protected /api group.
// They run behind Guard and Audit.
func WithRoutes(fn func(r chi.Router)) Option {
	return func(a *API) {
		a.routes = append(a.routes, fn)
	}
}

// New creates an API over engine.
func New(engine *schoolauth.Engine, opts ...Option) *API {
	a := &API{
		engine:  engine,
		limiter: newIPLimiter(5, 20),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = engine.Logger()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Router returns a chi.Router with every route mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if a.exporter != nil {
		r.Use(a.instrument())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	if a.exporter != nil {
		r.Handle("/metrics", a.exporter.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.Middleware)
		}
		r.Post("/login", a.Login)
		r.Post("/refresh", a.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(a.engine))
			r.Post("/logout", a.Logout)
			r.Post("/logout-all", a.LogoutAll)
			r.Get("/verify", a.Verify)
			r.Get("/me", a.Me)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Audit(a.engine))
		r.Use(middleware.Guard(a.engine))

		r.Post("/access/check", a.CheckAccess)
		r.With(middleware.RequireRole("admin", "super_admin")).Post("/permission-cache/invalidate", a.InvalidatePermissions)
		r.With(middleware.RequireRole("admin", "super_admin")).Get("/permission-cache/stats", a.PermissionCacheStats)

		for _, fn := range a.routes {
			fn(r)
		}
	})

	return r
}

// instrument counts requests by method, route pattern and status in the
// exporter registry.
func (a *API) instrument() func(http.Handler) http.Handler {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolauth_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "code"})
	if err := a.exporter.Registry().Register(requests); err != nil {
		a.logger.Warn("schoolauth: http metrics registration failed", "error", err)
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		})
	}
}

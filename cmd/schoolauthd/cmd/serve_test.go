package cmd

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	"github.com/yyupcompany/kyyupgame-sub117/store/memory"
)

func newTestEngine(t *testing.T, cfg *Config) *schoolauth.Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := schoolauth.New().
		WithConfig(cfg.EngineConfig(slog.New(slog.NewTextHandler(io.Discard, nil)))).
		WithRedis(rdb).
		WithIdentityStore(memory.New()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func TestRouterServesOTelMetricsWhenEnabled(t *testing.T) {
	cfg, err := LoadConfig("", envOf(map[string]string{
		"SCHOOLAUTH_JWT_SECRET":   testSecret,
		"SCHOOLAUTH_METRICS_OTEL": "true",
	}))
	require.NoError(t, err)
	require.True(t, cfg.Metrics.OTel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router, release, err := newRouter(cfg, newTestEngine(t, cfg), logger)
	require.NoError(t, err)
	defer release()

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics/otel")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Metrics []struct {
			Name  string `json:"name"`
			Value int64  `json:"value"`
		} `json:"metrics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	names := map[string]bool{}
	for _, m := range body.Metrics {
		names[m.Name] = true
	}
	assert.True(t, names["schoolauth_login_success_total"])
	assert.True(t, names["schoolauth_audit_dropped_total"])

	prom, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer prom.Body.Close()
	assert.Equal(t, http.StatusOK, prom.StatusCode)
}

func TestRouterOmitsOTelByDefault(t *testing.T) {
	cfg, err := LoadConfig("", envOf(map[string]string{"SCHOOLAUTH_JWT_SECRET": testSecret}))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router, release, err := newRouter(cfg, newTestEngine(t, cfg), logger)
	require.NoError(t, err)
	defer release()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics/otel", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

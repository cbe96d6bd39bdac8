package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schoolauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", envOf(map[string]string{"SCHOOLAUTH_JWT_SECRET": testSecret}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, "memory", cfg.PermissionCache.Backend)
	assert.True(t, *cfg.Audit.Enabled)
	assert.Equal(t, 20, cfg.RateLimit.AuthBurst)
	assert.False(t, cfg.Metrics.OTel)
	assert.Equal(t, "/metrics/otel", cfg.Metrics.OTelPath)
	assert.False(t, cfg.EngineConfig(nil).Audit.DropIfFull)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
redis:
  addr: "redis:6379"
jwt:
  secret: "from-file-but-too-short"
  access_ttl: 5m
  issuer: kindergarten
permission_cache:
  backend: redis
  ttl: 90s
audit:
  enabled: false
  bolt_path: /var/lib/schoolauth/audit.db
  retention: 2160h
  drop_if_full: true
metrics:
  otel: true
  otel_path: /internal/otel
log:
  level: debug
  format: text
`)
	cfg, err := LoadConfig(path, envOf(map[string]string{
		"SCHOOLAUTH_JWT_SECRET":   testSecret,
		"SCHOOLAUTH_DATABASE_URL": "postgres://u:p@db/school",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, testSecret, cfg.JWT.Secret)
	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 90*time.Second, cfg.PermissionCache.TTL)
	assert.False(t, *cfg.Audit.Enabled)
	assert.Equal(t, 2160*time.Hour, cfg.Audit.Retention)
	assert.Equal(t, "postgres://u:p@db/school", cfg.Database.URL)

	ec := cfg.EngineConfig(nil)
	assert.Equal(t, []byte(testSecret), ec.JWT.PrivateKey)
	assert.Equal(t, "kindergarten", ec.JWT.Issuer)
	assert.Equal(t, "redis", ec.PermissionCache.Backend)
	assert.False(t, ec.Audit.Enabled)
	assert.True(t, ec.Audit.DropIfFull)
	assert.True(t, cfg.Metrics.OTel)
	assert.Equal(t, "/internal/otel", cfg.Metrics.OTelPath)
	require.NoError(t, ec.Validate())
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{"missing secret", "", nil, "jwt.secret"},
		{"bad backend", "permission_cache:\n  backend: disk\n", map[string]string{"SCHOOLAUTH_JWT_SECRET": testSecret}, "permission_cache.backend"},
		{"bad level", "log:\n  level: loud\n", map[string]string{"SCHOOLAUTH_JWT_SECRET": testSecret}, "log.level"},
		{"bad audit env", "", map[string]string{"SCHOOLAUTH_JWT_SECRET": testSecret, "SCHOOLAUTH_AUDIT_ENABLED": "maybe"}, "SCHOOLAUTH_AUDIT_ENABLED"},
		{"otel over prometheus", "metrics:\n  otel_path: /metrics\n", map[string]string{"SCHOOLAUTH_JWT_SECRET": testSecret}, "metrics.otel_path"},
		{"bad otel env", "", map[string]string{"SCHOOLAUTH_JWT_SECRET": testSecret, "SCHOOLAUTH_METRICS_OTEL": "sometimes"}, "SCHOOLAUTH_METRICS_OTEL"},
		{"bad yaml", "listen: [\n", map[string]string{"SCHOOLAUTH_JWT_SECRET": testSecret}, "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			_, err := LoadConfig(path, envOf(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg, err := LoadConfig("", envOf(map[string]string{
		"SCHOOLAUTH_JWT_SECRET":   testSecret,
		"SCHOOLAUTH_DATABASE_URL": "postgres://u:p@db/school",
	}))
	require.NoError(t, err)

	r := cfg.redacted()
	assert.Equal(t, "<redacted>", r.JWT.Secret)
	assert.Equal(t, "<redacted>", r.Database.URL)
	assert.Empty(t, r.Redis.Password)
	assert.Equal(t, testSecret, cfg.JWT.Secret)
}

func TestHashPasswordCommand(t *testing.T) {
	var out bytes.Buffer
	hashPasswordCmd.SetIn(strings.NewReader("correct-password\n"))
	hashPasswordCmd.SetOut(&out)
	t.Cleanup(func() {
		hashPasswordCmd.SetIn(nil)
		hashPasswordCmd.SetOut(nil)
	})

	require.NoError(t, hashPasswordCmd.RunE(hashPasswordCmd, nil))
	assert.True(t, strings.HasPrefix(out.String(), "$argon2id$"), out.String())
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, LogConfig{Level: "warn", Format: "text"}).Info("hidden")
	newLogger(&buf, LogConfig{Level: "warn", Format: "text"}).Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

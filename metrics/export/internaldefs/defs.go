package internaldefs

import (
	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   schoolauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   schoolauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: schoolauth.MetricLoginSuccess, Name: "schoolauth_login_success_total", Help: "Successful login attempts."},
	{ID: schoolauth.MetricLoginFailure, Name: "schoolauth_login_failure_total", Help: "Failed login attempts."},
	{ID: schoolauth.MetricLoginRateLimited, Name: "schoolauth_login_rate_limited_total", Help: "Throttled login attempts."},
	{ID: schoolauth.MetricRefreshSuccess, Name: "schoolauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: schoolauth.MetricRefreshFailure, Name: "schoolauth_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: schoolauth.MetricRefreshReuseDetected, Name: "schoolauth_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: schoolauth.MetricValidateSuccess, Name: "schoolauth_validate_success_total", Help: "Access tokens accepted."},
	{ID: schoolauth.MetricValidateFailure, Name: "schoolauth_validate_failure_total", Help: "Access tokens rejected."},
	{ID: schoolauth.MetricBlacklistHit, Name: "schoolauth_blacklist_hit_total", Help: "Rejections by the token blacklist."},
	{ID: schoolauth.MetricSessionHealed, Name: "schoolauth_session_healed_total", Help: "Session records recreated for valid tokens."},
	{ID: schoolauth.MetricSessionCreated, Name: "schoolauth_session_created_total", Help: "Created sessions."},
	{ID: schoolauth.MetricLogout, Name: "schoolauth_logout_total", Help: "Single-token logouts."},
	{ID: schoolauth.MetricLogoutAll, Name: "schoolauth_logout_all_total", Help: "Logout-all operations."},
	{ID: schoolauth.MetricPermissionCacheHit, Name: "schoolauth_permission_cache_hit_total", Help: "Permission cache hits."},
	{ID: schoolauth.MetricPermissionCacheMiss, Name: "schoolauth_permission_cache_miss_total", Help: "Permission cache misses."},
	{ID: schoolauth.MetricPermissionInvalidation, Name: "schoolauth_permission_invalidation_total", Help: "Permission cache entries invalidated."},
	{ID: schoolauth.MetricRBACAllowed, Name: "schoolauth_rbac_allowed_total", Help: "Requests allowed by the role policy."},
	{ID: schoolauth.MetricRBACDenied, Name: "schoolauth_rbac_denied_total", Help: "Requests denied by the role policy."},
	{ID: schoolauth.MetricAuditDropped, Name: "schoolauth_audit_dropped_total", Help: "Audit records dropped on a full queue."},
}

var HistogramDefs = []HistogramDef{
	{ID: schoolauth.MetricValidateLatency, Name: "schoolauth_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds are the upper bounds in seconds of the first seven
// buckets. The eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

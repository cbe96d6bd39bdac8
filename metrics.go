package schoolauth

import (
	internalmetrics "github.com/yyupcompany/kyyupgame-sub117/internal/metrics"
)

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess           = internalmetrics.MetricLoginSuccess
	MetricLoginFailure           = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited       = internalmetrics.MetricLoginRateLimited
	MetricRefreshSuccess         = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure         = internalmetrics.MetricRefreshFailure
	MetricRefreshReuseDetected   = internalmetrics.MetricRefreshReuseDetected
	MetricValidateSuccess        = internalmetrics.MetricValidateSuccess
	MetricValidateFailure        = internalmetrics.MetricValidateFailure
	MetricBlacklistHit           = internalmetrics.MetricBlacklistHit
	MetricSessionHealed          = internalmetrics.MetricSessionHealed
	MetricSessionCreated         = internalmetrics.MetricSessionCreated
	MetricLogout                 = internalmetrics.MetricLogout
	MetricLogoutAll              = internalmetrics.MetricLogoutAll
	MetricPermissionCacheHit     = internalmetrics.MetricPermissionCacheHit
	MetricPermissionCacheMiss    = internalmetrics.MetricPermissionCacheMiss
	MetricPermissionInvalidation = internalmetrics.MetricPermissionInvalidation
	MetricRBACAllowed            = internalmetrics.MetricRBACAllowed
	MetricRBACDenied             = internalmetrics.MetricRBACDenied
	MetricAuditDropped           = internalmetrics.MetricAuditDropped
	MetricValidateLatency        = internalmetrics.MetricValidateLatency

	metricIDCount = internalmetrics.MetricIDCount
)

// Metrics holds atomic counters and the optional validate latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a Metrics instance. When Enabled is false every
// operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}

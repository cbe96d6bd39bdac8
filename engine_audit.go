package schoolauth

import (
	"context"
	"log/slog"
)

// EmitAudit queues rec for the audit sink. It never blocks and never returns
// sink errors. Records are only dropped when Audit.DropIfFull is set.
func (e *Engine) EmitAudit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, rec)
}

// AuditEnabled reports whether audit records are persisted.
func (e *Engine) AuditEnabled() bool {
	return e != nil && e.audit != nil
}

// AuditDropped reports how many records were dropped on a full queue.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	if e == nil {
		return nil
	}
	return e.logger
}

// securityEvent logs a security-relevant event. High and critical events
// are logged at error level.
func (e *Engine) securityEvent(ctx context.Context, event, severity, userID string, attrs ...any) {
	level := slog.LevelWarn
	switch severity {
	case "low":
		level = slog.LevelInfo
	case "high", "critical":
		level = slog.LevelError
	}
	args := make([]any, 0, len(attrs)+6)
	args = append(args, "event", "security", "name", event, "severity", severity)
	if userID != "" {
		args = append(args, "user_id", userID)
	}
	args = append(args, attrs...)
	e.logger.Log(ctx, level, "schoolauth: security event", args...)
}

package api

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditAuthGranted      AuditEvent = "auth_granted"
	AuditAuthDenied       AuditEvent = "auth_denied"
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLimiterError     AuditEvent = "limiter_error"
	AuditLogout           AuditEvent = "logout"
	AuditUnknownHost      AuditEvent = "unknown_host"
	AuditUnknownEndpoint  AuditEvent = "unknown_endpoint"
	AuditTemplateMissing  AuditEvent = "template_missing"
)

// /auth is hit for every resource the proxy serves, so its outcomes are
// logged at debug.
var auditLevels = map[AuditEvent]slog.Level{
	AuditAuthGranted:     slog.LevelDebug,
	AuditAuthDenied:      slog.LevelDebug,
	AuditLoginFailure:    slog.LevelWarn,
	AuditLimiterError:    slog.LevelError,
	AuditTemplateMissing: slog.LevelError,
}

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	now     func() time.Time
}

func newAuditLogger(logger *slog.Logger, now func() time.Time) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		now:    now,
	}
}

// log writes a structured audit log entry for req.
func (al *auditLogger) log(ctx context.Context, event AuditEvent, req *Request, attrs ...slog.Attr) {
	level, ok := auditLevels[event]
	if !ok {
		level = slog.LevelInfo
	}
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("request_id", req.ID),
		slog.String("host", req.Host),
		slog.String("remote_addr", req.RemoteAddr),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(ctx, level, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logUser is a convenience for events concerning a named user.
func (al *auditLogger) logUser(ctx context.Context, event AuditEvent, req *Request, username string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("user", username),
	}
	attrs = append(attrs, extra...)
	al.log(ctx, event, req, attrs...)
}

// logFailure logs a failed attempt with its reason.
func (al *auditLogger) logFailure(ctx context.Context, event AuditEvent, req *Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(ctx, event, req, attrs...)
}

package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is the structured form of a security journal entry.
type AuditEvent struct {
	Kind      string
	UserID    string
	Identity  string
	IPAddress string
	UserAgent string
	Detail    map[string]interface{}
	At        time.Time
}

// AuditLogger writes security events as structured log lines.
type AuditLogger struct {
	logger *slog.Logger
	env    string
}

func NewAuditLogger(logger *slog.Logger, env string) *AuditLogger {
	return &AuditLogger{logger: logger, env: env}
}

// warnKinds are logged at warn level.
var warnKinds = map[string]bool{
	"login_failed":        true,
	"account_locked":      true,
	"suspicious_activity": true,
}

func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_kind", event.Kind),
		slog.String("timestamp", at.UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Identity != "" {
		attrs = append(attrs, slog.String("identity", SanitizedEmail(event.Identity)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, RedactedAttr("ip_address", event.IPAddress, al.env))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if len(event.Detail) > 0 {
		detail := make([]any, 0, len(event.Detail))
		for k, v := range event.Detail {
			detail = append(detail, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("detail", detail...))
	}

	level := slog.LevelInfo
	if warnKinds[event.Kind] {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

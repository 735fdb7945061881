package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"janseva.org/internal/auth"
	"janseva.org/internal/obs"
)

// Event names emitted by the portal.
const (
	EventLogin        = "session.login"
	EventLogout       = "session.logout"
	EventSchemeCreate = "scheme.create"
	EventSubmit       = "application.submit"
	EventSubmitReplay = "application.submit.idempotent_replay"
	EventDecide       = "application.decide"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if actor, ok := auth.ActorFromContext(ctx); ok {
		attrs = append(attrs,
			slog.String("username", actor.Username),
			slog.String("role", string(actor.Role)),
		)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	group := make([]any, 0, len(keys))
	for _, k := range keys {
		group = append(group, slog.Any(k, fields[k]))
	}
	attrs = append(attrs, slog.Group("fields", group...))

	obs.Logger().LogAttrs(context.WithoutCancel(ctx), slog.LevelInfo, "audit", attrs...)
	return nil
}

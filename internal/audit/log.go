// Package audit emits append-only security event records through the shared
// structured logger.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"mdscloud.org/identity/internal/identity"
	"mdscloud.org/identity/internal/ids"
	"mdscloud.org/identity/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit record enriched with request and caller context.
// Extra metadata stays a flat string map so downstream log shippers never see
// dynamically-typed payloads.
func LogEvent(ctx context.Context, event string, fields map[string]string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	entry := logrus.Fields{
		"type":     "audit",
		"event":    event,
		"audit_id": ids.New(),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if principal, ok := identity.PrincipalFromContext(ctx); ok {
		entry["account_id"] = principal.AccountID
		entry["user_id"] = principal.UserID
	}
	for k, v := range fields {
		entry["meta_"+k] = v
	}

	obs.Logger().WithFields(entry).Info("audit")
	return nil
}

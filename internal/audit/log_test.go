package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"mdscloud.org/identity/internal/identity"
	"mdscloud.org/identity/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	var buf bytes.Buffer
	orig := logger.Out
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(orig) })
	return &buf
}

func TestLogEventIncludesContext(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = identity.ContextWithPrincipal(ctx, identity.Principal{
		AccountID: 1001,
		UserID:    "alice",
	})

	if err := LogEvent(ctx, "token.issued", map[string]string{"grant_type": "password"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected a log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("audit entry is not JSON: %v", err)
	}
	if entry["event"] != "token.issued" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request_id: %v", entry["request_id"])
	}
	if entry["user_id"] != "alice" {
		t.Fatalf("unexpected user_id: %v", entry["user_id"])
	}
	if entry["meta_grant_type"] != "password" {
		t.Fatalf("unexpected metadata: %v", entry["meta_grant_type"])
	}
	if entry["audit_id"] == "" {
		t.Fatal("expected audit_id")
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

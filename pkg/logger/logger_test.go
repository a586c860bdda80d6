package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	previous := globalLogger
	SetOutput(&buf)
	t.Cleanup(func() { globalLogger = previous })
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestInfoWritesStructuredEntry(t *testing.T) {
	buf := captureLogs(t)

	Info("login_succeeded", map[string]interface{}{"company": "acme"})

	entry := lastEntry(t, buf)
	if entry["action"] != "login_succeeded" {
		t.Errorf("expected action login_succeeded, got %v", entry["action"])
	}
	if entry["level"] != "info" {
		t.Errorf("expected level info, got %v", entry["level"])
	}
	details, ok := entry["details"].(map[string]interface{})
	if !ok || details["company"] != "acme" {
		t.Errorf("expected details.company acme, got %v", entry["details"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestWithUserAndError(t *testing.T) {
	buf := captureLogs(t)

	WarnWithUser("user-1", "mfa_failed", nil)
	entry := lastEntry(t, buf)
	if entry["user_id"] != "user-1" || entry["level"] != "warn" {
		t.Errorf("unexpected warn entry %v", entry)
	}
	if _, ok := entry["details"]; ok {
		t.Error("empty details should be omitted")
	}

	ErrorWithUser("user-2", "save_failed", errors.New("disk full"), nil)
	entry = lastEntry(t, buf)
	if entry["user_id"] != "user-2" || entry["error"] != "disk full" || entry["level"] != "error" {
		t.Errorf("unexpected error entry %v", entry)
	}
}

func TestDebugFilteredAtInfo(t *testing.T) {
	buf := captureLogs(t)

	Debug("noisy", nil)
	if buf.Len() != 0 {
		t.Errorf("debug should be dropped at info level, got %q", buf.String())
	}
}

func TestHelpersAreNilSafe(t *testing.T) {
	previous := globalLogger
	globalLogger = nil
	t.Cleanup(func() { globalLogger = previous })

	Info("a", nil)
	Warn("b", nil)
	Error("c", errors.New("x"), nil)
	InfoWithUser("u", "d", nil)
	Sync()
}

func TestGetRequestBodySummary(t *testing.T) {
	app := fiber.New()
	var summary string
	app.Post("/", func(c *fiber.Ctx) error {
		summary = GetRequestBodySummary(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	tests := []struct {
		name     string
		body     string
		contains []string
		excludes []string
	}{
		{
			name:     "redacts secrets",
			body:     `{"email":"a@b.test","password":"hunter2","code":"123456"}`,
			contains: []string{"a@b.test", "[REDACTED]"},
			excludes: []string{"hunter2", "123456"},
		},
		{name: "empty", body: "", contains: []string{"empty"}},
		{name: "not json", body: "plain", contains: []string{"binary (5 bytes)"}},
		{name: "large", body: strings.Repeat("x", 2048), contains: []string{"large (2048 bytes)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			if _, err := app.Test(req); err != nil {
				t.Fatalf("request failed: %v", err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(summary, s) {
					t.Errorf("summary %q should contain %q", summary, s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(summary, s) {
					t.Errorf("summary %q should not contain %q", summary, s)
				}
			}
		})
	}
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if len(a) != 36 || a == b {
		t.Errorf("expected distinct UUIDs, got %q and %q", a, b)
	}
}

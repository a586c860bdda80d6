package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/voiceagent/backend/internal/database"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/store"
	"github.com/voiceagent/backend/internal/token"
	"gorm.io/gorm"
)

func setupMiddlewareTest(t *testing.T) (*store.Store, *token.Manager) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating: %v", err)
	}

	tokens, err := token.NewManager(token.Config{
		Secret:     "middleware-test-secret",
		AccessTTL:  30 * time.Minute,
		MFATTL:     5 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("failed creating token manager: %v", err)
	}
	return store.New(db), tokens
}

func createMiddlewareTestUser(t *testing.T, s *store.Store, email string, role models.UserRole) *models.User {
	t.Helper()
	company := &models.Company{Name: "Acme", Domain: "d-" + email, IsActive: true}
	user := &models.User{Email: email, PasswordHash: "hash", FullName: "Test User", Role: role, IsActive: true}
	if err := s.CreateCompanyWithAdmin(context.Background(), company, user); err != nil {
		t.Fatalf("failed creating user: %v", err)
	}
	return user
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failed decoding body: %v body=%q", err, string(raw))
	}
	return body
}

func TestRequireAuth(t *testing.T) {
	s, tokens := setupMiddlewareTest(t)
	auth := NewAuthMiddleware(s, tokens)
	user := createMiddlewareTestUser(t, s, "auth-require@test.com", models.UserRoleUser)

	access, err := tokens.IssueAccess(user)
	if err != nil {
		t.Fatalf("failed issuing access token: %v", err)
	}
	pending, err := tokens.IssueMFAPending(user)
	if err != nil {
		t.Fatalf("failed issuing pending token: %v", err)
	}

	app := fiber.New()
	app.Get("/protected", auth.RequireAuth, func(c *fiber.Ctx) error {
		u := GetCurrentUser(c)
		return c.JSON(fiber.Map{"email": u.Email, "user_id": c.Locals("userID")})
	})

	t.Run("missing authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		resp, _ := app.Test(req, 5000)
		body := decodeBody(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		if body["error"] != "missing authorization header" {
			t.Fatalf("expected missing header error, got %v", body["error"])
		}
	})

	t.Run("invalid authorization format", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Basic somecreds")
		resp, _ := app.Test(req, 5000)
		body := decodeBody(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		if body["error"] != "invalid authorization format" {
			t.Fatalf("expected invalid format error, got %v", body["error"])
		}
	})

	t.Run("invalid JWT token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer invalid-jwt-token")
		resp, _ := app.Test(req, 5000)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("mfa pending token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+pending)
		resp, _ := app.Test(req, 5000)
		body := decodeBody(t, resp)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", resp.StatusCode)
		}
		if body["error"] != "MFA verification required" {
			t.Fatalf("expected mfa required error, got %v", body["error"])
		}
	})

	t.Run("scheme glued to token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer"+access)
		resp, _ := app.Test(req, 5000)
		body := decodeBody(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		if body["error"] != "invalid authorization format" {
			t.Fatalf("expected invalid format error, got %v", body["error"])
		}
	})

	t.Run("lowercase scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "bearer "+access)
		resp, _ := app.Test(req, 5000)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("valid access token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		resp, _ := app.Test(req, 5000)
		body := decodeBody(t, resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if body["email"] != "auth-require@test.com" {
			t.Fatalf("expected email to be auth-require@test.com, got %v", body["email"])
		}
		if body["user_id"] != user.ID.String() {
			t.Fatalf("expected userID local %s, got %v", user.ID, body["user_id"])
		}
	})

	t.Run("inactive user", func(t *testing.T) {
		if err := s.SetUserActive(context.Background(), user.CompanyID, user.ID, false); err != nil {
			t.Fatalf("failed deactivating user: %v", err)
		}
		defer func() { _ = s.SetUserActive(context.Background(), user.CompanyID, user.ID, true) }()

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		resp, _ := app.Test(req, 5000)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("token for deleted user", func(t *testing.T) {
		ghost := createMiddlewareTestUser(t, s, "ghost@test.com", models.UserRoleUser)
		ghostToken, _ := tokens.IssueAccess(ghost)
		s.DB().Unscoped().Delete(ghost)

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+ghostToken)
		resp, _ := app.Test(req, 5000)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	})
}

func TestRequireRoles(t *testing.T) {
	s, tokens := setupMiddlewareTest(t)
	auth := NewAuthMiddleware(s, tokens)
	admin := createMiddlewareTestUser(t, s, "admin@test.com", models.UserRoleAdmin)
	member := createMiddlewareTestUser(t, s, "member@test.com", models.UserRoleUser)

	app := fiber.New()
	app.Get("/admin", auth.RequireAuth, RequireRoles(models.UserRoleAdmin, models.UserRoleManager), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/nobody", auth.RequireAuth, RequireRoles(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	tests := []struct {
		name string
		path string
		user *models.User
		want int
	}{
		{name: "admin allowed", path: "/admin", user: admin, want: http.StatusNoContent},
		{name: "user forbidden", path: "/admin", user: member, want: http.StatusForbidden},
		{name: "empty role set forbids admin", path: "/nobody", user: admin, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, _ := tokens.IssueAccess(tt.user)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			resp, _ := app.Test(req, 5000)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogger())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(GetRequestID(c))
	})

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), 5000)
	generated := resp.Header.Get("X-Request-ID")
	if generated == "" {
		t.Fatal("expected a generated request id header")
	}
	raw, _ := io.ReadAll(resp.Body)
	if string(raw) != generated {
		t.Fatalf("expected local %q to match header, got %q", generated, string(raw))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	resp, _ = app.Test(req, 5000)
	if got := resp.Header.Get("X-Request-ID"); got != "client-supplied" {
		t.Fatalf("expected client request id to be kept, got %q", got)
	}
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def", "abc.def"},
		{"bearer abc.def", "abc.def"},
		{"BEARER   abc.def  ", "abc.def"},
		{"Bearerabc.def", ""},
		{"Bearer", ""},
		{"Bearer ", ""},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := parseBearer(tt.header); got != tt.want {
				t.Errorf("parseBearer(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

package handlers

import (
	"bytes"
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
	"github.com/voiceagent/backend/internal/mfa"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/notify"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/internal/store"
	"github.com/voiceagent/backend/internal/token"
	"github.com/voiceagent/backend/pkg/utils"
	"gorm.io/gorm"
)

const testPassword = "Password123"

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	store  *store.Store
	auth   *services.AuthService
	audit  *services.AuditService
	tokens *token.Manager
	totp   *mfa.TOTP
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating models: %v", err)
	}

	tokens, err := token.NewManager(token.Config{
		Secret:     "test-secret",
		AccessTTL:  30 * time.Minute,
		MFATTL:     5 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("failed creating token manager: %v", err)
	}

	cipher, err := mfa.NewCipher(mfa.CipherConfig{Secret: "test-secret", Salt: "test-salt", Iterations: 1000})
	if err != nil {
		t.Fatalf("failed creating cipher: %v", err)
	}

	st := store.New(db)
	totpEngine := mfa.NewTOTP(mfa.TOTPConfig{Issuer: "VoiceAgent Platform"})
	auditService := services.NewAuditService(db, nil, 100)
	authService := services.NewAuthService(services.AuthDeps{
		Store:       st,
		Tokens:      tokens,
		Cipher:      cipher,
		TOTP:        totpEngine,
		BackupCodes: mfa.NewBackupCodes(cipher, 10, 8),
		Auditor:     auditService,
		Notifier:    notify.LogNotifier{},
	})

	t.Cleanup(func() {
		authService.Wait()
		auditService.Close()
		_ = sqlDB.Close()
	})

	return &testEnv{
		app:    NewApp(authService, st, "http://localhost:3000"),
		db:     db,
		store:  st,
		auth:   authService,
		audit:  auditService,
		tokens: tokens,
		totp:   totpEngine,
	}
}

func createTestUser(t *testing.T, env *testEnv, email string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	company := &models.Company{Name: "Acme", Domain: "d-" + email, IsActive: true}
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     "Test User",
		Role:         role,
		IsActive:     true,
	}
	if err := env.store.CreateCompanyWithAdmin(context.Background(), company, user); err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	tok, err := env.tokens.IssueAccess(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}
	return user, tok
}

func createColleague(t *testing.T, env *testEnv, of *models.User, email string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}
	user := &models.User{
		CompanyID:    of.CompanyID,
		Email:        email,
		PasswordHash: hash,
		FullName:     "Colleague",
		Role:         role,
		IsActive:     true,
	}
	if err := env.db.Create(user).Error; err != nil {
		t.Fatalf("failed creating colleague: %v", err)
	}

	tok, err := env.tokens.IssueAccess(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}
	return user, tok
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}
	return payload
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d body=%q", expected, resp.StatusCode, string(raw))
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

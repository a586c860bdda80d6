package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voiceagent/backend/internal/config"
	"github.com/voiceagent/backend/internal/database"
	"github.com/voiceagent/backend/internal/mfa"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/store"
)

const (
	testSecret = "old-service-secret"
	testSalt   = "test-salt"
)

// setupCLIEnv points the commands at a fresh SQLite file and returns its path.
func setupCLIEnv(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "auth.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", path)
	t.Setenv("SECRET_KEY", testSecret)
	t.Setenv("MFA_KDF_SALT", testSalt)
	t.Setenv("MINIO_ENDPOINT", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("NEW_SECRET_KEY", "")
	t.Setenv("LOG_LEVEL", "error")
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	flagJSON = false
	flagNewSecret = ""
	flagNewSalt = ""
	flagDryRun = false
	flagListArchives = false
	flagGrace = 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()

	db, err := database.Connect(config.DBConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return store.New(db)
}

func newCipher(t *testing.T, secret string) *mfa.Cipher {
	t.Helper()

	c, err := mfa.NewCipher(mfa.CipherConfig{
		Secret:     secret,
		Salt:       testSalt,
		Iterations: config.DefaultKDFIterations,
	})
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func seedMFAUser(t *testing.T, st *store.Store, c *mfa.Cipher) *models.User {
	t.Helper()

	ctx := context.Background()
	company := &models.Company{Name: "Acme", Domain: "acme.test", IsActive: true}
	user := &models.User{
		Email:        "admin@acme.test",
		PasswordHash: "hash",
		FullName:     "Admin",
		Role:         models.UserRoleAdmin,
		IsActive:     true,
	}
	if err := st.CreateCompanyWithAdmin(ctx, company, user); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	secret, err := c.Encrypt("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("encrypt secret: %v", err)
	}
	codes, err := c.Encrypt(`["AAAA1111","BBBB2222"]`)
	if err != nil {
		t.Fatalf("encrypt codes: %v", err)
	}
	state := store.MFAState{Enabled: true, Secret: secret, BackupCodes: codes}
	if err := st.SaveMFAState(ctx, user.ID, state); err != nil {
		t.Fatalf("save mfa state: %v", err)
	}
	return user
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "authctl "+Version) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestMigrate(t *testing.T) {
	path := setupCLIEnv(t)

	out, err := runCLI(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Schema is up to date (sqlite)") {
		t.Errorf("unexpected output %q", out)
	}

	st := openStore(t, path)
	for _, table := range []interface{}{&models.User{}, &models.RefreshToken{}, &models.AuditLog{}} {
		if !st.DB().Migrator().HasTable(table) {
			t.Errorf("table for %T missing after migrate", table)
		}
	}
}

func TestMigrateJSON(t *testing.T) {
	setupCLIEnv(t)

	out, err := runCLI(t, "migrate", "--json")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, out)
	}
	if result["migrated"] != true || result["driver"] != "sqlite" {
		t.Errorf("unexpected result %v", result)
	}
}

func TestRotateKey(t *testing.T) {
	path := setupCLIEnv(t)
	st := openStore(t, path)
	oldCipher := newCipher(t, testSecret)
	user := seedMFAUser(t, st, oldCipher)

	t.Run("requires new secret", func(t *testing.T) {
		_, err := runCLI(t, "rotate-key")
		if err == nil || !strings.Contains(err.Error(), "--new-secret") {
			t.Fatalf("expected missing secret error, got %v", err)
		}
	})

	t.Run("rejects identical key", func(t *testing.T) {
		_, err := runCLI(t, "rotate-key", "--new-secret", testSecret)
		if err == nil || !strings.Contains(err.Error(), "identical") {
			t.Fatalf("expected identical key error, got %v", err)
		}
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		out, err := runCLI(t, "rotate-key", "--new-secret", "new-service-secret", "--dry-run")
		if err != nil {
			t.Fatalf("rotate-key: %v", err)
		}
		if !strings.Contains(out, "1 user(s) (dry run") {
			t.Errorf("unexpected output %q", out)
		}

		reloaded, err := st.FindUserByID(context.Background(), user.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if _, err := oldCipher.Decrypt(reloaded.MFASecret); err != nil {
			t.Errorf("secret should still open under the old key: %v", err)
		}
	})

	t.Run("re-encrypts under new key", func(t *testing.T) {
		out, err := runCLI(t, "rotate-key", "--new-secret", "new-service-secret")
		if err != nil {
			t.Fatalf("rotate-key: %v", err)
		}
		if !strings.Contains(out, "Re-encrypted MFA data for 1 user(s).") {
			t.Errorf("unexpected output %q", out)
		}

		reloaded, err := st.FindUserByID(context.Background(), user.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		next := newCipher(t, "new-service-secret")
		secret, err := next.Decrypt(reloaded.MFASecret)
		if err != nil {
			t.Fatalf("decrypt secret under new key: %v", err)
		}
		if secret != "JBSWY3DPEHPK3PXP" {
			t.Errorf("secret changed during rotation: %q", secret)
		}
		codes, err := next.Decrypt(reloaded.MFABackupCodes)
		if err != nil {
			t.Fatalf("decrypt codes under new key: %v", err)
		}
		if codes != `["AAAA1111","BBBB2222"]` {
			t.Errorf("backup codes changed during rotation: %q", codes)
		}
		if _, err := oldCipher.Decrypt(reloaded.MFASecret); err == nil {
			t.Error("old key should no longer open the secret")
		}
		if !reloaded.MFAEnabled {
			t.Error("rotation must not disable MFA")
		}
	})

	t.Run("fails atomically with wrong current key", func(t *testing.T) {
		// The rows are now under new-service-secret; the configured key cannot open them.
		_, err := runCLI(t, "rotate-key", "--new-secret", "third-secret")
		if err == nil {
			t.Fatal("expected rotation with the wrong current key to fail")
		}

		reloaded, err := st.FindUserByID(context.Background(), user.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if _, err := newCipher(t, "new-service-secret").Decrypt(reloaded.MFASecret); err != nil {
			t.Errorf("failed rotation must leave rows untouched: %v", err)
		}
	})
}

func TestPruneTokens(t *testing.T) {
	path := setupCLIEnv(t)
	st := openStore(t, path)
	user := seedMFAUser(t, st, newCipher(t, testSecret))
	ctx := context.Background()
	now := time.Now()

	if err := st.CreateRefreshToken(ctx, user.ID, "expired", now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateRefreshToken(ctx, user.ID, "revoked", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := st.RevokeRefreshToken(ctx, "revoked", user.ID); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateRefreshToken(ctx, user.ID, "live", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "prune-tokens")
	if err != nil {
		t.Fatalf("prune-tokens: %v", err)
	}
	if !strings.Contains(out, "Deleted 2 refresh token(s).") {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := st.FindRefreshToken(ctx, "live"); err != nil {
		t.Errorf("live token should survive: %v", err)
	}
	for _, token := range []string{"expired", "revoked"} {
		if _, err := st.FindRefreshToken(ctx, token); err == nil {
			t.Errorf("token %q should have been deleted", token)
		}
	}
}

func TestExportAuditRequiresStorage(t *testing.T) {
	setupCLIEnv(t)

	_, err := runCLI(t, "export-audit")
	if err == nil || !strings.Contains(err.Error(), "MINIO_ENDPOINT") {
		t.Fatalf("expected storage configuration error, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	setupCLIEnv(t)
	t.Setenv("DB_DRIVER", "mysql")

	_, err := runCLI(t, "migrate")
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("expected config error, got %v", err)
	}
}

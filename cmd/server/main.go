package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voiceagent/backend/internal/config"
	"github.com/voiceagent/backend/internal/database"
	"github.com/voiceagent/backend/internal/handlers"
	"github.com/voiceagent/backend/internal/mfa"
	"github.com/voiceagent/backend/internal/notify"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/internal/storage"
	"github.com/voiceagent/backend/internal/store"
	"github.com/voiceagent/backend/internal/token"
	"github.com/voiceagent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.JSON)
	defer logger.Sync()
	if cfg.UsesPlaceholderSecret() {
		logger.Warn("placeholder_secret_key", map[string]interface{}{
			"driver": cfg.DB.Driver,
			"hint":   "set SECRET_KEY before storing real MFA data",
		})
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	st := store.New(db)

	var archiver services.Archiver
	if cfg.MinIO.Enabled() {
		storageClient, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("minio initialization failed: %v", err)
		}
		if err := storageClient.EnsureBucket(context.Background()); err != nil {
			log.Fatalf("failed ensuring minio bucket: %v", err)
		}
		archiver = storageClient
	}

	auditService := services.NewAuditService(db, archiver, cfg.Audit.QueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auditService.StartExporter(ctx, cfg.Audit.ExportInterval)

	var notifier notify.Notifier = notify.LogNotifier{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.NotificationTopic,
			Source:      cfg.Kafka.Source,
			FrontendURL: cfg.Server.FrontendURL,
		})
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	authService, err := newAuthService(cfg, st, auditService, notifier)
	if err != nil {
		log.Fatalf("auth service initialization failed: %v", err)
	}

	app := handlers.NewApp(authService, st, cfg.Server.FrontendURL)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("server_starting", map[string]interface{}{
		"port":          cfg.Server.Port,
		"address":       listenAddr,
		"db_driver":     cfg.DB.Driver,
		"audit_archive": archiver != nil,
		"kafka_enabled": len(cfg.Kafka.Brokers) > 0,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			cancel()
			authService.Wait()
			auditService.Close()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}

func newAuthService(cfg *config.Config, st *store.Store, auditor services.Auditor, notifier notify.Notifier) (*services.AuthService, error) {
	tokens, err := token.NewManager(token.Config{
		Secret:     cfg.JWT.Secret,
		AccessTTL:  cfg.JWT.AccessTTL(),
		MFATTL:     cfg.JWT.MFATTL(),
		RefreshTTL: cfg.JWT.RefreshTTL(),
	})
	if err != nil {
		return nil, err
	}

	cipher, err := mfa.NewCipher(mfa.CipherConfig{
		Secret:     cfg.JWT.Secret,
		Salt:       cfg.MFA.KDFSalt,
		Iterations: cfg.MFA.KDFIterations,
	})
	if err != nil {
		return nil, err
	}

	return services.NewAuthService(services.AuthDeps{
		Store:       st,
		Tokens:      tokens,
		Cipher:      cipher,
		TOTP:        mfa.NewTOTP(mfa.TOTPConfig{Issuer: cfg.MFA.Issuer}),
		BackupCodes: mfa.NewBackupCodes(cipher, cfg.MFA.BackupCodeCount, cfg.MFA.BackupCodeLength),
		Auditor:     auditor,
		Notifier:    notifier,
	}), nil
}

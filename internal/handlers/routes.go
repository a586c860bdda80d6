package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/voiceagent/backend/internal/middleware"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/internal/store"
)

const bodyLimit = 1 * 1024 * 1024

// NewApp builds the fiber app with every route mounted.
func NewApp(auth *services.AuthService, st *store.Store, frontendURL string) *fiber.App {
	app := fiber.New(fiber.Config{BodyLimit: bodyLimit})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(frontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	authHandler := NewAuthHandler(auth)
	mfaHandler := NewMFAHandler(auth)
	usersHandler := NewUsersHandler(auth)
	auditHandler := NewAuditHandler(st)
	authMiddleware := middleware.NewAuthMiddleware(st, auth.Tokens())

	api := app.Group("/api")
	api.Get("/version", GetVersion)

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/verify-mfa", authHandler.VerifyMFA)
	authRoutes.Post("/refresh", authHandler.Refresh)
	authRoutes.Post("/logout", authMiddleware.RequireAuth, authHandler.Logout)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Get("/security-log", authMiddleware.RequireAuth, auditHandler.ExportMyLog)

	mfaRoutes := authRoutes.Group("/mfa", authMiddleware.RequireAuth)
	mfaRoutes.Get("/status", mfaHandler.Status)
	mfaRoutes.Post("/setup", mfaHandler.Setup)
	mfaRoutes.Post("/enable", mfaHandler.Enable)
	mfaRoutes.Post("/disable", mfaHandler.Disable)
	mfaRoutes.Get("/backup-codes", mfaHandler.RegenerateBackupCodes)
	mfaRoutes.Post("/backup-codes", mfaHandler.RegenerateBackupCodes)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth)
	userRoutes.Get("/", middleware.RequireRoles(models.UserRoleAdmin, models.UserRoleManager), usersHandler.List)
	userRoutes.Post("/:id/deactivate", middleware.RequireRoles(models.UserRoleAdmin), usersHandler.Deactivate)
	userRoutes.Post("/:id/activate", middleware.RequireRoles(models.UserRoleAdmin), usersHandler.Activate)

	return app
}

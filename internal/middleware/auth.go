package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/token"
	"github.com/voiceagent/backend/pkg/logger"
	"github.com/voiceagent/backend/pkg/utils"
)

const (
	currentUserKey = "currentUser"
	userIDKey      = "userID"
)

// UserLookup loads the account behind a validated token. *store.Store
// implements it.
type UserLookup interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type AuthMiddleware struct {
	Users  UserLookup
	Tokens *token.Manager
}

func NewAuthMiddleware(users UserLookup, tokens *token.Manager) *AuthMiddleware {
	return &AuthMiddleware{Users: users, Tokens: tokens}
}

func CORS(frontendURL string) fiber.Handler {
	origins := "http://localhost:3000,http://127.0.0.1:3000"
	if frontendURL != "" {
		origins = frontendURL
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
	})
}

// BearerToken returns the token from an "Authorization: Bearer" header, or ""
// when the header is missing or malformed.
func BearerToken(c *fiber.Ctx) string {
	return parseBearer(c.Get("Authorization"))
}

// parseBearer matches the scheme case-insensitively and requires a space
// before the credentials.
func parseBearer(authHeader string) string {
	scheme, credentials, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credentials)
}

// RequireAuth admits only full access tokens for active users. An
// MFA-pending token gets 403 so clients know to finish verification.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		logger.Warn("jwt_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "missing authorization header")
	}

	tokenString := BearerToken(c)
	if tokenString == "" {
		logger.Warn("jwt_invalid_format", map[string]interface{}{
			"ip":          c.IP(),
			"path":        c.Path(),
			"auth_header": authHeader[:min(len(authHeader), 20)] + "...",
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid authorization format")
	}

	claims, err := a.Tokens.Validate(tokenString, token.KindAccess)
	if err != nil {
		if errors.Is(err, token.ErrMFAPending) {
			return utils.Error(c, fiber.StatusForbidden, "MFA verification required")
		}
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Could not validate credentials")
	}

	user, err := a.Users.FindUserByID(c.UserContext(), claims.UserID)
	if err != nil {
		logger.Warn("jwt_user_not_found", map[string]interface{}{
			"ip":      c.IP(),
			"path":    c.Path(),
			"user_id": claims.UserID.String(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "Could not validate credentials")
	}
	if !user.IsActive {
		logger.WarnWithUser(user.ID.String(), "jwt_user_inactive", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.Error(c, fiber.StatusForbidden, "Account is inactive")
	}

	c.Locals(currentUserKey, user)
	c.Locals(userIDKey, user.ID.String())
	return c.Next()
}

// RequireRoles must run after RequireAuth.
func RequireRoles(roles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetCurrentUser(c)
		if user == nil {
			return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
		}
		if !models.Allows(user.Role, roles...) {
			return utils.Error(c, fiber.StatusForbidden, "Insufficient permissions")
		}
		return c.Next()
	}
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

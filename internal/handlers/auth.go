package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/voiceagent/backend/internal/middleware"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/internal/token"
	"github.com/voiceagent/backend/pkg/logger"
	"github.com/voiceagent/backend/pkg/utils"
)

const maxCodeLength = 32

type AuthHandler struct {
	Auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req services.RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	profile, err := h.Auth.Register(c.UserContext(), req, requestMeta(c))
	if err != nil {
		return serviceError(c, "register_failed", err)
	}

	logger.InfoWithUser(profile.ID.String(), "user_registered", map[string]interface{}{
		"company_id": profile.CompanyID.String(),
	})
	return utils.Success(c, fiber.StatusCreated, profile)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	session, err := h.Auth.Login(c.UserContext(), req.Email, req.Password, requestMeta(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
			logger.Warn("login_failed", map[string]interface{}{
				"ip": c.IP(),
			})
		}
		return serviceError(c, "login_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, session)
}

type verifyMFARequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyMFA accepts the pending token as a bearer when the client sends one.
// It must be an MFA-pending token for the same email.
func (h *AuthHandler) VerifyMFA(c *fiber.Ctx) error {
	var req verifyMFARequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Code = strings.TrimSpace(req.Code)
	if strings.TrimSpace(req.Email) == "" || req.Code == "" || len(req.Code) > maxCodeLength {
		return utils.Error(c, fiber.StatusBadRequest, "email and code are required")
	}

	if pending := middleware.BearerToken(c); pending != "" {
		claims, err := h.Auth.Tokens().Validate(pending, token.KindMFAPending)
		if err != nil || !strings.EqualFold(claims.Email, strings.TrimSpace(req.Email)) {
			return utils.Error(c, fiber.StatusUnauthorized, "Invalid MFA session")
		}
	}

	session, err := h.Auth.VerifyMFA(c.UserContext(), req.Email, req.Code, requestMeta(c))
	if err != nil {
		return serviceError(c, "mfa_verify_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, session)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	session, err := h.Auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return serviceError(c, "token_refresh_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, session)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Auth.Logout(c.UserContext(), user, req.RefreshToken, requestMeta(c)); err != nil {
		return serviceError(c, "logout_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "Successfully logged out"})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	profile, err := h.Auth.Me(c.UserContext(), user)
	if err != nil {
		return serviceError(c, "me_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, profile)
}

package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/voiceagent/backend/internal/middleware"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/pkg/logger"
	"github.com/voiceagent/backend/pkg/utils"
)

type MFAHandler struct {
	Auth *services.AuthService
}

func NewMFAHandler(auth *services.AuthService) *MFAHandler {
	return &MFAHandler{Auth: auth}
}

func (h *MFAHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	status, err := h.Auth.MFAStatus(c.UserContext(), user)
	if err != nil {
		return serviceError(c, "mfa_status_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, status)
}

func (h *MFAHandler) Setup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	setup, err := h.Auth.SetupMFA(c.UserContext(), user)
	if err != nil {
		return serviceError(c, "mfa_setup_failed", err)
	}

	logger.InfoWithUser(user.ID.String(), "mfa_setup_started", nil)
	return utils.Success(c, fiber.StatusOK, setup)
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (h *MFAHandler) Enable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req mfaCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	codes, err := h.Auth.EnableMFA(c.UserContext(), user, req.Code, requestMeta(c))
	if err != nil {
		return serviceError(c, "mfa_enable_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, backupCodesResponse{BackupCodes: codes})
}

type disableMFARequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *MFAHandler) Disable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req disableMFARequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "password is required")
	}
	if len(req.Code) > maxCodeLength {
		return utils.Error(c, fiber.StatusBadRequest, "code is too long")
	}

	if err := h.Auth.DisableMFA(c.UserContext(), user, req.Password, strings.TrimSpace(req.Code), requestMeta(c)); err != nil {
		return serviceError(c, "mfa_disable_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "MFA disabled successfully"})
}

// RegenerateBackupCodes is served on both GET and POST; GET is kept for
// clients of the original route.
func (h *MFAHandler) RegenerateBackupCodes(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	codes, err := h.Auth.RegenerateBackupCodes(c.UserContext(), user, requestMeta(c))
	if err != nil {
		return serviceError(c, "backup_codes_regenerate_failed", err)
	}
	return utils.Success(c, fiber.StatusOK, backupCodesResponse{BackupCodes: codes})
}

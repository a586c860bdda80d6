package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/middleware"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/pkg/logger"
	"github.com/voiceagent/backend/pkg/utils"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func requestMeta(c *fiber.Ctx) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
		RequestID: middleware.GetRequestID(c),
	}
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{services.ErrInvalidCredentials, fiber.StatusUnauthorized},
	{services.ErrInvalidMFACode, fiber.StatusUnauthorized},
	{services.ErrInvalidPassword, fiber.StatusUnauthorized},
	{services.ErrInvalidToken, fiber.StatusUnauthorized},
	{services.ErrAccountInactive, fiber.StatusForbidden},
	{services.ErrMFAAlreadyEnabled, fiber.StatusBadRequest},
	{services.ErrMFANotEnabled, fiber.StatusBadRequest},
	{services.ErrSetupNotInitiated, fiber.StatusBadRequest},
	{services.ErrEmailTaken, fiber.StatusBadRequest},
	{services.ErrDomainTaken, fiber.StatusBadRequest},
	{services.ErrCannotDeactivateSelf, fiber.StatusBadRequest},
	{services.ErrUserNotFound, fiber.StatusNotFound},
	{services.ErrBackupCodeContention, fiber.StatusConflict},
}

// serviceError writes the envelope for err. Known sentinels keep their
// message; anything else is logged and reported as a generic 500.
func serviceError(c *fiber.Ctx, action string, err error) error {
	if errors.Is(err, services.ErrInvalidInput) {
		msg := strings.TrimPrefix(err.Error(), services.ErrInvalidInput.Error()+": ")
		return utils.Error(c, fiber.StatusBadRequest, msg)
	}
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return utils.Error(c, e.status, e.err.Error())
		}
	}

	details := map[string]interface{}{"path": c.Path()}
	if userID := logger.GetUserIDFromContext(c); userID != nil {
		logger.ErrorWithUser(*userID, action, err, details)
	} else {
		logger.Error(action, err, details)
	}
	return utils.Error(c, fiber.StatusInternalServerError, "internal server error")
}

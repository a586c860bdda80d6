package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/voiceagent/backend/internal/middleware"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/pkg/utils"
)

type UsersHandler struct {
	Auth *services.AuthService
}

func NewUsersHandler(auth *services.AuthService) *UsersHandler {
	return &UsersHandler{Auth: auth}
}

// List returns users of the caller's company only.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)
	users, total, err := h.Auth.ListCompanyUsers(c.UserContext(), user, p.Page, p.Limit)
	if err != nil {
		return serviceError(c, "users_list_failed", err)
	}
	return utils.Paginated(c, users, p.Page, p.Limit, total)
}

func (h *UsersHandler) Deactivate(c *fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *UsersHandler) Activate(c *fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *UsersHandler) setActive(c *fiber.Ctx, active bool) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	targetID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	if err := h.Auth.SetUserActive(c.UserContext(), user, targetID, active, requestMeta(c)); err != nil {
		return serviceError(c, "user_status_update_failed", err)
	}

	message := "User deactivated successfully"
	if active {
		message = "User activated successfully"
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": message})
}

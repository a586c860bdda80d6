package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/middleware"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/pkg/utils"
)

const maxAuditExportRows = 10000

// AuditLogReader is satisfied by *store.Store.
type AuditLogReader interface {
	ListUserAuditLogs(ctx context.Context, companyID, userID uuid.UUID, limit int) ([]models.AuditLog, error)
}

type AuditHandler struct {
	Logs AuditLogReader
}

func NewAuditHandler(logs AuditLogReader) *AuditHandler {
	return &AuditHandler{Logs: logs}
}

// ExportMyLog downloads the caller's security history as CSV or JSON.
func (h *AuditHandler) ExportMyLog(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	format := strings.ToLower(strings.TrimSpace(c.Query("format", "csv")))
	if format != "csv" && format != "json" {
		return utils.Error(c, fiber.StatusBadRequest, "format must be csv or json")
	}

	logs, err := h.Logs.ListUserAuditLogs(c.UserContext(), currentUser.CompanyID, currentUser.ID, maxAuditExportRows)
	if err != nil {
		return serviceError(c, "audit_export_failed", err)
	}

	if format == "json" {
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "security-log.json"))
		return utils.Success(c, fiber.StatusOK, logs)
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "security-log.csv"))

	writer := csv.NewWriter(c.Response().BodyWriter())
	_ = writer.Write([]string{"Timestamp", "Action", "Resource ID", "IP Address", "User Agent", "Details"})

	for _, entry := range logs {
		resourceID := ""
		if entry.ResourceID != nil {
			resourceID = entry.ResourceID.String()
		}
		_ = writer.Write([]string{
			entry.CreatedAt.Format(time.RFC3339),
			entry.Action,
			resourceID,
			entry.IPAddress,
			entry.UserAgent,
			formatDetails(entry.Details),
		})
	}

	writer.Flush()
	return writer.Error()
}

func formatDetails(details map[string]interface{}) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, "; ")
}

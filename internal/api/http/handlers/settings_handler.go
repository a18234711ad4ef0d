package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-inbox/internal/api/dto"
	"github.com/spec-kit/support-inbox/internal/settings"
	apperrors "github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

// SettingsHandler exposes per-shop automation settings and business hours.
type SettingsHandler struct {
	settings *settings.Service
}

func NewSettingsHandler(svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{settings: svc}
}

// GetAutomation GET /api/settings/automation.
func (h *SettingsHandler) GetAutomation(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	out, err := h.settings.GetAutomation(c.UserContext(), staff.ShopID)
	if err != nil {
		return err
	}
	return ok(c, dto.FromAutomationSettings(out))
}

// UpdateAutomation PUT /api/settings/automation.
func (h *SettingsHandler) UpdateAutomation(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AutomationSettings
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidArgument("invalid payload", nil)
	}
	out, err := h.settings.UpdateAutomation(c.UserContext(), staff.ShopID, req.Domain())
	if err != nil {
		return err
	}
	return ok(c, dto.FromAutomationSettings(out))
}

// GetBusinessHours GET /api/settings/business-hours.
func (h *SettingsHandler) GetBusinessHours(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	out, err := h.settings.GetBusinessHours(c.UserContext(), staff.ShopID)
	if err != nil {
		return err
	}
	return ok(c, dto.FromBusinessHours(out))
}

// UpdateBusinessHours PUT /api/settings/business-hours.
func (h *SettingsHandler) UpdateBusinessHours(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.BusinessHours
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidArgument("invalid payload", nil)
	}
	hours, err := req.Domain()
	if err != nil {
		return err
	}
	out, err := h.settings.UpdateBusinessHours(c.UserContext(), staff.ShopID, hours)
	if err != nil {
		return err
	}
	return ok(c, dto.FromBusinessHours(out))
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-inbox/internal/api/dto"
)

// BulkStatus POST /api/tickets/bulk/status.
func (h *TicketsHandler) BulkStatus(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BulkStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.BulkChangeStatus(c.UserContext(), actor, req.TicketIDs, req.Status)
	if err != nil {
		return err
	}
	return ok(c, result)
}

// BulkClose POST /api/tickets/bulk/close.
func (h *TicketsHandler) BulkClose(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BulkIDs
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.BulkClose(c.UserContext(), actor, req.TicketIDs)
	if err != nil {
		return err
	}
	return ok(c, result)
}

// BulkAssign POST /api/tickets/bulk/assign.
func (h *TicketsHandler) BulkAssign(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BulkAssignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.BulkAssign(c.UserContext(), actor, req.TicketIDs, req.StaffID)
	if err != nil {
		return err
	}
	return ok(c, result)
}

// BulkPriority POST /api/tickets/bulk/priority.
func (h *TicketsHandler) BulkPriority(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BulkPriorityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.BulkChangePriority(c.UserContext(), actor, req.TicketIDs, req.Priority)
	if err != nil {
		return err
	}
	return ok(c, result)
}

// BulkTag POST /api/tickets/bulk/tag.
func (h *TicketsHandler) BulkTag(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.BulkTagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.BulkTag(c.UserContext(), actor, req.TicketIDs, req.Tag, req.Remove)
	if err != nil {
		return err
	}
	return ok(c, result)
}

package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-inbox/internal/api/dto"
	"github.com/spec-kit/support-inbox/internal/service"
	apperrors "github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

// TicketsHandler exposes the staff ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// List GET /api/tickets.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketFilter(c, staff.ID)
	if err != nil {
		return err
	}
	convs, total, err := h.service.List(c.UserContext(), staff.ShopID, filter)
	if err != nil {
		return err
	}
	return ok(c, dto.TicketPage{Items: dto.Tickets(convs), Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// Get GET /api/tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	detail, err := h.service.Detail(c.UserContext(), staff.ShopID, id)
	if err != nil {
		return err
	}
	resp := dto.TicketDetailResponse{
		TicketSummary: dto.Ticket(detail.Ticket),
		Messages:      make([]dto.MessageResponse, 0, len(detail.Messages)),
		Activities:    dto.Activities(detail.Activities),
	}
	for i := range detail.Messages {
		resp.Messages = append(resp.Messages, dto.Message(&detail.Messages[i]))
	}
	return ok(c, resp)
}

// Timeline GET /api/tickets/:id/activities.
func (h *TicketsHandler) Timeline(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	list, total, err := h.service.Timeline(c.UserContext(), staff.ShopID, id, parseIntQuery(c, "limit", 0), parseIntQuery(c, "offset", 0))
	if err != nil {
		return err
	}
	return ok(c, dto.ActivityPage{Items: dto.Activities(list), Total: total})
}

// RecentActivity GET /api/activities/recent.
func (h *TicketsHandler) RecentActivity(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	list, err := h.service.RecentActivity(c.UserContext(), staff.ShopID, parseIntQuery(c, "limit", 0))
	if err != nil {
		return err
	}
	return ok(c, dto.Activities(list))
}

// ChangeStatus PATCH /api/tickets/:id/status.
func (h *TicketsHandler) ChangeStatus(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.StatusChangeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.ChangeStatus(c.UserContext(), actor, id, service.StatusChangeInput{Status: req.Status, Note: req.Note})
	if err != nil {
		return err
	}
	return ok(c, change(result))
}

// Assign PATCH /api/tickets/:id/assign.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.Assign(c.UserContext(), actor, id, service.AssignInput{StaffID: req.StaffID, Note: req.Note})
	if err != nil {
		return err
	}
	return ok(c, change(result))
}

// ChangePriority PATCH /api/tickets/:id/priority.
func (h *TicketsHandler) ChangePriority(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.PriorityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.ChangePriority(c.UserContext(), actor, id, req.Priority)
	if err != nil {
		return err
	}
	return ok(c, change(result))
}

// AddNote POST /api/tickets/:id/notes.
func (h *TicketsHandler) AddNote(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.NoteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	activity, err := h.service.AddNote(c.UserContext(), actor, id, req.Text)
	if err != nil {
		return err
	}
	return created(c, dto.Activity(activity))
}

// AddTag POST /api/tickets/:id/tags.
func (h *TicketsHandler) AddTag(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.TagRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	conv, err := h.service.AddTag(c.UserContext(), actor, id, req.Tag)
	if err != nil {
		return err
	}
	return ok(c, dto.Ticket(conv))
}

// RemoveTag DELETE /api/tickets/:id/tags/:tag.
func (h *TicketsHandler) RemoveTag(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	conv, err := h.service.RemoveTag(c.UserContext(), actor, id, c.Params("tag"))
	if err != nil {
		return err
	}
	return ok(c, dto.Ticket(conv))
}

// Merge POST /api/tickets/:id/merge folds the body's sourceIds into :id.
func (h *TicketsHandler) Merge(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.MergeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.Merge(c.UserContext(), actor, req.SourceIDs, id, req.Note)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{
		"target": dto.Ticket(result.Target),
		"merged": result.Merged,
		"errors": result.Errors,
	})
}

// Reply POST /api/tickets/:id/reply.
func (h *TicketsHandler) Reply(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.ReplyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	conv, err := h.service.Reply(c.UserContext(), actor, id, service.ReplyInput{BodyText: req.BodyText, BodyHTML: req.BodyHTML, Status: req.Status})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "data": dto.Ticket(conv)})
}

// MarkRead POST /api/tickets/:id/read.
func (h *TicketsHandler) MarkRead(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	marked, err := h.service.MarkRead(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{"marked": marked})
}

// LinkOrder PUT /api/tickets/:id/order.
func (h *TicketsHandler) LinkOrder(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.LinkOrderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := h.service.LinkOrder(c.UserContext(), actor, id, req.OrderID)
	if err != nil {
		return err
	}
	return ok(c, change(result))
}

// Draft POST /api/tickets/:id/draft.
func (h *TicketsHandler) Draft(c *fiber.Ctx) error {
	actor, id, err := h.target(c)
	if err != nil {
		return err
	}
	var req dto.DraftRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	draft, err := h.service.GenerateDraft(c.UserContext(), actor, id, req.Instructions)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{"draft": draft})
}

func (h *TicketsHandler) target(c *fiber.Ctx) (service.Actor, int64, error) {
	actor, err := actorFrom(c)
	if err != nil {
		return service.Actor{}, 0, err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return service.Actor{}, 0, err
	}
	return actor, id, nil
}

func change(result *service.ChangeResult) dto.ChangeResponse {
	return dto.ChangeResponse{Ticket: dto.Ticket(result.Ticket), From: result.From, To: result.To}
}

// parseTicketFilter reads list filters. assignedTo accepts a staff id, "me" or "unassigned".
func parseTicketFilter(c *fiber.Ctx, staffID int64) (service.TicketFilter, error) {
	filter := service.TicketFilter{
		Statuses:      parseListQuery(c, "status"),
		Priorities:    parseListQuery(c, "priority"),
		Category:      optionalQuery(c, "category"),
		Tag:           optionalQuery(c, "tag"),
		UnreadOnly:    parseBoolQuery(c, "unread", false),
		IncludeMerged: parseBoolQuery(c, "includeMerged", false),
		Search:        optionalQuery(c, "q"),
		Limit:         parseIntQuery(c, "limit", 0),
		Offset:        parseIntQuery(c, "offset", 0),
	}
	switch raw := c.Query("assignedTo"); raw {
	case "":
	case "me":
		filter.AssignedTo = &staffID
	case "unassigned":
		filter.Unassigned = true
	default:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, apperrors.NewInvalidArgument("invalid assignedTo", map[string]any{"assignedTo": raw})
		}
		filter.AssignedTo = &id
	}
	if raw := c.Query("escalated"); raw != "" {
		escalated := parseBoolQuery(c, "escalated", false)
		filter.Escalated = &escalated
	}
	return filter, nil
}

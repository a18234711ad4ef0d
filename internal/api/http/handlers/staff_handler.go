package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-inbox/internal/api/dto"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/service"
	apperrors "github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

// StaffHandler exposes staff/auth endpoints.
type StaffHandler struct {
	authService  *service.AuthService
	staffService *service.StaffService
}

// NewStaffHandler constructs handler.
func NewStaffHandler(authService *service.AuthService, staffService *service.StaffService) *StaffHandler {
	return &StaffHandler{authService: authService, staffService: staffService}
}

// Login handles POST /auth/staff/login.
func (h *StaffHandler) Login(c *fiber.Ctx) error {
	var req dto.StaffLoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	staff, token, exp, err := h.authService.LoginStaff(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{
		"staff": dto.Staff(staff),
		"auth":  dto.AuthResponse{Token: token, ExpiresAt: exp},
	})
}

// Me handles GET /api/staff/me.
func (h *StaffHandler) Me(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	return ok(c, dto.Staff(staff))
}

// ChangePassword handles POST /api/staff/me/password.
func (h *StaffHandler) ChangePassword(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.PasswordChangeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.authService.ChangePassword(c.UserContext(), staff.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return ok(c, fiber.Map{"status": "password_changed"})
}

// CreateStaff handles POST /api/staff.
func (h *StaffHandler) CreateStaff(c *fiber.Ctx) error {
	admin, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.StaffCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidArgument("invalid payload", nil)
	}
	if req.Role == "" {
		req.Role = domain.StaffRoleAgent
	}
	staff, err := h.staffService.CreateStaffMember(c.UserContext(), admin, service.StaffCreateInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		return err
	}
	return created(c, dto.Staff(staff))
}

// ListStaff handles GET /api/staff.
func (h *StaffHandler) ListStaff(c *fiber.Ctx) error {
	actor, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	list, err := h.staffService.ListStaffMembers(c.UserContext(), actor, parseStaffListFilters(c))
	if err != nil {
		return err
	}
	resp := make([]dto.StaffResponse, 0, len(list))
	for i := range list {
		resp = append(resp, dto.Staff(&list[i]))
	}
	return ok(c, resp)
}

// GetStaff handles GET /api/staff/:id.
func (h *StaffHandler) GetStaff(c *fiber.Ctx) error {
	actor, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	staff, err := h.staffService.GetStaffMemberByID(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return ok(c, dto.Staff(staff))
}

// Deactivate handles POST /api/staff/:id/deactivate.
func (h *StaffHandler) Deactivate(c *fiber.Ctx) error {
	return h.setActive(c, false)
}

// Reactivate handles POST /api/staff/:id/reactivate.
func (h *StaffHandler) Reactivate(c *fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *StaffHandler) setActive(c *fiber.Ctx, active bool) error {
	admin, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var staff *domain.StaffMember
	if active {
		staff, err = h.staffService.Reactivate(c.UserContext(), admin, id)
	} else {
		staff, err = h.staffService.Deactivate(c.UserContext(), admin, id)
	}
	if err != nil {
		return err
	}
	return ok(c, dto.Staff(staff))
}

func parseStaffListFilters(c *fiber.Ctx) service.StaffListFilters {
	var filters service.StaffListFilters
	if raw := c.Query("role"); raw != "" {
		role := domain.StaffRole(raw)
		filters.Role = &role
	}
	if raw := c.Query("active"); raw != "" {
		active := parseBoolQuery(c, "active", true)
		filters.Active = &active
	}
	return filters
}

package dto

import (
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// StaffLoginRequest payload.
type StaffLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// PasswordChangeRequest payload for authenticated password changes.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

// StaffCreateRequest payload.
type StaffCreateRequest struct {
	Name     string           `json:"name"`
	Email    string           `json:"email"`
	Password string           `json:"password"`
	Role     domain.StaffRole `json:"role"`
}

// AuthResponse includes a token and expiry.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StaffResponse exposes a staff member without credentials.
type StaffResponse struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	Email           string           `json:"email"`
	Role            domain.StaffRole `json:"role"`
	IsShopOwner     bool             `json:"isShopOwner"`
	IsActive        bool             `json:"isActive"`
	TicketsAssigned int              `json:"ticketsAssigned"`
	TicketsResolved int              `json:"ticketsResolved"`
	RepliesSent     int              `json:"repliesSent"`
	LastActiveAt    *time.Time       `json:"lastActiveAt"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Staff maps a staff member.
func Staff(s *domain.StaffMember) StaffResponse {
	return StaffResponse{
		ID:              s.ID,
		Name:            s.Name,
		Email:           s.Email,
		Role:            s.Role,
		IsShopOwner:     s.IsShopOwner,
		IsActive:        s.IsActive,
		TicketsAssigned: s.TicketsAssigned,
		TicketsResolved: s.TicketsResolved,
		RepliesSent:     s.RepliesSent,
		LastActiveAt:    s.LastActiveAt,
		CreatedAt:       s.CreatedAt,
	}
}

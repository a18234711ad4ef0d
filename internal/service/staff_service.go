package service

import (
	"context"
	"errors"
	"strings"

	"github.com/spec-kit/support-inbox/internal/auth"
	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
	apperrors "github.com/spec-kit/support-inbox/pkg/util/errorutil"
	"github.com/spec-kit/support-inbox/pkg/util/validation"
)

// StaffService manages staff accounts. Staff are deactivated, never deleted.
type StaffService struct {
	staff      repository.StaffRepository
	bcryptCost int
}

// StaffListFilters define listing parameters.
type StaffListFilters struct {
	Role   *domain.StaffRole
	Active *bool
}

// StaffCreateInput describes a new staff account.
type StaffCreateInput struct {
	Name        string           `validate:"required,max=120"`
	Email       string           `validate:"required,email,max=254"`
	Password    string           `validate:"required,min=8,max=72"`
	Role        domain.StaffRole `validate:"required,oneof=agent admin"`
	IsShopOwner bool
}

// NewStaffService constructs the service.
func NewStaffService(cfg config.Config, store repository.Store) *StaffService {
	return &StaffService{
		staff:      store.Staff(),
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

func requireAdmin(actor *domain.StaffMember) error {
	if actor == nil || actor.Role != domain.StaffRoleAdmin {
		return apperrors.NewForbidden("admin role required")
	}
	return nil
}

// CreateStaffMember adds a staff account to the actor's shop.
func (s *StaffService) CreateStaffMember(ctx context.Context, actor *domain.StaffMember, input StaffCreateInput) (*domain.StaffMember, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if existing, err := s.staff.GetByEmail(ctx, input.Email); err == nil && existing != nil {
		return nil, apperrors.NewConflict("staff email already exists", map[string]any{"email": input.Email})
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.MapError(err)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	staff := &domain.StaffMember{
		ShopID:       actor.ShopID,
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hash,
		Role:         input.Role,
		IsShopOwner:  input.IsShopOwner,
		IsActive:     true,
	}
	if err := s.staff.Create(ctx, staff); err != nil {
		return nil, apperrors.MapError(err)
	}
	return staff, nil
}

// ListStaffMembers lists the actor's shop staff.
func (s *StaffService) ListStaffMembers(ctx context.Context, actor *domain.StaffMember, filters StaffListFilters) ([]domain.StaffMember, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	return s.staff.List(ctx, repository.StaffFilter{
		ShopID: actor.ShopID,
		Role:   filters.Role,
		Active: filters.Active,
	})
}

// GetStaffMemberByID fetches a staff member of the actor's shop.
func (s *StaffService) GetStaffMemberByID(ctx context.Context, actor *domain.StaffMember, id int64) (*domain.StaffMember, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	staff, err := s.staff.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && staff.ShopID != actor.ShopID) {
		return nil, apperrors.NewNotFound("Staff member", map[string]any{"staffId": id})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return staff, nil
}

// Deactivate disables a staff account. The shop owner cannot be deactivated.
func (s *StaffService) Deactivate(ctx context.Context, actor *domain.StaffMember, id int64) (*domain.StaffMember, error) {
	return s.setActive(ctx, actor, id, false)
}

// Reactivate re-enables a staff account.
func (s *StaffService) Reactivate(ctx context.Context, actor *domain.StaffMember, id int64) (*domain.StaffMember, error) {
	return s.setActive(ctx, actor, id, true)
}

func (s *StaffService) setActive(ctx context.Context, actor *domain.StaffMember, id int64, active bool) (*domain.StaffMember, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	staff, err := s.GetStaffMemberByID(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !active && staff.IsShopOwner {
		return nil, apperrors.NewConflict("Cannot deactivate the shop owner", map[string]any{"staffId": id})
	}
	if staff.IsActive == active {
		return nil, apperrors.NewUnchanged("Staff member already in requested state", map[string]any{"isActive": active})
	}
	if err := s.staff.SetActive(ctx, id, active); err != nil {
		return nil, apperrors.MapError(err)
	}
	staff.IsActive = active
	return staff, nil
}

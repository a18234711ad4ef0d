package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/support-inbox/internal/auth"
	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository/memory"
	"github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

func testConfig() config.Config {
	return config.Config{Auth: config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 30,
		BcryptCost:            bcrypt.MinCost,
	}}
}

type staffFixture struct {
	store *memory.Store
	svc   *StaffService
	auth  *AuthService
	admin *domain.StaffMember
}

func newStaffFixture(t *testing.T) *staffFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	shop := domain.Shop{Name: "Acme"}
	require.NoError(t, store.Shops().Create(ctx, &shop))

	hash, err := auth.HashPassword("owner-pass", bcrypt.MinCost)
	require.NoError(t, err)
	admin := &domain.StaffMember{
		ShopID:       shop.ID,
		Name:         "Olivia Owner",
		Email:        "owner@shop.com",
		PasswordHash: hash,
		Role:         domain.StaffRoleAdmin,
		IsShopOwner:  true,
		IsActive:     true,
	}
	require.NoError(t, store.Staff().Create(ctx, admin))

	return &staffFixture{
		store: store,
		svc:   NewStaffService(testConfig(), store),
		auth:  NewAuthService(testConfig(), store),
		admin: admin,
	}
}

func TestCreateStaffMember(t *testing.T) {
	f := newStaffFixture(t)
	ctx := context.Background()

	staff, err := f.svc.CreateStaffMember(ctx, f.admin, StaffCreateInput{
		Name:     " Jane Agent ",
		Email:    "Jane@Shop.com",
		Password: "correct-horse",
		Role:     domain.StaffRoleAgent,
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Agent", staff.Name)
	assert.Equal(t, "jane@shop.com", staff.Email)
	assert.Equal(t, f.admin.ShopID, staff.ShopID)
	assert.True(t, staff.IsActive)
	assert.NoError(t, auth.ComparePassword(staff.PasswordHash, "correct-horse"))

	_, err = f.svc.CreateStaffMember(ctx, f.admin, StaffCreateInput{
		Name: "Dup", Email: "jane@shop.com", Password: "whatever1", Role: domain.StaffRoleAgent,
	})
	assert.True(t, errorutil.IsCode(err, errorutil.CodeConflict))
}

func TestCreateStaffMemberValidation(t *testing.T) {
	f := newStaffFixture(t)

	_, err := f.svc.CreateStaffMember(context.Background(), f.admin, StaffCreateInput{
		Name: "X", Email: "not-an-email", Password: "short", Role: "owner",
	})
	require.Error(t, err)
	de := errorutil.ToDomainError(err)
	assert.Equal(t, errorutil.CodeInvalidArgument, de.Code)
	assert.Contains(t, de.Details, "email")
	assert.Contains(t, de.Details, "password")
	assert.Contains(t, de.Details, "role")
}

func TestCreateStaffMemberRequiresAdmin(t *testing.T) {
	f := newStaffFixture(t)
	agent := *f.admin
	agent.Role = domain.StaffRoleAgent

	_, err := f.svc.CreateStaffMember(context.Background(), &agent, StaffCreateInput{
		Name: "New", Email: "new@shop.com", Password: "password1", Role: domain.StaffRoleAgent,
	})
	assert.True(t, errorutil.IsCode(err, errorutil.CodeForbidden))
}

func TestDeactivateAndReactivate(t *testing.T) {
	f := newStaffFixture(t)
	ctx := context.Background()
	staff, err := f.svc.CreateStaffMember(ctx, f.admin, StaffCreateInput{
		Name: "Jane", Email: "jane@shop.com", Password: "password1", Role: domain.StaffRoleAgent,
	})
	require.NoError(t, err)

	updated, err := f.svc.Deactivate(ctx, f.admin, staff.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	_, err = f.svc.Deactivate(ctx, f.admin, staff.ID)
	assert.True(t, errorutil.IsCode(err, errorutil.CodeUnchanged))

	inactive := false
	list, err := f.svc.ListStaffMembers(ctx, f.admin, StaffListFilters{Active: &inactive})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, staff.ID, list[0].ID)

	updated, err = f.svc.Reactivate(ctx, f.admin, staff.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsActive)

	_, err = f.svc.Deactivate(ctx, f.admin, f.admin.ID)
	assert.True(t, errorutil.IsCode(err, errorutil.CodeConflict))
}

func TestGetStaffMemberHidesOtherShops(t *testing.T) {
	f := newStaffFixture(t)
	ctx := context.Background()
	other := domain.Shop{Name: "Other"}
	require.NoError(t, f.store.Shops().Create(ctx, &other))
	stranger := &domain.StaffMember{ShopID: other.ID, Name: "S", Email: "s@other.com", Role: domain.StaffRoleAgent, IsActive: true}
	require.NoError(t, f.store.Staff().Create(ctx, stranger))

	_, err := f.svc.GetStaffMemberByID(ctx, f.admin, stranger.ID)
	require.Error(t, err)
	assert.Equal(t, "Staff member not found", errorutil.ToDomainError(err).Message)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

func TestLoginStaff(t *testing.T) {
	f := newStaffFixture(t)
	ctx := context.Background()

	staff, token, exp, err := f.auth.LoginStaff(ctx, "OWNER@shop.com ", "owner-pass")
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, staff.ID)
	assert.NotEmpty(t, token)
	assert.False(t, exp.IsZero())

	claims, err := f.auth.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, f.admin.ID, claims.StaffID)
	assert.Equal(t, f.admin.ShopID, claims.ShopID)
	assert.Equal(t, f.admin.Role, claims.Role)

	reloaded, err := f.store.Staff().GetByID(ctx, f.admin.ID)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.LastActiveAt)
}

func TestLoginStaffRejectsBadCredentials(t *testing.T) {
	f := newStaffFixture(t)
	ctx := context.Background()

	_, _, _, err := f.auth.LoginStaff(ctx, "owner@shop.com", "wrong")
	assert.True(t, errorutil.IsCode(err, errorutil.CodeUnauthorized))

	_, _, _, err = f.auth.LoginStaff(ctx, "nobody@shop.com", "owner-pass")
	assert.True(t, errorutil.IsCode(err, errorutil.CodeUnauthorized))

	require.NoError(t, f.store.Staff().SetActive(ctx, f.admin.ID, false))
	_, _, _, err = f.auth.LoginStaff(ctx, "owner@shop.com", "owner-pass")
	assert.True(t, errorutil.IsCode(err, errorutil.CodeUnauthorized))
}

func TestChangePassword(t *testing.T) {
	f := newStaffFixture(t)
	ctx := context.Background()

	err := f.auth.ChangePassword(ctx, f.admin.ID, "wrong", "new-password")
	assert.True(t, errorutil.IsCode(err, errorutil.CodeUnauthorized))

	err = f.auth.ChangePassword(ctx, f.admin.ID, "owner-pass", "short")
	assert.True(t, errorutil.IsCode(err, errorutil.CodeInvalidArgument))

	require.NoError(t, f.auth.ChangePassword(ctx, f.admin.ID, "owner-pass", "new-password"))
	_, _, _, err = f.auth.LoginStaff(ctx, "owner@shop.com", "new-password")
	assert.NoError(t, err)
}

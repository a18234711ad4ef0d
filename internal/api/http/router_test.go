package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/api/http/handlers"
	"github.com/spec-kit/support-inbox/internal/auth"
	"github.com/spec-kit/support-inbox/internal/automation"
	"github.com/spec-kit/support-inbox/internal/autotag"
	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/observability"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/internal/repository/memory"
	"github.com/spec-kit/support-inbox/internal/service"
	"github.com/spec-kit/support-inbox/internal/settings"
)

type fakeRunner struct {
	calls []domain.JobName
	err   error
}

func (r *fakeRunner) RunJob(_ context.Context, job domain.JobName, shopID *int64) (automation.Summary, error) {
	r.calls = append(r.calls, job)
	return automation.Summary{Job: job, Shops: 1}, r.err
}

type fakeRetagger struct{}

func (fakeRetagger) BulkReclassify(context.Context, repository.Store, int64) (autotag.BulkResult, error) {
	return autotag.BulkResult{}, nil
}

type apiFixture struct {
	app    *fiber.App
	store  *memory.Store
	runner *fakeRunner
	shop   domain.Shop
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	cfg := config.Config{Auth: config.AuthConfig{JWTSecret: "router-secret", AccessTokenTTLMinutes: 30, BcryptCost: bcrypt.MinCost}}
	f := &apiFixture{store: memory.New(), runner: &fakeRunner{}}

	f.shop = domain.Shop{Name: "Acme", Mailboxes: []domain.ShopMailbox{{Address: "support@shop.com", Account: "support", Category: "support"}}}
	require.NoError(t, f.store.Shops().Create(ctx, &f.shop))
	f.addStaff(t, "admin@shop.com", domain.StaffRoleAdmin)
	f.addStaff(t, "agent@shop.com", domain.StaffRoleAgent)

	authService := service.NewAuthService(cfg, f.store)
	tickets := service.NewTicketService(service.TicketDependencies{
		Store:      f.store,
		Activities: activitylog.New(nil, zap.NewNop(), nil),
		Logger:     zap.NewNop(),
	})

	f.app = fiber.New(fiber.Config{UnescapePath: true})
	RegisterMiddlewares(f.app, zap.NewNop(), observability.NewMetrics(prometheus.NewRegistry()), time.Second)
	RegisterRoutes(f.app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-inbox", "test", nil, nil),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Staff:          handlers.NewStaffHandler(authService, service.NewStaffService(cfg, f.store)),
		Automation:     handlers.NewAutomationHandler(f.runner, fakeRetagger{}, f.store),
		Settings:       handlers.NewSettingsHandler(settings.NewService(f.store, zap.NewNop(), nil)),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), f.store.Staff()),
	})
	return f
}

func (f *apiFixture) addStaff(t *testing.T, email string, role domain.StaffRole) {
	t.Helper()
	hash, err := auth.HashPassword("password-1", bcrypt.MinCost)
	require.NoError(t, err)
	member := &domain.StaffMember{ShopID: f.shop.ID, Name: email, Email: email, PasswordHash: hash, Role: role, IsActive: true}
	require.NoError(t, f.store.Staff().Create(context.Background(), member))
}

func (f *apiFixture) seedTicket(t *testing.T) *domain.Conversation {
	t.Helper()
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ShopID:        f.shop.ID,
		ThreadID:      "thread-1",
		Subject:       "Where is my order",
		Mailbox:       "support@shop.com",
		CustomerEmail: "cust@x.com",
		Status:        domain.StatusOpen,
		Priority:      domain.PriorityNormal,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	require.NoError(t, f.store.Conversations().Create(context.Background(), conv))
	return conv
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *apiFixture) login(t *testing.T, email string) string {
	t.Helper()
	status, out := f.do(t, fiber.MethodPost, "/auth/staff/login", "", map[string]string{"email": email, "password": "password-1"})
	require.Equal(t, fiber.StatusOK, status, out)
	data := out["data"].(map[string]any)
	return data["auth"].(map[string]any)["token"].(string)
}

func TestHealthLive(t *testing.T) {
	f := newAPIFixture(t)
	status, out := f.do(t, fiber.MethodGet, "/health/live", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", out["status"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	status, out := f.do(t, fiber.MethodGet, "/api/tickets", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "UNAUTHORIZED", out["error"])
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	f := newAPIFixture(t)
	status, out := f.do(t, fiber.MethodGet, "/nope", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", out["error"])
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newAPIFixture(t)
	status, out := f.do(t, fiber.MethodPost, "/auth/staff/login", "", map[string]string{"email": "agent@shop.com", "password": "wrong-pass"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", out["error"])
}

func TestTicketStatusFlow(t *testing.T) {
	f := newAPIFixture(t)
	conv := f.seedTicket(t)
	token := f.login(t, "agent@shop.com")

	status, out := f.do(t, fiber.MethodGet, "/api/tickets", token, nil)
	require.Equal(t, fiber.StatusOK, status, out)
	page := out["data"].(map[string]any)
	assert.EqualValues(t, 1, page["total"])

	path := fmt.Sprintf("/api/tickets/%d/status", conv.ID)
	status, out = f.do(t, fiber.MethodPatch, path, token, map[string]string{"status": "resolved"})
	require.Equal(t, fiber.StatusOK, status, out)
	change := out["data"].(map[string]any)
	assert.Equal(t, "open", change["from"])
	assert.Equal(t, "resolved", change["to"])

	status, out = f.do(t, fiber.MethodPatch, path, token, map[string]string{"status": "resolved"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "UNCHANGED", out["error"])

	status, out = f.do(t, fiber.MethodPatch, path, token, map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ARGUMENT", out["error"])
}

func TestAutomationRunIsAdminOnly(t *testing.T) {
	f := newAPIFixture(t)
	agent := f.login(t, "agent@shop.com")
	admin := f.login(t, "admin@shop.com")

	status, out := f.do(t, fiber.MethodPost, "/api/automation/reminders/run", agent, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", out["error"])

	status, out = f.do(t, fiber.MethodPost, "/api/automation/auto-close/run", admin, nil)
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, []domain.JobName{domain.JobAutoClose}, f.runner.calls)

	status, _ = f.do(t, fiber.MethodPost, "/api/automation/bogus/run", admin, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	f.runner.err = automation.ErrJobRunning
	status, out = f.do(t, fiber.MethodPost, "/api/automation/sla/run", admin, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", out["error"])
}

func TestStaffMe(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "agent@shop.com")
	status, out := f.do(t, fiber.MethodGet, "/api/staff/me", token, nil)
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, "agent@shop.com", out["data"].(map[string]any)["email"])
}

package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-inbox/internal/automation"
	"github.com/spec-kit/support-inbox/internal/autotag"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
	apperrors "github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

// JobRunner runs one automation job synchronously.
type JobRunner interface {
	RunJob(ctx context.Context, job domain.JobName, shopID *int64) (automation.Summary, error)
}

// Reclassifier re-runs customer classification over a shop's open tickets.
type Reclassifier interface {
	BulkReclassify(ctx context.Context, store repository.Store, shopID int64) (autotag.BulkResult, error)
}

// AutomationHandler triggers automation jobs on demand for the caller's shop.
type AutomationHandler struct {
	runner   JobRunner
	retagger Reclassifier
	store    repository.Store
}

func NewAutomationHandler(runner JobRunner, retagger Reclassifier, store repository.Store) *AutomationHandler {
	return &AutomationHandler{runner: runner, retagger: retagger, store: store}
}

var jobsByPath = map[string]domain.JobName{
	"inbox-poll": domain.JobInboxPoll,
	"reminders":  domain.JobReminders,
	"auto-close": domain.JobAutoClose,
	"escalation": domain.JobEscalation,
	"sla":        domain.JobSLA,
}

// Run POST /api/automation/:job/run.
func (h *AutomationHandler) Run(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	job, known := jobsByPath[c.Params("job")]
	if !known {
		return apperrors.NewNotFound("Job", map[string]any{"job": c.Params("job")})
	}
	shopID := staff.ShopID
	summary, err := h.runner.RunJob(c.UserContext(), job, &shopID)
	if errors.Is(err, automation.ErrJobRunning) {
		return apperrors.NewConflict("Job is already running", map[string]any{"job": string(job)})
	}
	if err != nil {
		return err
	}
	return ok(c, summary)
}

// Retag POST /api/customers/retag.
func (h *AutomationHandler) Retag(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	result, err := h.retagger.BulkReclassify(c.UserContext(), h.store, staff.ShopID)
	if err != nil {
		return apperrors.MapError(err)
	}
	return ok(c, result)
}

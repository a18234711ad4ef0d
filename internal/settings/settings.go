// Package settings reads and updates per-shop automation settings and
// business hours, falling back to defaults when a shop has none stored.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/pkg/util/errorutil"
	"github.com/spec-kit/support-inbox/pkg/util/validation"
)

// Automation returns the stored settings for shopID or the defaults.
func Automation(ctx context.Context, store repository.Store, shopID int64) (domain.AutomationSettings, error) {
	stored, err := store.Settings().GetAutomation(ctx, shopID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.DefaultAutomationSettings(shopID), nil
	}
	if err != nil {
		return domain.AutomationSettings{}, fmt.Errorf("load automation settings for shop %d: %w", shopID, err)
	}
	return *stored, nil
}

// BusinessHours returns the stored weekly schedule for shopID or the defaults.
func BusinessHours(ctx context.Context, store repository.Store, shopID int64) (domain.BusinessHours, error) {
	stored, err := store.Settings().GetBusinessHours(ctx, shopID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.DefaultBusinessHours(shopID), nil
	}
	if err != nil {
		return domain.BusinessHours{}, fmt.Errorf("load business hours for shop %d: %w", shopID, err)
	}
	return *stored, nil
}

// Service exposes settings to the API.
type Service struct {
	store  repository.Store
	logger *zap.Logger
	clock  func() time.Time
}

func NewService(store repository.Store, logger *zap.Logger, clock func() time.Time) *Service {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: store, logger: logger, clock: clock}
}

func (s *Service) GetAutomation(ctx context.Context, shopID int64) (domain.AutomationSettings, error) {
	out, err := Automation(ctx, s.store, shopID)
	return out, errorutil.MapError(err)
}

// UpdateAutomation validates and stores the settings for shopID.
func (s *Service) UpdateAutomation(ctx context.Context, shopID int64, in domain.AutomationSettings) (domain.AutomationSettings, error) {
	in.ShopID = shopID
	if err := validation.Struct(in); err != nil {
		return domain.AutomationSettings{}, err
	}
	if in.RemindersEnabled && len(in.ReminderTemplates) < in.MaxReminders {
		s.logger.Warn("fewer reminder templates than max reminders; missing ordinals are skipped",
			zap.Int64("shop_id", shopID),
			zap.Int("templates", len(in.ReminderTemplates)),
			zap.Int("max_reminders", in.MaxReminders),
		)
	}
	in.UpdatedAt = s.clock()
	if err := s.store.Settings().SaveAutomation(ctx, &in); err != nil {
		return domain.AutomationSettings{}, errorutil.MapError(err)
	}
	return in, nil
}

func (s *Service) GetBusinessHours(ctx context.Context, shopID int64) (domain.BusinessHours, error) {
	out, err := BusinessHours(ctx, s.store, shopID)
	return out, errorutil.MapError(err)
}

// UpdateBusinessHours replaces the weekly schedule. Each weekday may appear once
// and open days must close after they open.
func (s *Service) UpdateBusinessHours(ctx context.Context, shopID int64, in domain.BusinessHours) (domain.BusinessHours, error) {
	in.ShopID = shopID
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}
	if err := validation.Struct(in); err != nil {
		return domain.BusinessHours{}, err
	}
	seen := make(map[time.Weekday]bool, len(in.Days))
	for _, day := range in.Days {
		if seen[day.Weekday] {
			return domain.BusinessHours{}, errorutil.NewInvalidArgument("duplicate weekday", map[string]any{"weekday": day.Weekday.String()})
		}
		seen[day.Weekday] = true
		if !day.Closed && day.CloseMinute <= day.OpenMinute {
			return domain.BusinessHours{}, errorutil.NewInvalidArgument("closing time must be after opening time", map[string]any{"weekday": day.Weekday.String()})
		}
	}
	if err := s.store.Settings().SaveBusinessHours(ctx, &in); err != nil {
		return domain.BusinessHours{}, errorutil.MapError(err)
	}
	return in, nil
}

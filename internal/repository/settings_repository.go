package repository

import (
	"context"
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// SettingsRepository persists per-shop automation settings and business hours.
// Getters return ErrNotFound when the shop has no stored row.
type SettingsRepository interface {
	GetAutomation(ctx context.Context, shopID int64) (*domain.AutomationSettings, error)
	SaveAutomation(ctx context.Context, settings *domain.AutomationSettings) error
	GetBusinessHours(ctx context.Context, shopID int64) (*domain.BusinessHours, error)
	SaveBusinessHours(ctx context.Context, hours *domain.BusinessHours) error
}

type settingsRepository struct {
	db DBTX
}

func (r *settingsRepository) GetAutomation(ctx context.Context, shopID int64) (*domain.AutomationSettings, error) {
	const query = `
        SELECT shop_id, auto_response_enabled, auto_response_business_hours, auto_response_after_hours,
               reminders_enabled, max_reminders, reminder_interval_hours, reminder_templates,
               auto_close_enabled, auto_close_after_hours, close_notice_subject, close_notice_body,
               escalation_enabled, escalation_after_hours, escalation_notify_staff,
               sla_first_response_hours, sla_resolution_hours, auto_tag_enabled, updated_at
        FROM ticket_automation_settings WHERE shop_id=$1`
	var s domain.AutomationSettings
	if err := r.db.QueryRow(ctx, query, shopID).Scan(
		&s.ShopID,
		&s.AutoResponseEnabled,
		&s.AutoResponseBusinessHours,
		&s.AutoResponseAfterHours,
		&s.RemindersEnabled,
		&s.MaxReminders,
		&s.ReminderInterval,
		&s.ReminderTemplates,
		&s.AutoCloseEnabled,
		&s.AutoCloseAfter,
		&s.CloseNoticeSubject,
		&s.CloseNoticeBody,
		&s.EscalationEnabled,
		&s.EscalationAfter,
		&s.EscalationNotifyStaff,
		&s.SLAFirstResponseHours,
		&s.SLAResolutionHours,
		&s.AutoTagEnabled,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepository) SaveAutomation(ctx context.Context, s *domain.AutomationSettings) error {
	const query = `
        INSERT INTO ticket_automation_settings (shop_id, auto_response_enabled, auto_response_business_hours,
            auto_response_after_hours, reminders_enabled, max_reminders, reminder_interval_hours, reminder_templates,
            auto_close_enabled, auto_close_after_hours, close_notice_subject, close_notice_body,
            escalation_enabled, escalation_after_hours, escalation_notify_staff,
            sla_first_response_hours, sla_resolution_hours, auto_tag_enabled, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (shop_id) DO UPDATE SET
            auto_response_enabled=EXCLUDED.auto_response_enabled,
            auto_response_business_hours=EXCLUDED.auto_response_business_hours,
            auto_response_after_hours=EXCLUDED.auto_response_after_hours,
            reminders_enabled=EXCLUDED.reminders_enabled,
            max_reminders=EXCLUDED.max_reminders,
            reminder_interval_hours=EXCLUDED.reminder_interval_hours,
            reminder_templates=EXCLUDED.reminder_templates,
            auto_close_enabled=EXCLUDED.auto_close_enabled,
            auto_close_after_hours=EXCLUDED.auto_close_after_hours,
            close_notice_subject=EXCLUDED.close_notice_subject,
            close_notice_body=EXCLUDED.close_notice_body,
            escalation_enabled=EXCLUDED.escalation_enabled,
            escalation_after_hours=EXCLUDED.escalation_after_hours,
            escalation_notify_staff=EXCLUDED.escalation_notify_staff,
            sla_first_response_hours=EXCLUDED.sla_first_response_hours,
            sla_resolution_hours=EXCLUDED.sla_resolution_hours,
            auto_tag_enabled=EXCLUDED.auto_tag_enabled,
            updated_at=EXCLUDED.updated_at`
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	templates := s.ReminderTemplates
	if templates == nil {
		templates = []string{}
	}
	_, err := r.db.Exec(ctx, query,
		s.ShopID,
		s.AutoResponseEnabled,
		s.AutoResponseBusinessHours,
		s.AutoResponseAfterHours,
		s.RemindersEnabled,
		s.MaxReminders,
		s.ReminderInterval,
		templates,
		s.AutoCloseEnabled,
		s.AutoCloseAfter,
		s.CloseNoticeSubject,
		s.CloseNoticeBody,
		s.EscalationEnabled,
		s.EscalationAfter,
		s.EscalationNotifyStaff,
		s.SLAFirstResponseHours,
		s.SLAResolutionHours,
		s.AutoTagEnabled,
		s.UpdatedAt,
	)
	return err
}

func (r *settingsRepository) GetBusinessHours(ctx context.Context, shopID int64) (*domain.BusinessHours, error) {
	hours := domain.BusinessHours{ShopID: shopID}
	if err := r.db.QueryRow(ctx, `SELECT timezone FROM shops WHERE id=$1`, shopID).Scan(&hours.Timezone); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
        SELECT weekday, is_closed, open_minute, close_minute
        FROM business_hours WHERE shop_id=$1 ORDER BY weekday`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var day domain.DayHours
		var weekday int16
		if err := rows.Scan(&weekday, &day.Closed, &day.OpenMinute, &day.CloseMinute); err != nil {
			return nil, err
		}
		day.Weekday = time.Weekday(weekday)
		hours.Days = append(hours.Days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(hours.Days) == 0 {
		return nil, ErrNotFound
	}
	return &hours, nil
}

func (r *settingsRepository) SaveBusinessHours(ctx context.Context, hours *domain.BusinessHours) error {
	if _, err := r.db.Exec(ctx, `UPDATE shops SET timezone=$1 WHERE id=$2`, hours.Timezone, hours.ShopID); err != nil {
		return err
	}
	for _, day := range hours.Days {
		if _, err := r.db.Exec(ctx, `
            INSERT INTO business_hours (shop_id, weekday, is_closed, open_minute, close_minute)
            VALUES ($1,$2,$3,$4,$5)
            ON CONFLICT (shop_id, weekday) DO UPDATE SET
                is_closed=EXCLUDED.is_closed, open_minute=EXCLUDED.open_minute, close_minute=EXCLUDED.close_minute`,
			hours.ShopID, int16(day.Weekday), day.Closed, day.OpenMinute, day.CloseMinute); err != nil {
			return err
		}
	}
	return nil
}

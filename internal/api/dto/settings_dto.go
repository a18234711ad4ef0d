package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

// AutomationSettings is the wire form of domain.AutomationSettings.
type AutomationSettings struct {
	AutoResponseEnabled       bool      `json:"autoResponseEnabled"`
	AutoResponseBusinessHours string    `json:"autoResponseBusinessHours"`
	AutoResponseAfterHours    string    `json:"autoResponseAfterHours"`
	RemindersEnabled          bool      `json:"remindersEnabled"`
	MaxReminders              int       `json:"maxReminders"`
	ReminderIntervalHours     int       `json:"reminderIntervalHours"`
	ReminderTemplates         []string  `json:"reminderTemplates"`
	AutoCloseEnabled          bool      `json:"autoCloseEnabled"`
	AutoCloseAfterHours       int       `json:"autoCloseAfterHours"`
	CloseNoticeSubject        string    `json:"closeNoticeSubject"`
	CloseNoticeBody           string    `json:"closeNoticeBody"`
	EscalationEnabled         bool      `json:"escalationEnabled"`
	EscalationAfterHours      int       `json:"escalationAfterHours"`
	EscalationNotifyStaff     bool      `json:"escalationNotifyStaff"`
	SLAFirstResponseHours     int       `json:"slaFirstResponseHours"`
	SLAResolutionHours        int       `json:"slaResolutionHours"`
	AutoTagEnabled            bool      `json:"autoTagEnabled"`
	UpdatedAt                 time.Time `json:"updatedAt"`
}

// FromAutomationSettings maps stored settings.
func FromAutomationSettings(s domain.AutomationSettings) AutomationSettings {
	return AutomationSettings{
		AutoResponseEnabled:       s.AutoResponseEnabled,
		AutoResponseBusinessHours: s.AutoResponseBusinessHours,
		AutoResponseAfterHours:    s.AutoResponseAfterHours,
		RemindersEnabled:          s.RemindersEnabled,
		MaxReminders:              s.MaxReminders,
		ReminderIntervalHours:     s.ReminderInterval,
		ReminderTemplates:         s.ReminderTemplates,
		AutoCloseEnabled:          s.AutoCloseEnabled,
		AutoCloseAfterHours:       s.AutoCloseAfter,
		CloseNoticeSubject:        s.CloseNoticeSubject,
		CloseNoticeBody:           s.CloseNoticeBody,
		EscalationEnabled:         s.EscalationEnabled,
		EscalationAfterHours:      s.EscalationAfter,
		EscalationNotifyStaff:     s.EscalationNotifyStaff,
		SLAFirstResponseHours:     s.SLAFirstResponseHours,
		SLAResolutionHours:        s.SLAResolutionHours,
		AutoTagEnabled:            s.AutoTagEnabled,
		UpdatedAt:                 s.UpdatedAt,
	}
}

// Domain converts the payload. Validation happens in the settings service.
func (s AutomationSettings) Domain() domain.AutomationSettings {
	return domain.AutomationSettings{
		AutoResponseEnabled:       s.AutoResponseEnabled,
		AutoResponseBusinessHours: s.AutoResponseBusinessHours,
		AutoResponseAfterHours:    s.AutoResponseAfterHours,
		RemindersEnabled:          s.RemindersEnabled,
		MaxReminders:              s.MaxReminders,
		ReminderInterval:          s.ReminderIntervalHours,
		ReminderTemplates:         s.ReminderTemplates,
		AutoCloseEnabled:          s.AutoCloseEnabled,
		AutoCloseAfter:            s.AutoCloseAfterHours,
		CloseNoticeSubject:        s.CloseNoticeSubject,
		CloseNoticeBody:           s.CloseNoticeBody,
		EscalationEnabled:         s.EscalationEnabled,
		EscalationAfter:           s.EscalationAfterHours,
		EscalationNotifyStaff:     s.EscalationNotifyStaff,
		SLAFirstResponseHours:     s.SLAFirstResponseHours,
		SLAResolutionHours:        s.SLAResolutionHours,
		AutoTagEnabled:            s.AutoTagEnabled,
	}
}

// DayHours is one weekday of the schedule, times as "HH:MM".
type DayHours struct {
	Weekday string `json:"weekday"`
	Closed  bool   `json:"closed"`
	Open    string `json:"open"`
	Close   string `json:"close"`
}

// BusinessHours is the wire form of domain.BusinessHours.
type BusinessHours struct {
	Timezone string     `json:"timezone"`
	Days     []DayHours `json:"days"`
}

// FromBusinessHours maps the stored schedule.
func FromBusinessHours(b domain.BusinessHours) BusinessHours {
	out := BusinessHours{Timezone: b.Timezone, Days: make([]DayHours, 0, len(b.Days))}
	for _, day := range b.Days {
		out.Days = append(out.Days, DayHours{
			Weekday: strings.ToLower(day.Weekday.String()),
			Closed:  day.Closed,
			Open:    clock(day.OpenMinute),
			Close:   clock(day.CloseMinute),
		})
	}
	return out
}

// Domain parses weekday names and HH:MM times.
func (b BusinessHours) Domain() (domain.BusinessHours, error) {
	out := domain.BusinessHours{Timezone: strings.TrimSpace(b.Timezone), Days: make([]domain.DayHours, 0, len(b.Days))}
	for _, day := range b.Days {
		weekday, ok := weekdays[strings.ToLower(strings.TrimSpace(day.Weekday))]
		if !ok {
			return domain.BusinessHours{}, errorutil.NewInvalidArgument("unknown weekday", map[string]any{"weekday": day.Weekday})
		}
		parsed := domain.DayHours{Weekday: weekday, Closed: day.Closed}
		if !day.Closed {
			var err error
			if parsed.OpenMinute, err = minutes(day.Open); err != nil {
				return domain.BusinessHours{}, errorutil.NewInvalidArgument(err.Error(), map[string]any{"open": day.Open})
			}
			if parsed.CloseMinute, err = minutes(day.Close); err != nil {
				return domain.BusinessHours{}, errorutil.NewInvalidArgument(err.Error(), map[string]any{"close": day.Close})
			}
		}
		out.Days = append(out.Days, parsed)
	}
	return out, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func clock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

func minutes(hhmm string) (int, error) {
	if strings.TrimSpace(hhmm) == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, fmt.Errorf("time must be HH:MM")
	}
	return t.Hour()*60 + t.Minute(), nil
}

package domain

import (
	"strings"
	"time"
)

// AutomationSettings are the per-shop toggles, thresholds and templates used by automation.
type AutomationSettings struct {
	ShopID int64

	AutoResponseEnabled       bool
	AutoResponseBusinessHours string `validate:"required_if=AutoResponseEnabled true,max=5000"`
	AutoResponseAfterHours    string `validate:"max=5000"`

	RemindersEnabled   bool
	MaxReminders       int      `validate:"gte=0,lte=10"`
	ReminderInterval   int      `validate:"gte=1,lte=720"` // hours
	ReminderTemplates  []string `validate:"dive,max=5000"`
	AutoCloseEnabled   bool
	AutoCloseAfter     int    `validate:"gte=1,lte=720"` // hours since last reminder
	CloseNoticeSubject string `validate:"max=200"`
	CloseNoticeBody    string `validate:"max=5000"`

	EscalationEnabled     bool
	EscalationAfter       int `validate:"gte=1,lte=720"` // hours since last message
	EscalationNotifyStaff bool

	SLAFirstResponseHours int `validate:"gte=1,lte=720"`
	SLAResolutionHours    int `validate:"gte=1,lte=8760"`

	AutoTagEnabled bool

	UpdatedAt time.Time
}

// DefaultAutomationSettings returns the settings used when a shop has no stored row.
func DefaultAutomationSettings(shopID int64) AutomationSettings {
	return AutomationSettings{
		ShopID:                    shopID,
		AutoResponseEnabled:       false,
		AutoResponseBusinessHours: "Hi {{customer_name}},\n\nThanks for reaching out. We received your message ({{ticket_number}}) and will reply shortly.\n\n{{shop_name}}",
		AutoResponseAfterHours:    "Hi {{customer_name}},\n\nThanks for reaching out. Our team is currently offline; we will get back to you on {{ticket_number}} during business hours.\n\n{{shop_name}}",
		RemindersEnabled:          true,
		MaxReminders:              3,
		ReminderInterval:          24,
		ReminderTemplates: []string{
			"Hi {{customer_name}}, just checking in on {{ticket_number}}. Let us know if you still need help.",
			"Hi {{customer_name}}, we are still waiting on your reply to {{ticket_number}}.",
			"Hi {{customer_name}}, this is our last reminder about {{ticket_number}} before we close it.",
		},
		AutoCloseEnabled:      true,
		AutoCloseAfter:        24,
		CloseNoticeSubject:    "Closing {{ticket_number}}",
		CloseNoticeBody:       "Hi {{customer_name}}, we haven't heard back so we are closing {{ticket_number}}. Reply any time if you still need help.",
		EscalationEnabled:     true,
		EscalationAfter:       4,
		EscalationNotifyStaff: false,
		SLAFirstResponseHours: 4,
		SLAResolutionHours:    48,
		AutoTagEnabled:        true,
	}
}

// ReminderTemplate returns the template for the 1-based ordinal, or "" when none is configured.
func (s AutomationSettings) ReminderTemplate(ordinal int) string {
	if ordinal < 1 || ordinal > len(s.ReminderTemplates) {
		return ""
	}
	return strings.TrimSpace(s.ReminderTemplates[ordinal-1])
}

// DayHours is the opening window for one weekday, expressed in minutes after midnight.
type DayHours struct {
	Weekday     time.Weekday `validate:"gte=0,lte=6"`
	Closed      bool
	OpenMinute  int `validate:"gte=0,lte=1440"`
	CloseMinute int `validate:"gte=0,lte=1440"`
}

// BusinessHours holds the weekly schedule for a shop.
type BusinessHours struct {
	ShopID   int64
	Timezone string     `validate:"omitempty,timezone"`
	Days     []DayHours `validate:"max=7,dive"`
}

// DefaultBusinessHours is Mon-Fri 09:00-17:00 UTC.
func DefaultBusinessHours(shopID int64) BusinessHours {
	days := make([]DayHours, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		closed := d == time.Saturday || d == time.Sunday
		days = append(days, DayHours{Weekday: d, Closed: closed, OpenMinute: 9 * 60, CloseMinute: 17 * 60})
	}
	return BusinessHours{ShopID: shopID, Timezone: "UTC", Days: days}
}

// IsOpen reports whether t falls inside the configured hours.
func (b BusinessHours) IsOpen(t time.Time) bool {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil || b.Timezone == "" {
		loc = time.UTC
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()
	for _, day := range b.Days {
		if day.Weekday != local.Weekday() {
			continue
		}
		if day.Closed {
			return false
		}
		return minute >= day.OpenMinute && minute < day.CloseMinute
	}
	return false
}

package domain

import (
	"fmt"
	"time"
)

// ActionType captures what an activity entry records.
type ActionType string

const (
	ActionStatusChange   ActionType = "status_change"
	ActionAssignment     ActionType = "assignment"
	ActionReply          ActionType = "reply"
	ActionNote           ActionType = "note"
	ActionPriorityChange ActionType = "priority_change"
	ActionTagAdd         ActionType = "tag_add"
	ActionTagRemove      ActionType = "tag_remove"
	ActionMerge          ActionType = "merge"
	ActionLinkOrder      ActionType = "link_order"
	ActionEscalation     ActionType = "escalation"
	ActionReminderSent   ActionType = "reminder_sent"
	ActionSLABreach      ActionType = "sla_breach"
)

var allActionTypes = []ActionType{
	ActionStatusChange, ActionAssignment, ActionReply, ActionNote, ActionPriorityChange,
	ActionTagAdd, ActionTagRemove, ActionMerge, ActionLinkOrder, ActionEscalation,
	ActionReminderSent, ActionSLABreach,
}

func (a ActionType) Valid() bool {
	for _, candidate := range allActionTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActionType validates a raw action type.
func ParseActionType(raw string) (ActionType, error) {
	action := ActionType(raw)
	if !action.Valid() {
		return "", fmt.Errorf("invalid action type %q", raw)
	}
	return action, nil
}

// SLAType distinguishes the two SLA clocks.
type SLAType string

const (
	SLAFirstResponse SLAType = "first_response"
	SLAResolution    SLAType = "resolution"
)

// Activity is an immutable audit trail entry. StaffID nil means system/automation.
type Activity struct {
	ID             int64
	ConversationID int64
	ActionType     ActionType
	FromValue      string
	ToValue        string
	StaffID        *int64
	MessageID      *int64
	Metadata       map[string]any
	CreatedAt      time.Time
}

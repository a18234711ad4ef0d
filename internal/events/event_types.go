package events

import (
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventActivityRecorded    EventType = "activity_recorded"
	EventConversationCreated EventType = "conversation_created"
	EventMessageIngested     EventType = "message_ingested"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	ShopID         int64       `json:"shop_id,omitempty"`
	ConversationID int64       `json:"conversation_id"`
	StaffID        *int64      `json:"staff_id,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// ActivityPayload mirrors one activity row.
type ActivityPayload struct {
	ActivityID int64             `json:"activity_id"`
	ActionType domain.ActionType `json:"action_type"`
	FromValue  string            `json:"from_value,omitempty"`
	ToValue    string            `json:"to_value,omitempty"`
	MessageID  *int64            `json:"message_id,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// ConversationCreatedPayload payload.
type ConversationCreatedPayload struct {
	TicketNumber  string           `json:"ticket_number"`
	CustomerEmail string           `json:"customer_email"`
	Category      string           `json:"category"`
	Priority      domain.Priority  `json:"priority"`
	Direction     domain.Direction `json:"direction"`
}

// MessageIngestedPayload payload.
type MessageIngestedPayload struct {
	MessageID         int64            `json:"message_id"`
	ProviderMessageID string           `json:"provider_message_id"`
	Direction         domain.Direction `json:"direction"`
	Subject           string           `json:"subject"`
}

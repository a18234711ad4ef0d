package domain

import "time"

// Direction tells whether a message came from the customer or was sent by the shop.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus tracks read/delivery state.
type MessageStatus string

const (
	MessageStatusUnread   MessageStatus = "unread"
	MessageStatusRead     MessageStatus = "read"
	MessageStatusSent     MessageStatus = "sent"
	MessageStatusArchived MessageStatus = "archived"
)

// Message is one email (or internal note) owned by a conversation.
type Message struct {
	ID                int64
	ConversationID    int64
	ShopID            int64
	ProviderMessageID *string
	Direction         Direction
	FromAddress       string
	FromName          string
	ToAddress         string
	ToName            string
	Cc                []string
	Subject           string
	BodyText          string
	BodyHTML          string
	Status            MessageStatus
	IsInternalNote    bool
	StaffID           *int64
	InReplyTo         string
	References        []string
	SentAt            time.Time
	CreatedAt         time.Time
}

package dto

import (
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// StatusChangeRequest payload.
type StatusChangeRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=10000"`
}

// AssignRequest payload. A null staffId unassigns.
type AssignRequest struct {
	StaffID *int64 `json:"staffId"`
	Note    string `json:"note" validate:"max=10000"`
}

// PriorityRequest payload.
type PriorityRequest struct {
	Priority string `json:"priority" validate:"required"`
}

// NoteRequest payload.
type NoteRequest struct {
	Text string `json:"text" validate:"required,max=10000"`
}

// TagRequest payload.
type TagRequest struct {
	Tag string `json:"tag" validate:"required,max=50"`
}

// MergeRequest folds sourceIds into the ticket in the path.
type MergeRequest struct {
	SourceIDs []int64 `json:"sourceIds" validate:"required,min=1,max=50,dive,gt=0"`
	Note      string  `json:"note" validate:"max=10000"`
}

// ReplyRequest payload. Status optionally transitions the ticket after sending.
type ReplyRequest struct {
	BodyText string `json:"bodyText" validate:"required_without=BodyHTML,max=100000"`
	BodyHTML string `json:"bodyHtml" validate:"max=200000"`
	Status   string `json:"status"`
}

// LinkOrderRequest payload. An empty orderId unlinks.
type LinkOrderRequest struct {
	OrderID string `json:"orderId" validate:"max=100"`
}

// DraftRequest payload.
type DraftRequest struct {
	Instructions string `json:"instructions" validate:"max=2000"`
}

// BulkIDs is embedded by every bulk request.
type BulkIDs struct {
	TicketIDs []int64 `json:"ticketIds" validate:"required,min=1,max=200,dive,gt=0"`
}

// BulkStatusRequest payload.
type BulkStatusRequest struct {
	BulkIDs
	Status string `json:"status" validate:"required"`
}

// BulkAssignRequest payload.
type BulkAssignRequest struct {
	BulkIDs
	StaffID *int64 `json:"staffId"`
}

// BulkPriorityRequest payload.
type BulkPriorityRequest struct {
	BulkIDs
	Priority string `json:"priority" validate:"required"`
}

// BulkTagRequest payload.
type BulkTagRequest struct {
	BulkIDs
	Tag    string `json:"tag" validate:"required,max=50"`
	Remove bool   `json:"remove"`
}

// TicketSummary is one row of the ticket list.
type TicketSummary struct {
	ID              int64                     `json:"id"`
	TicketNumber    string                    `json:"ticketNumber"`
	Subject         string                    `json:"subject"`
	Category        string                    `json:"category"`
	Mailbox         string                    `json:"mailbox"`
	CustomerEmail   string                    `json:"customerEmail"`
	CustomerName    string                    `json:"customerName"`
	OrderID         *string                   `json:"orderId"`
	Status          domain.ConversationStatus `json:"status"`
	Priority        domain.Priority           `json:"priority"`
	Tags            []string                  `json:"tags"`
	AssignedTo      *int64                    `json:"assignedTo"`
	MessageCount    int                       `json:"messageCount"`
	UnreadCount     int                       `json:"unreadCount"`
	ReminderCount   int                       `json:"reminderCount"`
	IsEscalated     bool                      `json:"isEscalated"`
	IsMerged        bool                      `json:"isMerged"`
	MergedInto      *int64                    `json:"mergedInto"`
	CreatedAt       time.Time                 `json:"createdAt"`
	LastMessageAt   time.Time                 `json:"lastMessageAt"`
	FirstResponseAt *time.Time                `json:"firstResponseAt"`
	ResolvedAt      *time.Time                `json:"resolvedAt"`
	ResolutionMins  *int                      `json:"resolutionTimeMinutes"`
}

// TicketPage is a page of the ticket list.
type TicketPage struct {
	Items  []TicketSummary `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// MessageResponse is one email or internal note.
type MessageResponse struct {
	ID                int64                `json:"id"`
	ProviderMessageID *string              `json:"providerMessageId"`
	Direction         domain.Direction     `json:"direction"`
	FromAddress       string               `json:"fromAddress"`
	FromName          string               `json:"fromName"`
	ToAddress         string               `json:"toAddress"`
	Cc                []string             `json:"cc"`
	Subject           string               `json:"subject"`
	BodyText          string               `json:"bodyText"`
	BodyHTML          string               `json:"bodyHtml"`
	Status            domain.MessageStatus `json:"status"`
	IsInternalNote    bool                 `json:"isInternalNote"`
	StaffID           *int64               `json:"staffId"`
	SentAt            time.Time            `json:"sentAt"`
}

// ActivityResponse is one audit trail entry.
type ActivityResponse struct {
	ID             int64             `json:"id"`
	ConversationID int64             `json:"conversationId"`
	ActionType     domain.ActionType `json:"actionType"`
	FromValue      string            `json:"fromValue,omitempty"`
	ToValue        string            `json:"toValue,omitempty"`
	StaffID        *int64            `json:"staffId"`
	MessageID      *int64            `json:"messageId,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// ActivityPage is a page of one ticket's timeline.
type ActivityPage struct {
	Items []ActivityResponse `json:"items"`
	Total int                `json:"total"`
}

// TicketDetailResponse is a ticket with its messages and timeline.
type TicketDetailResponse struct {
	TicketSummary
	Messages   []MessageResponse  `json:"messages"`
	Activities []ActivityResponse `json:"activities"`
}

// ChangeResponse reports a field transition.
type ChangeResponse struct {
	Ticket TicketSummary `json:"ticket"`
	From   string        `json:"from"`
	To     string        `json:"to"`
}

// Ticket maps a conversation to its list row.
func Ticket(c *domain.Conversation) TicketSummary {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return TicketSummary{
		ID:              c.ID,
		TicketNumber:    c.TicketNumber,
		Subject:         c.Subject,
		Category:        c.Category,
		Mailbox:         c.Mailbox,
		CustomerEmail:   c.CustomerEmail,
		CustomerName:    c.CustomerName,
		OrderID:         c.OrderID,
		Status:          c.Status,
		Priority:        c.Priority,
		Tags:            tags,
		AssignedTo:      c.AssignedTo,
		MessageCount:    c.MessageCount,
		UnreadCount:     c.UnreadCount,
		ReminderCount:   c.ReminderCount,
		IsEscalated:     c.IsEscalated,
		IsMerged:        c.IsMerged,
		MergedInto:      c.MergedInto,
		CreatedAt:       c.CreatedAt,
		LastMessageAt:   c.LastMessageAt,
		FirstResponseAt: c.FirstResponseAt,
		ResolvedAt:      c.ResolvedAt,
		ResolutionMins:  c.ResolutionTimeMinutes,
	}
}

// Tickets maps a slice of conversations.
func Tickets(convs []domain.Conversation) []TicketSummary {
	out := make([]TicketSummary, 0, len(convs))
	for i := range convs {
		out = append(out, Ticket(&convs[i]))
	}
	return out
}

// Message maps a stored message.
func Message(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:                m.ID,
		ProviderMessageID: m.ProviderMessageID,
		Direction:         m.Direction,
		FromAddress:       m.FromAddress,
		FromName:          m.FromName,
		ToAddress:         m.ToAddress,
		Cc:                m.Cc,
		Subject:           m.Subject,
		BodyText:          m.BodyText,
		BodyHTML:          m.BodyHTML,
		Status:            m.Status,
		IsInternalNote:    m.IsInternalNote,
		StaffID:           m.StaffID,
		SentAt:            m.SentAt,
	}
}

// Activity maps an activity row.
func Activity(a *domain.Activity) ActivityResponse {
	return ActivityResponse{
		ID:             a.ID,
		ConversationID: a.ConversationID,
		ActionType:     a.ActionType,
		FromValue:      a.FromValue,
		ToValue:        a.ToValue,
		StaffID:        a.StaffID,
		MessageID:      a.MessageID,
		Metadata:       a.Metadata,
		CreatedAt:      a.CreatedAt,
	}
}

// Activities maps a slice of activities.
func Activities(list []domain.Activity) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(list))
	for i := range list {
		out = append(out, Activity(&list[i]))
	}
	return out
}

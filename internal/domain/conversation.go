package domain

import (
	"fmt"
	"strings"
	"time"
)

// ConversationStatus enumerates lifecycle states for tickets.
type ConversationStatus string

const (
	StatusOpen            ConversationStatus = "open"
	StatusAssigned        ConversationStatus = "assigned"
	StatusInProgress      ConversationStatus = "in_progress"
	StatusPendingCustomer ConversationStatus = "pending_customer"
	StatusResolved        ConversationStatus = "resolved"
	StatusClosed          ConversationStatus = "closed"
	StatusArchived        ConversationStatus = "archived"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []ConversationStatus{
	StatusOpen,
	StatusAssigned,
	StatusInProgress,
	StatusPendingCustomer,
	StatusResolved,
	StatusClosed,
	StatusArchived,
}

// Valid reports whether s is one of the known statuses.
func (s ConversationStatus) Valid() bool {
	for _, candidate := range AllStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Terminal statuses are never left by automation.
func (s ConversationStatus) Terminal() bool {
	return s == StatusClosed || s == StatusArchived
}

// Finished is true for statuses that stop the resolution clock.
func (s ConversationStatus) Finished() bool {
	return s == StatusResolved || s == StatusClosed || s == StatusArchived
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (ConversationStatus, error) {
	status := ConversationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("invalid status %q", raw)
	}
	return status, nil
}

// Priority enumerates ticket urgency.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var AllPriorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) Valid() bool {
	for _, candidate := range AllPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePriority validates a raw priority string.
func ParsePriority(raw string) (Priority, error) {
	priority := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if !priority.Valid() {
		return "", fmt.Errorf("invalid priority %q", raw)
	}
	return priority, nil
}

// Conversation is the ticket aggregate: one logical exchange with a customer.
type Conversation struct {
	ID            int64
	ShopID        int64
	TicketNumber  string
	ThreadID      string
	Subject       string
	Category      string
	Mailbox       string
	CustomerEmail string
	CustomerName  string
	OrderID       *string

	Status     ConversationStatus
	Priority   Priority
	Tags       []string
	AssignedTo *int64

	MessageCount  int
	UnreadCount   int
	ReminderCount int
	IsEscalated   bool

	IsMerged   bool
	MergedInto *int64

	CreatedAt             time.Time
	UpdatedAt             time.Time
	LastMessageAt         time.Time
	FirstResponseAt       *time.Time
	LastReminderAt        *time.Time
	EscalatedAt           *time.Time
	ResolvedAt            *time.Time
	ResolutionTimeMinutes *int
}

// HasTag reports whether tag is already on the conversation.
func (c *Conversation) HasTag(tag string) bool {
	for _, existing := range c.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// TicketNumber renders the human-readable ticket number for a shop and conversation id.
func TicketNumber(shopID, conversationID int64) string {
	return fmt.Sprintf("TKT-%d-%06d", shopID, conversationID)
}

// ResolutionMinutes is the whole minutes elapsed between created and resolved.
func ResolutionMinutes(created, resolved time.Time) int {
	if resolved.Before(created) {
		return 0
	}
	return int(resolved.Sub(created) / time.Minute)
}

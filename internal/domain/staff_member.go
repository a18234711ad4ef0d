package domain

import "time"

// StaffRole enumerates internal operator roles.
type StaffRole string

const (
	StaffRoleAgent StaffRole = "agent"
	StaffRoleAdmin StaffRole = "admin"
)

func (r StaffRole) Valid() bool {
	return r == StaffRoleAgent || r == StaffRoleAdmin
}

// StaffMember models a support agent or administrator. Never hard-deleted.
type StaffMember struct {
	ID              int64
	ShopID          int64
	Name            string
	Email           string
	PasswordHash    string
	Role            StaffRole
	IsShopOwner     bool
	IsActive        bool
	TicketsAssigned int
	TicketsResolved int
	RepliesSent     int
	LastActiveAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Shop is a tenant whose mailboxes are polled.
type Shop struct {
	ID        int64
	Name      string
	Domain    string
	Mailboxes []ShopMailbox
}

// ShopMailbox is one of the shop's own addresses and the ticket category it feeds.
type ShopMailbox struct {
	Address  string
	Account  string
	Category string
}

// Addresses returns the shop's system mailbox addresses.
func (s Shop) Addresses() Mailboxes {
	out := make(Mailboxes, 0, len(s.Mailboxes))
	for _, box := range s.Mailboxes {
		out = append(out, box.Address)
	}
	return out
}

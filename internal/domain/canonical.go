package domain

import (
	"strings"
	"time"
)

// FolderKind is the provider folder a message was fetched from.
type FolderKind string

const (
	FolderInbox FolderKind = "inbox"
	FolderSent  FolderKind = "sent"
)

// Address is a parsed mailbox address.
type Address struct {
	Email string
	Name  string
}

// CanonicalMessage is the provider-independent shape of a fetched email.
type CanonicalMessage struct {
	ProviderID       string
	Account          string
	Folder           FolderKind
	Direction        Direction
	From             Address
	To               []Address
	Cc               []Address
	Subject          string
	BodyText         string
	BodyHTML         string
	InReplyTo        string
	References       []string
	ProviderThreadID string
	Timestamp        time.Time
	// Cursor is the provider position just after this message.
	Cursor string
}

// FirstTo returns the first recipient, or a zero Address.
func (m CanonicalMessage) FirstTo() Address {
	if len(m.To) == 0 {
		return Address{}
	}
	return m.To[0]
}

// Envelope is an outbound email handed to the mail provider.
type Envelope struct {
	FromAccount string
	To          string
	ToName      string
	Subject     string
	HTML        string
	Text        string
	InReplyTo   string
	References  []string
}

// Mailboxes is the set of the shop's own addresses.
type Mailboxes []string

// Contains reports whether email belongs to one of the system mailboxes.
func (m Mailboxes) Contains(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, box := range m {
		if strings.ToLower(strings.TrimSpace(box)) == email {
			return true
		}
	}
	return false
}

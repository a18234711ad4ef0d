// Package mail wraps the mail-provider REST API and normalizes its messages.
package mail

import (
	"context"
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// Provider is the mail collaborator consumed by ingest and the outbox.
type Provider interface {
	FetchNewMessages(ctx context.Context, account string, folder domain.FolderKind, cursor string) ([]domain.CanonicalMessage, error)
	FetchMessageBody(ctx context.Context, account, providerID string) (Body, error)
	SendMessage(ctx context.Context, envelope domain.Envelope) (string, error)
}

// Body is the content of a single message.
type Body struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// RawMessage is the provider's listing shape.
type RawMessage struct {
	ID         string            `json:"id"`
	ThreadID   string            `json:"thread_id"`
	From       string            `json:"from"`
	To         []string          `json:"to"`
	Cc         []string          `json:"cc"`
	Subject    string            `json:"subject"`
	Text       string            `json:"text"`
	HTML       string            `json:"html"`
	Headers    map[string]string `json:"headers"`
	ReceivedAt time.Time         `json:"received_at"`
	Cursor     string            `json:"cursor"`
}

type listResponse struct {
	Messages []RawMessage `json:"messages"`
}

type sendRequest struct {
	To         string   `json:"to"`
	ToName     string   `json:"to_name,omitempty"`
	Subject    string   `json:"subject"`
	HTML       string   `json:"html,omitempty"`
	Text       string   `json:"text,omitempty"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

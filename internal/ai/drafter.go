// Package ai generates reply drafts for support conversations.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
)

const (
	requestTimeout   = 30 * time.Second
	maxHistory       = 10
	maxBodyChars     = 2000
	draftTemperature = 0.3
	draftMaxTokens   = 800
)

// ErrDisabled is returned when no model is configured.
var ErrDisabled = errors.New("ai drafting not configured")

// DraftMessage is one prior message given to the model as context.
type DraftMessage struct {
	Direction domain.Direction
	From      string
	Body      string
	SentAt    time.Time
}

// DraftRequest carries the conversation context for a draft.
type DraftRequest struct {
	ShopName      string
	TicketNumber  string
	Subject       string
	CustomerName  string
	CustomerEmail string
	OrderNumber   string
	Messages      []DraftMessage
	Instructions  string
}

// Drafter wraps a langchaingo model.
type Drafter struct {
	llm    llms.Model
	logger *zap.Logger
}

// New builds a Drafter backed by an OpenAI-compatible endpoint. An empty API
// key yields a Drafter that always returns ErrDisabled.
func New(cfg config.AIConfig, logger *zap.Logger) (*Drafter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return &Drafter{logger: logger}, nil
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return &Drafter{llm: llm, logger: logger}, nil
}

// NewWithModel builds a Drafter over an existing model.
func NewWithModel(llm llms.Model, logger *zap.Logger) *Drafter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drafter{llm: llm, logger: logger}
}

// Enabled reports whether a model is configured.
func (d *Drafter) Enabled() bool {
	return d != nil && d.llm != nil
}

// GenerateDraft asks the model for a plain-text reply to the customer.
func (d *Drafter) GenerateDraft(ctx context.Context, req DraftRequest) (string, error) {
	if !d.Enabled() {
		return "", ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	started := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, d.llm, BuildPrompt(req),
		llms.WithTemperature(draftTemperature),
		llms.WithMaxTokens(draftMaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generate draft: %w", err)
	}
	draft := strings.TrimSpace(out)
	if draft == "" {
		return "", errors.New("generate draft: empty response")
	}
	d.logger.Debug("draft generated",
		zap.String("ticket_number", req.TicketNumber),
		zap.Int("chars", len(draft)),
		zap.Duration("took", time.Since(started)),
	)
	return draft, nil
}

// BuildPrompt renders req as a single prompt. Only the most recent messages are included.
func BuildPrompt(req DraftRequest) string {
	var b strings.Builder
	shop := req.ShopName
	if shop == "" {
		shop = "the shop"
	}
	fmt.Fprintf(&b, "You are a customer support agent for %s. Write a concise, friendly reply to the customer.\n", shop)
	b.WriteString("Reply with the email body only. Do not invent order details that are not given below.\n\n")

	fmt.Fprintf(&b, "Ticket: %s\nSubject: %s\n", req.TicketNumber, req.Subject)
	customer := req.CustomerEmail
	if req.CustomerName != "" {
		customer = fmt.Sprintf("%s <%s>", req.CustomerName, req.CustomerEmail)
	}
	fmt.Fprintf(&b, "Customer: %s\n", customer)
	if req.OrderNumber != "" {
		fmt.Fprintf(&b, "Linked order: %s\n", req.OrderNumber)
	}

	history := req.Messages
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far (oldest first):\n")
		for _, msg := range history {
			who := "Customer"
			if msg.Direction == domain.DirectionOutbound {
				who = "Support"
			}
			fmt.Fprintf(&b, "--- %s (%s):\n%s\n", who, msg.SentAt.UTC().Format(time.RFC3339), truncate(msg.Body, maxBodyChars))
		}
	}
	if ins := strings.TrimSpace(req.Instructions); ins != "" {
		fmt.Fprintf(&b, "\nAdditional instructions from the agent: %s\n", ins)
	}
	return b.String()
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
)

type fakeModel struct {
	reply  string
	err    error
	prompt string
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompt += text.Text
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestNewWithoutKeyIsDisabled(t *testing.T) {
	d, err := New(config.AIConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, d.Enabled())

	_, err = d.GenerateDraft(context.Background(), DraftRequest{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGenerateDraftTrimsReply(t *testing.T) {
	model := &fakeModel{reply: "  Hi Ana, your order shipped.\n"}
	d := NewWithModel(model, nil)

	draft, err := d.GenerateDraft(context.Background(), DraftRequest{
		ShopName:      "Acme",
		TicketNumber:  "TKT-1-000001",
		Subject:       "Where is my order?",
		CustomerEmail: "ana@example.com",
		Messages: []DraftMessage{
			{Direction: domain.DirectionInbound, Body: "Where is it?", SentAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, your order shipped.", draft)
	assert.Contains(t, model.prompt, "TKT-1-000001")
	assert.Contains(t, model.prompt, "Where is it?")
}

func TestGenerateDraftErrors(t *testing.T) {
	_, err := NewWithModel(&fakeModel{err: errors.New("boom")}, nil).GenerateDraft(context.Background(), DraftRequest{})
	assert.ErrorContains(t, err, "boom")

	_, err = NewWithModel(&fakeModel{reply: "   "}, nil).GenerateDraft(context.Background(), DraftRequest{})
	assert.ErrorContains(t, err, "empty response")
}

func TestBuildPromptKeepsRecentHistory(t *testing.T) {
	var msgs []DraftMessage
	for i := 0; i < 15; i++ {
		msgs = append(msgs, DraftMessage{Direction: domain.DirectionInbound, Body: fmt.Sprintf("message-%02d", i)})
	}
	prompt := BuildPrompt(DraftRequest{
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		OrderNumber:   "#1001",
		Messages:      msgs,
		Instructions:  "offer a refund",
	})

	assert.NotContains(t, prompt, "message-04")
	assert.Contains(t, prompt, "message-05")
	assert.Contains(t, prompt, "message-14")
	assert.Contains(t, prompt, "Ana <ana@example.com>")
	assert.Contains(t, prompt, "Linked order: #1001")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "offer a refund"))
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	body := strings.Repeat("a", maxBodyChars-1) + "üüü Grüße"
	out := truncate(body, maxBodyChars)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("a", maxBodyChars-1)+"ü...", out)

	assert.Equal(t, "Grüße", truncate(" Grüße ", 5))
}

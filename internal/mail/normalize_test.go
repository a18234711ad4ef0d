package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/support-inbox/internal/domain"
)

var boxes = domain.Mailboxes{"sales@shop.com", "support@shop.com"}

func TestNormalizeInbound(t *testing.T) {
	raw := RawMessage{
		ID:      " m-1 ",
		From:    `"Jane Doe" <Jane@X.com>`,
		To:      []string{"Sales <sales@shop.com>, support@shop.com"},
		Subject: " Re: Question about order ",
		Text:    "hello",
		Headers: map[string]string{
			"in-reply-to": " <abc@mail> ",
			"References":  "<root@mail> <abc@mail>",
		},
		ReceivedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)),
	}

	msg := Normalize(raw, "acct-sales", domain.FolderInbox, boxes)

	assert.Equal(t, "m-1", msg.ProviderID)
	assert.Equal(t, domain.DirectionInbound, msg.Direction)
	assert.Equal(t, domain.Address{Email: "jane@x.com", Name: "Jane Doe"}, msg.From)
	assert.Len(t, msg.To, 2)
	assert.Equal(t, "sales@shop.com", msg.FirstTo().Email)
	assert.Equal(t, "Re: Question about order", msg.Subject)
	assert.Equal(t, "abc@mail", msg.InReplyTo)
	assert.Equal(t, []string{"root@mail", "abc@mail"}, msg.References)
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
	assert.Equal(t, "m-1", msg.Cursor, "cursor falls back to provider id")
}

func TestNormalizeDirection(t *testing.T) {
	sent := Normalize(RawMessage{ID: "1", From: "sales@shop.com"}, "a", domain.FolderSent, boxes)
	assert.Equal(t, domain.DirectionOutbound, sent.Direction)

	selfCopy := Normalize(RawMessage{ID: "2", From: "Support <support@shop.com>"}, "a", domain.FolderInbox, boxes)
	assert.Equal(t, domain.DirectionOutbound, selfCopy.Direction)
}

func TestParseAddressLenient(t *testing.T) {
	assert.Equal(t, domain.Address{Email: "not an address"}, ParseAddress("Not An Address"))
	assert.Equal(t, domain.Address{}, ParseAddress("  "))
}

func TestSplitReferences(t *testing.T) {
	assert.Equal(t, []string{"a@x", "b@x"}, SplitReferences("<a@x>,\r\n\t<b@x>"))
	assert.Empty(t, SplitReferences(""))
}

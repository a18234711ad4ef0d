// Package notify renders customer-facing templates into outbound envelopes.
package notify

import (
	"html"
	"strings"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// Vars are the placeholder values available to templates.
type Vars struct {
	CustomerName string
	TicketNumber string
	Subject      string
	OrderNumber  string
	ShopName     string
}

// VarsFor builds template values for conv.
func VarsFor(shop domain.Shop, conv domain.Conversation) Vars {
	name := strings.TrimSpace(conv.CustomerName)
	if name == "" {
		name = "there"
	}
	vars := Vars{
		CustomerName: name,
		TicketNumber: conv.TicketNumber,
		Subject:      conv.Subject,
		ShopName:     shop.Name,
	}
	if conv.OrderID != nil {
		vars.OrderNumber = *conv.OrderID
	}
	return vars
}

// Render replaces {{placeholder}} tokens. Unknown tokens are left as written.
func Render(template string, vars Vars) string {
	return strings.NewReplacer(
		"{{customer_name}}", vars.CustomerName,
		"{{ticket_number}}", vars.TicketNumber,
		"{{subject}}", vars.Subject,
		"{{order_number}}", vars.OrderNumber,
		"{{shop_name}}", vars.ShopName,
	).Replace(template)
}

// TextToHTML escapes text and keeps its line breaks.
func TextToHTML(text string) string {
	escaped := html.EscapeString(text)
	paragraphs := strings.Split(strings.ReplaceAll(escaped, "\r\n", "\n"), "\n\n")
	for i, p := range paragraphs {
		paragraphs[i] = "<p>" + strings.ReplaceAll(p, "\n", "<br>") + "</p>"
	}
	return strings.Join(paragraphs, "")
}

// ReplySubject prefixes subject with "Re: " once.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// SendingAccount returns the provider account for the mailbox conv came through.
func SendingAccount(shop domain.Shop, conv domain.Conversation) string {
	for _, box := range shop.Mailboxes {
		if strings.EqualFold(box.Address, conv.Mailbox) {
			return accountOf(box)
		}
	}
	if len(shop.Mailboxes) > 0 {
		return accountOf(shop.Mailboxes[0])
	}
	return ""
}

func accountOf(box domain.ShopMailbox) string {
	if box.Account != "" {
		return box.Account
	}
	return box.Address
}

// ThreadHeaders returns In-Reply-To and References for a reply to the last
// delivered message in msgs.
func ThreadHeaders(msgs []domain.Message) (string, []string) {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.IsInternalNote || msg.ProviderMessageID == nil || *msg.ProviderMessageID == "" {
			continue
		}
		refs := append(append([]string(nil), msg.References...), *msg.ProviderMessageID)
		return *msg.ProviderMessageID, refs
	}
	return "", nil
}

// CustomerEnvelope addresses a rendered text body to the conversation's customer.
func CustomerEnvelope(shop domain.Shop, conv domain.Conversation, subject, text string, history []domain.Message) domain.Envelope {
	inReplyTo, refs := ThreadHeaders(history)
	return domain.Envelope{
		FromAccount: SendingAccount(shop, conv),
		To:          conv.CustomerEmail,
		ToName:      conv.CustomerName,
		Subject:     subject,
		Text:        text,
		HTML:        TextToHTML(text),
		InReplyTo:   inReplyTo,
		References:  refs,
	}
}

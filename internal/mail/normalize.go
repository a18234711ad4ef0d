package mail

import (
	"net/mail"
	"strings"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// Normalize converts a provider message into the canonical shape. Direction
// follows the folder, except that an inbox copy sent from one of the shop's
// own mailboxes is treated as outbound.
func Normalize(raw RawMessage, account string, folder domain.FolderKind, mailboxes domain.Mailboxes) domain.CanonicalMessage {
	msg := domain.CanonicalMessage{
		ProviderID:       strings.TrimSpace(raw.ID),
		Account:          account,
		Folder:           folder,
		From:             ParseAddress(raw.From),
		To:               ParseAddressList(raw.To),
		Cc:               ParseAddressList(raw.Cc),
		Subject:          strings.TrimSpace(raw.Subject),
		BodyText:         raw.Text,
		BodyHTML:         raw.HTML,
		InReplyTo:        CleanMessageID(header(raw.Headers, "In-Reply-To")),
		References:       SplitReferences(header(raw.Headers, "References")),
		ProviderThreadID: strings.TrimSpace(raw.ThreadID),
		Timestamp:        raw.ReceivedAt.UTC(),
		Cursor:           raw.Cursor,
	}
	if msg.Cursor == "" {
		msg.Cursor = msg.ProviderID
	}

	msg.Direction = domain.DirectionInbound
	if folder == domain.FolderSent || mailboxes.Contains(msg.From.Email) {
		msg.Direction = domain.DirectionOutbound
	}
	return msg
}

// ParseAddress parses "Name <email>" leniently; unparsable input is kept as the email.
func ParseAddress(raw string) domain.Address {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Address{}
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return domain.Address{Email: strings.ToLower(strings.Trim(raw, "<>"))}
	}
	return domain.Address{Email: strings.ToLower(addr.Address), Name: strings.TrimSpace(addr.Name)}
}

// ParseAddressList parses each entry, expanding comma separated lists.
func ParseAddressList(raw []string) []domain.Address {
	var out []domain.Address
	for _, entry := range raw {
		if list, err := mail.ParseAddressList(entry); err == nil {
			for _, addr := range list {
				out = append(out, domain.Address{Email: strings.ToLower(addr.Address), Name: strings.TrimSpace(addr.Name)})
			}
			continue
		}
		if addr := ParseAddress(entry); addr.Email != "" {
			out = append(out, addr)
		}
	}
	return out
}

// CleanMessageID strips whitespace and angle brackets from a message id header.
func CleanMessageID(raw string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "<>"))
}

// SplitReferences splits a References header into cleaned message ids.
func SplitReferences(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if id := CleanMessageID(field); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func header(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// Package threading groups canonical messages into conversations.
package threading

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// KeySource records which anchor produced a thread key.
type KeySource string

const (
	SourceProviderThread KeySource = "provider_thread"
	SourceInReplyTo      KeySource = "in_reply_to"
	SourceReferences     KeySource = "references"
	SourceSubjectHash    KeySource = "subject_hash"
	SourceProviderID     KeySource = "provider_id"
	SourceRandom         KeySource = "random"
)

// fromHeader reports whether the key points at another message's provider id.
func (s KeySource) fromHeader() bool {
	return s == SourceInReplyTo || s == SourceReferences
}

var (
	replyPrefix   = regexp.MustCompile(`(?i)^(re|fw|fwd)\s*(\[\d+\])?\s*:\s*`)
	bracketPrefix = regexp.MustCompile(`^\[[^\]]*\]\s*`)
	spaces        = regexp.MustCompile(`\s+`)
)

// NormalizeSubject strips any run of leading reply/forward markers and
// lowercases the remainder.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		stripped = bracketPrefix.ReplaceAllString(stripped, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(spaces.ReplaceAllString(s, " "))
}

// CustomerParty returns the side of the message that is not one of the
// shop's own mailboxes. Inbound mail normally has the customer in From and
// outbound mail in To; when that guess lands on a system address the other
// side is used instead.
func CustomerParty(msg domain.CanonicalMessage, mailboxes domain.Mailboxes) domain.Address {
	primary, secondary := msg.From, msg.FirstTo()
	if msg.Direction == domain.DirectionOutbound {
		primary, secondary = secondary, primary
	}
	if primary.Email != "" && !mailboxes.Contains(primary.Email) {
		return primary
	}
	if secondary.Email != "" && !mailboxes.Contains(secondary.Email) {
		return secondary
	}
	for _, addr := range append(append([]domain.Address{}, msg.To...), msg.Cc...) {
		if addr.Email != "" && !mailboxes.Contains(addr.Email) {
			return addr
		}
	}
	return domain.Address{}
}

// SubjectHash is the deterministic fallback key for mail without usable headers.
func SubjectHash(subject, customerEmail string) string {
	sum := sha256.Sum256([]byte(NormalizeSubject(subject) + "|" + strings.ToLower(strings.TrimSpace(customerEmail))))
	return hex.EncodeToString(sum[:])
}

// ThreadKey derives the conversation key for msg. The first usable anchor wins:
// provider thread id, In-Reply-To, first References entry, subject hash,
// the message's own provider id, then a random id.
func ThreadKey(msg domain.CanonicalMessage, mailboxes domain.Mailboxes) (string, KeySource) {
	if id := strings.TrimSpace(msg.ProviderThreadID); id != "" {
		return id, SourceProviderThread
	}
	if id := strings.TrimSpace(msg.InReplyTo); id != "" {
		return id, SourceInReplyTo
	}
	for _, ref := range msg.References {
		if ref = strings.TrimSpace(ref); ref != "" {
			return ref, SourceReferences
		}
	}
	if customer := CustomerParty(msg, mailboxes); customer.Email != "" && NormalizeSubject(msg.Subject) != "" {
		return SubjectHash(msg.Subject, customer.Email), SourceSubjectHash
	}
	if id := strings.TrimSpace(msg.ProviderID); id != "" {
		return id, SourceProviderID
	}
	return "rnd-" + uuid.NewString(), SourceRandom
}

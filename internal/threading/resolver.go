package threading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

const (
	defaultCategory = "support"
	noSubject       = "(no subject)"
	maxMergeHops    = 5
)

// OrderFinder links a new conversation to the customer's latest order.
type OrderFinder interface {
	FindRecentOrder(ctx context.Context, email string) (*domain.OrderRef, error)
}

// Resolution is the outcome of resolving one message.
type Resolution struct {
	Conversation *domain.Conversation
	Created      bool
	Key          string
	Source       KeySource
}

// Resolver finds or creates the conversation that owns a message.
type Resolver struct {
	orders        OrderFinder
	logger        *zap.Logger
	clock         func() time.Time
	lookupTimeout time.Duration
}

// NewResolver builds a Resolver. orders may be nil.
func NewResolver(orders OrderFinder, logger *zap.Logger, clock func() time.Time) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{orders: orders, logger: logger, clock: clock, lookupTimeout: 5 * time.Second}
}

// Resolve must run inside the caller's transaction. On the update path it
// records the message against the existing conversation's counters; on the
// create path the new conversation already counts msg.
func (r *Resolver) Resolve(ctx context.Context, tx repository.Store, shop domain.Shop, msg domain.CanonicalMessage) (*Resolution, error) {
	mailboxes := shop.Addresses()
	key, source := ThreadKey(msg, mailboxes)
	at := msg.Timestamp
	if at.IsZero() {
		at = r.clock()
	}
	inbound := msg.Direction == domain.DirectionInbound

	conv, err := r.existing(ctx, tx, shop.ID, key, source)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		if err := tx.Conversations().RecordMessage(ctx, conv.ID, at, inbound); err != nil {
			return nil, fmt.Errorf("record message on conversation %d: %w", conv.ID, err)
		}
		conv, err = tx.Conversations().GetByID(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		return &Resolution{Conversation: conv, Key: key, Source: source}, nil
	}

	conv = r.newConversation(ctx, shop, msg, key, at)
	if err := tx.Conversations().Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation for thread %q: %w", key, err)
	}
	r.logger.Info("conversation created",
		zap.Int64("shop_id", shop.ID),
		zap.Int64("conversation_id", conv.ID),
		zap.String("ticket_number", conv.TicketNumber),
		zap.String("key_source", string(source)),
	)
	return &Resolution{Conversation: conv, Created: true, Key: key, Source: source}, nil
}

// existing looks the key up by thread id, then by the referenced message for
// header anchors, and follows merges to the surviving conversation.
func (r *Resolver) existing(ctx context.Context, tx repository.Store, shopID int64, key string, source KeySource) (*domain.Conversation, error) {
	conv, err := tx.Conversations().GetByThread(ctx, shopID, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if conv == nil && source.fromHeader() {
		parentID, err := tx.Messages().ConversationIDByProviderID(ctx, shopID, key)
		switch {
		case err == nil:
			conv, err = tx.Conversations().GetByID(ctx, parentID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}
	for hops := 0; conv != nil && conv.IsMerged && conv.MergedInto != nil && hops < maxMergeHops; hops++ {
		target, err := tx.Conversations().GetByID(ctx, *conv.MergedInto)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				break
			}
			return nil, err
		}
		conv = target
	}
	return conv, nil
}

func (r *Resolver) newConversation(ctx context.Context, shop domain.Shop, msg domain.CanonicalMessage, key string, at time.Time) *domain.Conversation {
	mailboxes := shop.Addresses()
	customer := CustomerParty(msg, mailboxes)
	mailbox, category := systemMailbox(shop, msg)

	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = noSubject
	}
	unread := 0
	if msg.Direction == domain.DirectionInbound {
		unread = 1
	}

	conv := &domain.Conversation{
		ShopID:        shop.ID,
		ThreadID:      key,
		Subject:       subject,
		Category:      category,
		Mailbox:       mailbox,
		CustomerEmail: strings.ToLower(customer.Email),
		CustomerName:  customer.Name,
		Status:        domain.StatusOpen,
		Priority:      domain.PriorityNormal,
		Tags:          []string{},
		MessageCount:  1,
		UnreadCount:   unread,
		CreatedAt:     at,
		LastMessageAt: at,
	}
	if order := r.findOrder(ctx, conv.CustomerEmail); order != nil {
		id := order.ID
		conv.OrderID = &id
	}
	return conv
}

func (r *Resolver) findOrder(ctx context.Context, email string) *domain.OrderRef {
	if r.orders == nil || email == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()
	order, err := r.orders.FindRecentOrder(ctx, email)
	if err != nil {
		r.logger.Warn("order lookup failed", zap.String("customer_email", email), zap.Error(err))
		return nil
	}
	return order
}

// systemMailbox picks the shop address the message went through and its category.
func systemMailbox(shop domain.Shop, msg domain.CanonicalMessage) (string, string) {
	candidates := []domain.Address{msg.From}
	if msg.Direction == domain.DirectionInbound {
		candidates = append(append([]domain.Address{}, msg.To...), msg.Cc...)
	}
	for _, addr := range candidates {
		for _, box := range shop.Mailboxes {
			if strings.EqualFold(strings.TrimSpace(box.Address), strings.TrimSpace(addr.Email)) {
				category := box.Category
				if category == "" {
					category = defaultCategory
				}
				return strings.ToLower(box.Address), category
			}
		}
	}
	if len(shop.Mailboxes) > 0 {
		box := shop.Mailboxes[0]
		category := box.Category
		if category == "" {
			category = defaultCategory
		}
		return strings.ToLower(box.Address), category
	}
	return "", defaultCategory
}

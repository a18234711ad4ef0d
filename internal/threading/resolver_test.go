package threading

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/internal/repository/memory"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeOrders struct {
	order *domain.OrderRef
	err   error
	calls int
}

func (f *fakeOrders) FindRecentOrder(context.Context, string) (*domain.OrderRef, error) {
	f.calls++
	return f.order, f.err
}

func testShop() domain.Shop {
	return domain.Shop{
		ID:   7,
		Name: "Shop",
		Mailboxes: []domain.ShopMailbox{
			{Address: "sales@shop.com", Account: "sales", Category: "sales"},
			{Address: "support@shop.com", Account: "support", Category: "support"},
		},
	}
}

func inbound(id, subject string) domain.CanonicalMessage {
	return domain.CanonicalMessage{
		ProviderID: id,
		Direction:  domain.DirectionInbound,
		From:       domain.Address{Email: "cust@x.com", Name: "Cust"},
		To:         []domain.Address{{Email: "sales@shop.com"}},
		Subject:    subject,
		Timestamp:  t0,
	}
}

func resolve(t *testing.T, store repository.Store, r *Resolver, msg domain.CanonicalMessage) *Resolution {
	t.Helper()
	var res *Resolution
	err := store.WithinTx(context.Background(), func(tx repository.Store) error {
		var err error
		res, err = r.Resolve(context.Background(), tx, testShop(), msg)
		return err
	})
	require.NoError(t, err)
	return res
}

func TestResolveCreatesConversation(t *testing.T) {
	store := memory.New()
	orders := &fakeOrders{order: &domain.OrderRef{ID: "1001"}}
	r := NewResolver(orders, zap.NewNop(), func() time.Time { return t0 })

	res := resolve(t, store, r, inbound("m1", "Question about order"))
	require.True(t, res.Created)

	conv := res.Conversation
	assert.Equal(t, SubjectHash("Question about order", "cust@x.com"), conv.ThreadID)
	assert.Equal(t, domain.StatusOpen, conv.Status)
	assert.Equal(t, 1, conv.MessageCount)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, "cust@x.com", conv.CustomerEmail)
	assert.Equal(t, "sales", conv.Category)
	assert.Equal(t, "sales@shop.com", conv.Mailbox)
	assert.Regexp(t, regexp.MustCompile(`^TKT-7-\d{6}$`), conv.TicketNumber)
	require.NotNil(t, conv.OrderID)
	assert.Equal(t, "1001", *conv.OrderID)
}

func TestResolveUpdatesExistingConversation(t *testing.T) {
	store := memory.New()
	r := NewResolver(nil, zap.NewNop(), func() time.Time { return t0 })

	first := resolve(t, store, r, inbound("m1", "Question about order"))

	reply := domain.CanonicalMessage{
		ProviderID: "m2",
		Direction:  domain.DirectionOutbound,
		From:       domain.Address{Email: "sales@shop.com"},
		To:         []domain.Address{{Email: "cust@x.com"}},
		Subject:    "Re: Question about order",
		Timestamp:  t0.Add(time.Hour),
	}
	second := resolve(t, store, r, reply)
	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, 2, second.Conversation.MessageCount)
	assert.Equal(t, 1, second.Conversation.UnreadCount, "outbound never raises unread")
	assert.Equal(t, t0.Add(time.Hour), second.Conversation.LastMessageAt)

	third := inbound("m3", "RE: question about order")
	third.Timestamp = t0.Add(2 * time.Hour)
	res := resolve(t, store, r, third)
	assert.Equal(t, 3, res.Conversation.MessageCount)
	assert.Equal(t, 2, res.Conversation.UnreadCount)
}

func TestResolveFollowsReferencedMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := NewResolver(nil, zap.NewNop(), func() time.Time { return t0 })

	first := resolve(t, store, r, inbound("root@mail", "Question about order"))
	providerID := "root@mail"
	_, err := store.Messages().Insert(ctx, &domain.Message{
		ConversationID:    first.Conversation.ID,
		ShopID:            7,
		ProviderMessageID: &providerID,
		Direction:         domain.DirectionInbound,
		SentAt:            t0,
	})
	require.NoError(t, err)

	reply := inbound("child@mail", "Totally different subject")
	reply.InReplyTo = "root@mail"
	res := resolve(t, store, r, reply)
	assert.False(t, res.Created)
	assert.Equal(t, SourceInReplyTo, res.Source)
	assert.Equal(t, first.Conversation.ID, res.Conversation.ID)
}

func TestResolveFollowsMergedConversation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := NewResolver(nil, zap.NewNop(), func() time.Time { return t0 })

	source := resolve(t, store, r, inbound("m1", "First topic"))
	target := resolve(t, store, r, inbound("m2", "Second topic"))
	require.NoError(t, store.Conversations().MarkMerged(ctx, source.Conversation.ID, target.Conversation.ID, t0))

	res := resolve(t, store, r, inbound("m3", "Re: First topic"))
	assert.False(t, res.Created)
	assert.Equal(t, target.Conversation.ID, res.Conversation.ID)
}

func TestResolveOrderLookupFailureDoesNotBlock(t *testing.T) {
	store := memory.New()
	orders := &fakeOrders{err: errors.New("shopify down")}
	r := NewResolver(orders, zap.NewNop(), nil)

	res := resolve(t, store, r, inbound("m1", "Hello"))
	assert.True(t, res.Created)
	assert.Nil(t, res.Conversation.OrderID)
	assert.Equal(t, 1, orders.calls)
}

func TestResolveOutboundFirstMessage(t *testing.T) {
	store := memory.New()
	r := NewResolver(nil, zap.NewNop(), nil)

	msg := domain.CanonicalMessage{
		ProviderID: "out-1",
		Direction:  domain.DirectionOutbound,
		From:       domain.Address{Email: "support@shop.com"},
		To:         []domain.Address{{Email: "buyer@y.com", Name: "Buyer"}},
		Subject:    "Your order shipped",
		Timestamp:  t0,
	}
	res := resolve(t, store, r, msg)
	require.True(t, res.Created)
	assert.Equal(t, 0, res.Conversation.UnreadCount)
	assert.Equal(t, "buyer@y.com", res.Conversation.CustomerEmail)
	assert.Equal(t, "support", res.Conversation.Category)
	assert.NotContains(t, []string{"sales@shop.com", "support@shop.com"}, res.Conversation.CustomerEmail)
}

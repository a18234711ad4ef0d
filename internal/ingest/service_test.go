package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/autotag"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/events"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/internal/repository/memory"
	"github.com/spec-kit/support-inbox/internal/threading"
)

// Wednesday 10:00 UTC, inside default business hours.
var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeLookup struct {
	class domain.CustomerClass
}

func (f fakeLookup) FindRecentOrder(context.Context, string) (*domain.OrderRef, error) {
	return nil, nil
}

func (f fakeLookup) ClassifyCustomer(context.Context, string) (domain.CustomerClass, error) {
	return f.class, nil
}

type harness struct {
	store     *memory.Store
	service   *Service
	shop      domain.Shop
	published []events.Event
}

func newHarness(t *testing.T, class domain.CustomerClass) *harness {
	t.Helper()
	clock := func() time.Time { return t0 }
	store := memory.New()
	shop := domain.Shop{
		Name: "Acme",
		Mailboxes: []domain.ShopMailbox{
			{Address: "sales@shop.com", Account: "sales", Category: "sales"},
			{Address: "support@shop.com", Account: "support", Category: "support"},
		},
	}
	require.NoError(t, store.Shops().Create(context.Background(), &shop))

	h := &harness{store: store, shop: shop}
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	for _, eventType := range []events.EventType{events.EventConversationCreated, events.EventMessageIngested, events.EventActivityRecorded} {
		dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			h.published = append(h.published, e)
			return nil
		})
	}

	lookup := fakeLookup{class: class}
	log := activitylog.New(dispatcher, zap.NewNop(), clock)
	resolver := threading.NewResolver(lookup, zap.NewNop(), clock)
	tagger := autotag.New(lookup, log, nil, zap.NewNop(), clock, 0)
	h.service = NewService(store, resolver, tagger, log, dispatcher, nil, zap.NewNop(), clock)
	return h
}

func customerMail(id, subject string, at time.Time) domain.CanonicalMessage {
	return domain.CanonicalMessage{
		ProviderID: id,
		Account:    "sales",
		Folder:     domain.FolderInbox,
		Direction:  domain.DirectionInbound,
		From:       domain.Address{Email: "cust@x.com", Name: "Cust"},
		To:         []domain.Address{{Email: "sales@shop.com"}},
		Subject:    subject,
		BodyText:   "Where is my parcel?",
		Timestamp:  at,
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.CustomerClass{})
	msg := customerMail("m1@mail", "Question about order", t0)

	first, err := h.service.Ingest(ctx, h.shop.ID, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)

	second, err := h.service.Ingest(ctx, h.shop.ID, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	conv, err := h.store.Conversations().GetByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.MessageCount)
	assert.Equal(t, 1, conv.UnreadCount)

	msgs, err := h.store.Messages().ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestIngestNewInboundTagsConversation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.CustomerClass{HasCompletedOrders: true})

	res, err := h.service.Ingest(ctx, h.shop.ID, customerMail("m1@mail", "Question about order", t0))
	require.NoError(t, err)

	conv, err := h.store.Conversations().GetByID(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.TagCustomer}, conv.Tags)
	assert.Equal(t, domain.PriorityNormal, conv.Priority)
	assert.Equal(t, threading.SubjectHash("Question about order", "cust@x.com"), conv.ThreadID)
	assert.Equal(t, domain.StatusOpen, conv.Status)

	// auto-response is disabled by default
	assert.Empty(t, h.store.Recorded().Tasks())

	var types []events.EventType
	for _, e := range h.published {
		types = append(types, e.Type)
	}
	assert.Equal(t, []events.EventType{events.EventActivityRecorded, events.EventConversationCreated, events.EventMessageIngested}, types)
}

func TestIngestQueuesAutoResponse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.CustomerClass{})

	automation := domain.DefaultAutomationSettings(h.shop.ID)
	automation.AutoResponseEnabled = true
	automation.AutoResponseBusinessHours = "Hi {{customer_name}}, got {{ticket_number}}."
	automation.AutoResponseAfterHours = "Hi {{customer_name}}, we are closed."
	require.NoError(t, h.store.Settings().SaveAutomation(ctx, &automation))

	res, err := h.service.Ingest(ctx, h.shop.ID, customerMail("m1@mail", "Question about order", t0))
	require.NoError(t, err)

	tasks := h.store.Recorded().Tasks()
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, domain.TaskAutoResponse, task.Kind)
	assert.True(t, task.RecordMessage)
	require.NotNil(t, task.ConversationID)
	assert.Equal(t, res.ConversationID, *task.ConversationID)
	assert.Equal(t, "cust@x.com", task.Envelope.To)
	assert.Equal(t, "sales", task.Envelope.FromAccount)
	assert.Equal(t, "Re: Question about order", task.Envelope.Subject)
	assert.Equal(t, "m1@mail", task.Envelope.InReplyTo)
	assert.Contains(t, task.Envelope.Text, "Hi Cust, got TKT-")

	// a follow-up in the same thread never triggers another auto-response
	_, err = h.service.Ingest(ctx, h.shop.ID, customerMail("m2@mail", "Re: Question about order", t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Len(t, h.store.Recorded().Tasks(), 1)
}

func TestIngestOutboundReplyMarksFirstResponse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.CustomerClass{})

	first, err := h.service.Ingest(ctx, h.shop.ID, customerMail("m1@mail", "Question about order", t0))
	require.NoError(t, err)

	reply := domain.CanonicalMessage{
		ProviderID: "m2@mail",
		Account:    "sales",
		Folder:     domain.FolderSent,
		Direction:  domain.DirectionOutbound,
		From:       domain.Address{Email: "sales@shop.com"},
		To:         []domain.Address{{Email: "cust@x.com"}},
		Subject:    "RE: Question about order",
		InReplyTo:  "m1@mail",
		Timestamp:  t0.Add(30 * time.Minute),
	}
	res, err := h.service.Ingest(ctx, h.shop.ID, reply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, res.Outcome)
	assert.Equal(t, first.ConversationID, res.ConversationID)

	conv, err := h.store.Conversations().GetByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, 1, conv.UnreadCount)
	require.NotNil(t, conv.FirstResponseAt)
	assert.Equal(t, t0.Add(30*time.Minute), *conv.FirstResponseAt)

	stored, err := h.store.Messages().GetByID(ctx, res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, stored.Status)
}

func TestIngestCustomerReplyReopensPendingTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.CustomerClass{})

	first, err := h.service.Ingest(ctx, h.shop.ID, customerMail("m1@mail", "Question about order", t0))
	require.NoError(t, err)
	changed, err := h.store.Conversations().SetStatusIf(ctx, first.ConversationID, domain.StatusOpen,
		repository.StatusUpdate{To: domain.StatusPendingCustomer, At: t0})
	require.NoError(t, err)
	require.True(t, changed)
	bumped, err := h.store.Conversations().IncrementReminder(ctx, first.ConversationID, 0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, bumped)

	answer := customerMail("m2@mail", "RE: Question about order", t0.Add(2*time.Hour))
	answer.InReplyTo = "m1@mail"
	res, err := h.service.Ingest(ctx, h.shop.ID, answer)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, res.Outcome)
	assert.Equal(t, first.ConversationID, res.ConversationID)

	conv, err := h.store.Conversations().GetByID(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, conv.Status)
	assert.Equal(t, 0, conv.ReminderCount)
	assert.Nil(t, conv.LastReminderAt)

	activities, _, err := h.store.Activities().ListByConversation(ctx, conv.ID, 50, 0)
	require.NoError(t, err)
	var reopened []domain.Activity
	for _, a := range activities {
		if a.ActionType == domain.ActionStatusChange {
			reopened = append(reopened, a)
		}
	}
	require.Len(t, reopened, 1)
	assert.Equal(t, string(domain.StatusPendingCustomer), reopened[0].FromValue)
	assert.Equal(t, string(domain.StatusOpen), reopened[0].ToValue)
	assert.Nil(t, reopened[0].StaffID)
	assert.Equal(t, "customer_reply", reopened[0].Metadata["trigger"])
}

func TestIngestCustomerReplyLeavesOpenTicketAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.CustomerClass{})

	first, err := h.service.Ingest(ctx, h.shop.ID, customerMail("m1@mail", "Question about order", t0))
	require.NoError(t, err)
	answer := customerMail("m2@mail", "RE: Question about order", t0.Add(time.Hour))
	answer.InReplyTo = "m1@mail"
	_, err = h.service.Ingest(ctx, h.shop.ID, answer)
	require.NoError(t, err)

	activities, _, err := h.store.Activities().ListByConversation(ctx, first.ConversationID, 50, 0)
	require.NoError(t, err)
	for _, a := range activities {
		assert.NotEqual(t, domain.ActionStatusChange, a.ActionType)
	}
}

func TestIngestUnknownShop(t *testing.T) {
	h := newHarness(t, domain.CustomerClass{})
	_, err := h.service.Ingest(context.Background(), 999, customerMail("m1@mail", "x", t0))
	assert.Error(t, err)
}

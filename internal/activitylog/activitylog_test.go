package activitylog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/events"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/internal/repository/memory"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*memory.Store, *domain.Conversation, *Log, *[]events.Event) {
	t.Helper()
	store := memory.New()
	conv := &domain.Conversation{ShopID: 1, ThreadID: "t", Status: domain.StatusOpen, CreatedAt: now, LastMessageAt: now}
	require.NoError(t, store.Conversations().Create(context.Background(), conv))

	var published []events.Event
	d := events.NewInMemoryDispatcher(nil)
	d.Subscribe(events.EventActivityRecorded, func(_ context.Context, e events.Event) error {
		published = append(published, e)
		return nil
	})
	return store, conv, New(d, nil, func() time.Time { return now }), &published
}

func TestAppendWritesAndPublishes(t *testing.T) {
	store, conv, log, published := setup(t)

	entry := &domain.Activity{ConversationID: conv.ID, ActionType: domain.ActionStatusChange, FromValue: "open", ToValue: "resolved"}
	require.NoError(t, log.Append(context.Background(), store, conv.ShopID, entry))

	assert.NotZero(t, entry.ID)
	assert.Equal(t, now, entry.CreatedAt)
	require.Len(t, *published, 1)
	assert.Equal(t, conv.ID, (*published)[0].ConversationID)
	assert.Equal(t, int64(1), (*published)[0].ShopID)
}

func TestWithinTxPublishesNothingOnRollback(t *testing.T) {
	store, conv, log, published := setup(t)

	err := log.WithinTx(context.Background(), store, conv.ShopID, func(_ repository.Store, w *Writer) error {
		require.NoError(t, w.Append(context.Background(), &domain.Activity{ConversationID: conv.ID, ActionType: domain.ActionNote}))
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, *published)

	_, total, err := store.Activities().ListByConversation(context.Background(), conv.ID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestAppendSLABreachOnceSkipsDuplicates(t *testing.T) {
	store, conv, log, published := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := log.WithinTx(ctx, store, conv.ShopID, func(_ repository.Store, w *Writer) error {
			_, err := w.AppendSLABreachOnce(ctx, &domain.Activity{ConversationID: conv.ID, ToValue: "4h"}, domain.SLAFirstResponse)
			return err
		})
		require.NoError(t, err)
	}
	assert.Len(t, *published, 1)
}

// Package activitylog is the single writer of the conversation audit trail.
package activitylog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/events"
	"github.com/spec-kit/support-inbox/internal/repository"
)

// Log appends activities and publishes them once their transaction commits.
type Log struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	clock      func() time.Time
}

// New builds a Log. dispatcher may be nil.
func New(dispatcher events.Dispatcher, logger *zap.Logger, clock func() time.Time) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Log{dispatcher: dispatcher, logger: logger, clock: clock}
}

// Writer appends activities inside one transaction.
type Writer struct {
	log     *Log
	store   repository.Store
	mu      sync.Mutex
	written []domain.Activity
}

// WithinTx runs fn in a store transaction and publishes every activity fn
// appended after a successful commit.
func (l *Log) WithinTx(ctx context.Context, store repository.Store, shopID int64, fn func(tx repository.Store, w *Writer) error) error {
	var writer *Writer
	err := store.WithinTx(ctx, func(tx repository.Store) error {
		writer = &Writer{log: l, store: tx}
		return fn(tx, writer)
	})
	if err != nil {
		return err
	}
	l.publish(ctx, shopID, writer.written)
	return nil
}

// Append writes a single activity in its own transaction.
func (l *Log) Append(ctx context.Context, store repository.Store, shopID int64, entry *domain.Activity) error {
	return l.WithinTx(ctx, store, shopID, func(_ repository.Store, w *Writer) error {
		return w.Append(ctx, entry)
	})
}

// Append inserts entry. CreatedAt defaults to the log clock.
func (w *Writer) Append(ctx context.Context, entry *domain.Activity) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = w.log.clock()
	}
	if err := w.store.Activities().Insert(ctx, entry); err != nil {
		return err
	}
	w.remember(*entry)
	return nil
}

// AppendSLABreachOnce inserts an sla_breach activity unless one already exists for slaType.
func (w *Writer) AppendSLABreachOnce(ctx context.Context, entry *domain.Activity, slaType domain.SLAType) (bool, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = w.log.clock()
	}
	inserted, err := w.store.Activities().InsertSLABreachOnce(ctx, entry, slaType)
	if err != nil || !inserted {
		return false, err
	}
	w.remember(*entry)
	return true, nil
}

func (w *Writer) remember(entry domain.Activity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, entry)
}

func (l *Log) publish(ctx context.Context, shopID int64, written []domain.Activity) {
	if l.dispatcher == nil {
		return
	}
	for _, entry := range written {
		event := events.Event{
			ID:             uuid.NewString(),
			Type:           events.EventActivityRecorded,
			ShopID:         shopID,
			ConversationID: entry.ConversationID,
			StaffID:        entry.StaffID,
			Timestamp:      entry.CreatedAt,
			Payload: events.ActivityPayload{
				ActivityID: entry.ID,
				ActionType: entry.ActionType,
				FromValue:  entry.FromValue,
				ToValue:    entry.ToValue,
				MessageID:  entry.MessageID,
				Metadata:   entry.Metadata,
			},
		}
		if err := l.dispatcher.Publish(ctx, event); err != nil {
			l.logger.Warn("publish activity event", zap.Int64("activity_id", entry.ID), zap.Error(err))
		}
	}
}

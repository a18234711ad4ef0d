package jobqueue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/mail"
	"github.com/spec-kit/support-inbox/internal/observability"
	"github.com/spec-kit/support-inbox/internal/repository"
)

// Deliverer sends one outbound task through the mail provider and, when the
// task asks for it, stores the sent email on its conversation.
type Deliverer struct {
	store    repository.Store
	provider mail.Provider
	metrics  *observability.Metrics
	logger   *zap.Logger
	clock    func() time.Time
}

// NewDeliverer builds a Deliverer. metrics may be nil.
func NewDeliverer(store repository.Store, provider mail.Provider, metrics *observability.Metrics, logger *zap.Logger, clock func() time.Time) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Deliverer{store: store, provider: provider, metrics: metrics, logger: logger, clock: clock}
}

// Deliver sends task. A send failure is returned so the caller can retry; a
// failure to record an already sent email is only logged, since retrying
// would send it twice.
func (d *Deliverer) Deliver(ctx context.Context, task domain.OutboundTask) error {
	providerID, err := d.provider.SendMessage(ctx, task.Envelope)
	d.metrics.RecordDelivery(string(task.Kind), err)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", task.Kind, task.Envelope.To, err)
	}

	d.logger.Info("outbound email sent",
		zap.String("kind", string(task.Kind)),
		zap.Int64("shop_id", task.ShopID),
		zap.String("provider_id", providerID),
	)
	if !task.RecordMessage || task.ConversationID == nil {
		return nil
	}
	if err := d.record(ctx, task, providerID); err != nil {
		d.logger.Error("record sent email",
			zap.Int64("conversation_id", *task.ConversationID),
			zap.String("provider_id", providerID),
			zap.Error(err),
		)
	}
	return nil
}

func (d *Deliverer) record(ctx context.Context, task domain.OutboundTask, providerID string) error {
	now := d.clock()
	return d.store.WithinTx(ctx, func(tx repository.Store) error {
		conv, err := tx.Conversations().GetByID(ctx, *task.ConversationID)
		if err != nil {
			return err
		}
		msg := &domain.Message{
			ConversationID: conv.ID,
			ShopID:         conv.ShopID,
			Direction:      domain.DirectionOutbound,
			FromAddress:    conv.Mailbox,
			ToAddress:      task.Envelope.To,
			ToName:         task.Envelope.ToName,
			Subject:        task.Envelope.Subject,
			BodyText:       task.Envelope.Text,
			BodyHTML:       task.Envelope.HTML,
			Status:         domain.MessageStatusSent,
			StaffID:        task.StaffID,
			InReplyTo:      task.Envelope.InReplyTo,
			References:     task.Envelope.References,
			SentAt:         now,
		}
		if providerID != "" {
			msg.ProviderMessageID = &providerID
		}
		inserted, err := tx.Messages().Insert(ctx, msg)
		if err != nil || !inserted {
			return err
		}
		return tx.Conversations().RecordMessage(ctx, conv.ID, now, false)
	})
}

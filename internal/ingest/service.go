// Package ingest stores fetched mail against conversations and polls the
// provider for new messages.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/autotag"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/events"
	"github.com/spec-kit/support-inbox/internal/notify"
	"github.com/spec-kit/support-inbox/internal/observability"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/internal/settings"
	"github.com/spec-kit/support-inbox/internal/threading"
)

// Outcome describes what happened to one ingested message.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeAppended  Outcome = "appended"
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInternal is sent mail addressed only to the shop's own staff,
	// such as escalation and assignment notices. It is not stored.
	OutcomeInternal Outcome = "internal"
	OutcomeFailed   Outcome = "failed"
)

// Result reports the stored message and its conversation.
type Result struct {
	Outcome        Outcome
	ConversationID int64
	MessageID      int64
}

// errDuplicate rolls back the conversation counter bump when another writer
// stored the same provider id first.
var errDuplicate = errors.New("message already ingested")

// Service runs one message through idempotency, threading and storage.
type Service struct {
	store      repository.Store
	resolver   *threading.Resolver
	tagger     *autotag.Engine
	activities *activitylog.Log
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
}

// NewService wires the ingest path. tagger, dispatcher and metrics may be nil.
func NewService(
	store repository.Store,
	resolver *threading.Resolver,
	tagger *autotag.Engine,
	activities *activitylog.Log,
	dispatcher events.Dispatcher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	clock func() time.Time,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:      store,
		resolver:   resolver,
		tagger:     tagger,
		activities: activities,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		clock:      clock,
	}
}

// Ingest stores msg for shopID. Re-ingesting a provider id already stored is a
// no-op reported as OutcomeDuplicate.
func (s *Service) Ingest(ctx context.Context, shopID int64, msg domain.CanonicalMessage) (*Result, error) {
	shop, err := s.store.Shops().GetByID(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("load shop %d: %w", shopID, err)
	}
	return s.IngestForShop(ctx, *shop, msg)
}

// IngestForShop is Ingest with the shop already loaded.
func (s *Service) IngestForShop(ctx context.Context, shop domain.Shop, msg domain.CanonicalMessage) (*Result, error) {
	result, err := s.ingest(ctx, shop, msg)
	outcome := OutcomeFailed
	if result != nil {
		outcome = result.Outcome
	}
	s.metrics.RecordIngest(string(msg.Direction), string(outcome))
	return result, err
}

func (s *Service) ingest(ctx context.Context, shop domain.Shop, msg domain.CanonicalMessage) (*Result, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock()
	}
	if msg.ProviderID != "" {
		exists, err := s.store.Messages().ExistsByProviderID(ctx, msg.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("check provider id %q: %w", msg.ProviderID, err)
		}
		if exists {
			return &Result{Outcome: OutcomeDuplicate}, nil
		}
	}
	if msg.Direction == domain.DirectionOutbound {
		internal, err := s.staffOnly(ctx, shop, msg)
		if err != nil {
			return nil, err
		}
		if internal {
			s.logger.Debug("skipping staff-only sent mail",
				zap.Int64("shop_id", shop.ID),
				zap.String("provider_id", msg.ProviderID))
			return &Result{Outcome: OutcomeInternal}, nil
		}
	}

	var (
		resolution *threading.Resolution
		stored     *domain.Message
	)
	err := s.activities.WithinTx(ctx, s.store, shop.ID, func(tx repository.Store, w *activitylog.Writer) error {
		var err error
		resolution, err = s.resolver.Resolve(ctx, tx, shop, msg)
		if err != nil {
			return err
		}

		stored = messageFrom(shop.ID, resolution.Conversation.ID, msg)
		inserted, err := tx.Messages().Insert(ctx, stored)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if !inserted {
			return errDuplicate
		}

		conv := resolution.Conversation
		if msg.Direction == domain.DirectionOutbound && !resolution.Created && conv.FirstResponseAt == nil {
			if err := tx.Conversations().MarkFirstResponse(ctx, conv.ID, stored.SentAt); err != nil {
				return err
			}
		}
		if resolution.Created && msg.Direction == domain.DirectionInbound {
			return s.onNewInbound(ctx, tx, w, shop, conv, msg)
		}
		if !resolution.Created && msg.Direction == domain.DirectionInbound && conv.Status == domain.StatusPendingCustomer {
			return s.reopen(ctx, tx, w, conv)
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return &Result{Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		Outcome:        OutcomeAppended,
		ConversationID: resolution.Conversation.ID,
		MessageID:      stored.ID,
	}
	if resolution.Created {
		result.Outcome = OutcomeCreated
	}
	s.publish(ctx, shop.ID, resolution, stored)
	return result, nil
}

// reopen moves a pending_customer conversation back to open after the
// customer answers, stopping reminders and auto-close.
func (s *Service) reopen(ctx context.Context, tx repository.Store, w *activitylog.Writer, conv *domain.Conversation) error {
	now := s.clock()
	changed, err := tx.Conversations().SetStatusIf(ctx, conv.ID, domain.StatusPendingCustomer, repository.StatusUpdate{
		To:             domain.StatusOpen,
		At:             now,
		ResetReminders: true,
	})
	if err != nil {
		return fmt.Errorf("reopen conversation %d: %w", conv.ID, err)
	}
	if !changed {
		return nil
	}
	conv.Status = domain.StatusOpen
	return w.Append(ctx, &domain.Activity{
		ConversationID: conv.ID,
		ActionType:     domain.ActionStatusChange,
		FromValue:      string(domain.StatusPendingCustomer),
		ToValue:        string(domain.StatusOpen),
		Metadata:       map[string]any{"trigger": "customer_reply"},
		CreatedAt:      now,
	})
}

// staffOnly reports whether every recipient outside the shop's own mailboxes
// is an active or inactive staff member of the shop.
func (s *Service) staffOnly(ctx context.Context, shop domain.Shop, msg domain.CanonicalMessage) (bool, error) {
	mailboxes := shop.Addresses()
	found := false
	for _, addr := range append(append([]domain.Address(nil), msg.To...), msg.Cc...) {
		email := strings.ToLower(strings.TrimSpace(addr.Email))
		if email == "" || mailboxes.Contains(email) {
			continue
		}
		member, err := s.store.Staff().GetByEmail(ctx, email)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("look up recipient %q: %w", email, err)
		}
		if member.ShopID != shop.ID {
			return false, nil
		}
		found = true
	}
	return found, nil
}

// onNewInbound tags the conversation and queues the first auto-response in
// the creating transaction.
func (s *Service) onNewInbound(ctx context.Context, tx repository.Store, w *activitylog.Writer, shop domain.Shop, conv *domain.Conversation, msg domain.CanonicalMessage) error {
	automation, err := settings.Automation(ctx, tx, shop.ID)
	if err != nil {
		return err
	}

	if automation.AutoTagEnabled && s.tagger != nil {
		classification := s.tagger.Classify(ctx, conv.CustomerEmail)
		if err := s.tagger.Apply(ctx, tx, w, conv, classification); err != nil {
			return fmt.Errorf("auto-tag conversation %d: %w", conv.ID, err)
		}
	}

	if !automation.AutoResponseEnabled {
		return nil
	}
	hours, err := settings.BusinessHours(ctx, tx, shop.ID)
	if err != nil {
		return err
	}
	template := automation.AutoResponseBusinessHours
	if !hours.IsOpen(s.clock()) && strings.TrimSpace(automation.AutoResponseAfterHours) != "" {
		template = automation.AutoResponseAfterHours
	}
	if strings.TrimSpace(template) == "" {
		return nil
	}

	text := notify.Render(template, notify.VarsFor(shop, *conv))
	envelope := notify.CustomerEnvelope(shop, *conv, notify.ReplySubject(conv.Subject), text, nil)
	if msg.ProviderID != "" {
		envelope.InReplyTo = msg.ProviderID
		envelope.References = append(append([]string(nil), msg.References...), msg.ProviderID)
	}
	convID := conv.ID
	return tx.Outbox().Enqueue(ctx, domain.OutboundTask{
		Kind:           domain.TaskAutoResponse,
		ShopID:         shop.ID,
		ConversationID: &convID,
		Envelope:       envelope,
		RecordMessage:  true,
	})
}

func (s *Service) publish(ctx context.Context, shopID int64, resolution *threading.Resolution, stored *domain.Message) {
	if s.dispatcher == nil {
		return
	}
	conv := resolution.Conversation
	var list []events.Event
	if resolution.Created {
		list = append(list, events.Event{
			ID:             uuid.NewString(),
			Type:           events.EventConversationCreated,
			ShopID:         shopID,
			ConversationID: conv.ID,
			Timestamp:      conv.CreatedAt,
			Payload: events.ConversationCreatedPayload{
				TicketNumber:  conv.TicketNumber,
				CustomerEmail: conv.CustomerEmail,
				Category:      conv.Category,
				Priority:      conv.Priority,
				Direction:     stored.Direction,
			},
		})
	}
	providerID := ""
	if stored.ProviderMessageID != nil {
		providerID = *stored.ProviderMessageID
	}
	list = append(list, events.Event{
		ID:             uuid.NewString(),
		Type:           events.EventMessageIngested,
		ShopID:         shopID,
		ConversationID: conv.ID,
		Timestamp:      stored.SentAt,
		Payload: events.MessageIngestedPayload{
			MessageID:         stored.ID,
			ProviderMessageID: providerID,
			Direction:         stored.Direction,
			Subject:           stored.Subject,
		},
	})
	for _, event := range list {
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			s.logger.Warn("publish ingest event", zap.String("type", string(event.Type)), zap.Error(err))
		}
	}
}

func messageFrom(shopID, conversationID int64, msg domain.CanonicalMessage) *domain.Message {
	to := msg.FirstTo()
	cc := make([]string, 0, len(msg.Cc))
	for _, addr := range msg.Cc {
		cc = append(cc, addr.Email)
	}
	status := domain.MessageStatusUnread
	if msg.Direction == domain.DirectionOutbound {
		status = domain.MessageStatusSent
	}
	stored := &domain.Message{
		ConversationID: conversationID,
		ShopID:         shopID,
		Direction:      msg.Direction,
		FromAddress:    msg.From.Email,
		FromName:       msg.From.Name,
		ToAddress:      to.Email,
		ToName:         to.Name,
		Cc:             cc,
		Subject:        msg.Subject,
		BodyText:       msg.BodyText,
		BodyHTML:       msg.BodyHTML,
		Status:         status,
		InReplyTo:      msg.InReplyTo,
		References:     msg.References,
		SentAt:         msg.Timestamp,
	}
	if msg.ProviderID != "" {
		id := msg.ProviderID
		stored.ProviderMessageID = &id
	}
	return stored
}

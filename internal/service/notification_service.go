package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/events"
	"github.com/spec-kit/support-inbox/internal/notify"
	"github.com/spec-kit/support-inbox/internal/repository"
)

// NotificationService emails staff about activity that concerns them.
type NotificationService struct {
	dispatcher events.Dispatcher
	store      repository.Store
	logger     *zap.Logger
	cfg        config.MailConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, store repository.Store, logger *zap.Logger, cfg config.MailConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil || !n.cfg.NotifyAssignee {
		return
	}
	n.dispatcher.Subscribe(events.EventActivityRecorded, n.handleActivityRecorded)
}

// handleActivityRecorded queues a notice to the new assignee unless they
// assigned the ticket to themselves.
func (n *NotificationService) handleActivityRecorded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.ActivityPayload)
	if !ok || payload.ActionType != domain.ActionAssignment {
		return nil
	}
	assignee, ok := metadataID(payload.Metadata["to_staff_id"])
	if !ok {
		return nil
	}
	if event.StaffID != nil && *event.StaffID == assignee {
		return nil
	}

	member, err := n.store.Staff().GetByID(ctx, assignee)
	if err != nil {
		return fmt.Errorf("load assignee %d: %w", assignee, err)
	}
	if !member.IsActive || member.Email == "" {
		return nil
	}
	conv, err := n.store.Conversations().GetByID(ctx, event.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation %d: %w", event.ConversationID, err)
	}
	shop, err := n.store.Shops().GetByID(ctx, conv.ShopID)
	if err != nil {
		return fmt.Errorf("load shop %d: %w", conv.ShopID, err)
	}

	convID, staffID := conv.ID, member.ID
	task := domain.OutboundTask{
		Kind:           domain.TaskAssignmentNotice,
		ShopID:         shop.ID,
		ConversationID: &convID,
		StaffID:        &staffID,
		Envelope:       assignmentEnvelope(*shop, *conv, *member, payload.FromValue),
	}
	if err := n.store.Outbox().Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue assignment notice: %w", err)
	}
	n.logger.Debug("assignment notice queued",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("staff_id", member.ID))
	return nil
}

func assignmentEnvelope(shop domain.Shop, conv domain.Conversation, member domain.StaffMember, previous string) domain.Envelope {
	text := fmt.Sprintf("Hi %s,\n\n%s (%s) from %s is now assigned to you.", member.Name, conv.TicketNumber, conv.Subject, conv.CustomerEmail)
	if previous != "" {
		text += fmt.Sprintf("\nPreviously assigned to %s.", previous)
	}
	return domain.Envelope{
		FromAccount: notify.SendingAccount(shop, conv),
		To:          member.Email,
		ToName:      member.Name,
		Subject:     fmt.Sprintf("[Assigned] %s %s", conv.TicketNumber, conv.Subject),
		Text:        text,
		HTML:        notify.TextToHTML(text),
	}
}

func metadataID(v any) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case float64:
		return int64(id), true
	default:
		return 0, false
	}
}

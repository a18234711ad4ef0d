package automation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/notify"
	"github.com/spec-kit/support-inbox/internal/repository"
)

// runEscalation flags open and assigned conversations that have waited longer
// than the threshold, then optionally notifies every active staff member.
func (s *Scheduler) runEscalation(ctx context.Context, shop domain.Shop, cfg domain.AutomationSettings, now time.Time) (counts, error) {
	if !cfg.EscalationEnabled {
		return counts{}, nil
	}
	threshold := hours(cfg.EscalationAfter)
	cutoff := now.Add(-threshold)
	notEscalated := false
	convs, err := s.candidates(ctx, repository.ConversationFilter{
		ShopID:            &shop.ID,
		Statuses:          []domain.ConversationStatus{domain.StatusOpen, domain.StatusAssigned},
		Escalated:         &notEscalated,
		LastMessageBefore: &cutoff,
	})
	if err != nil {
		return counts{}, err
	}

	result, escalated := s.eachCommitted(ctx, domain.JobEscalation, shop.ID, convs, func(tx repository.Store, w *activitylog.Writer, conv domain.Conversation) error {
		flipped, err := tx.Conversations().MarkEscalated(ctx, conv.ID, now)
		if err != nil {
			return err
		}
		if !flipped {
			return errSkip
		}
		return w.Append(ctx, &domain.Activity{
			ConversationID: conv.ID,
			ActionType:     domain.ActionEscalation,
			FromValue:      "false",
			ToValue:        "true",
			Metadata: map[string]any{
				"threshold_hours": cfg.EscalationAfter,
				"waiting_minutes": int(now.Sub(conv.LastMessageAt) / time.Minute),
				"status":          string(conv.Status),
			},
			CreatedAt: now,
		})
	})

	if cfg.EscalationNotifyStaff && len(escalated) > 0 {
		s.notifyStaff(ctx, shop, escalated)
	}
	return result, nil
}

// notifyStaff queues one notice per active staff member and conversation.
// Failures are logged per recipient and never fail the job.
func (s *Scheduler) notifyStaff(ctx context.Context, shop domain.Shop, escalated []domain.Conversation) {
	active := true
	staff, err := s.store.Staff().List(ctx, repository.StaffFilter{ShopID: shop.ID, Active: &active})
	if err != nil {
		s.logger.Error("list staff for escalation notice", zap.Int64("shop_id", shop.ID), zap.Error(err))
		return
	}
	outbox := s.store.Outbox()
	for _, conv := range escalated {
		for _, member := range staff {
			if member.Email == "" {
				continue
			}
			convID, staffID := conv.ID, member.ID
			task := domain.OutboundTask{
				Kind:           domain.TaskEscalationNotice,
				ShopID:         shop.ID,
				ConversationID: &convID,
				StaffID:        &staffID,
				Envelope:       escalationEnvelope(shop, conv, member),
			}
			if err := outbox.Enqueue(ctx, task); err != nil {
				s.logger.Warn("queue escalation notice",
					zap.Int64("conversation_id", conv.ID),
					zap.Int64("staff_id", member.ID),
					zap.Error(err),
				)
			}
		}
	}
}

func escalationEnvelope(shop domain.Shop, conv domain.Conversation, member domain.StaffMember) domain.Envelope {
	text := fmt.Sprintf("Hi %s,\n\n%s (%s) from %s has been waiting since %s and was escalated.",
		member.Name, conv.TicketNumber, conv.Subject, conv.CustomerEmail, conv.LastMessageAt.Format(time.RFC1123))
	return domain.Envelope{
		FromAccount: notify.SendingAccount(shop, conv),
		To:          member.Email,
		ToName:      member.Name,
		Subject:     fmt.Sprintf("[Escalated] %s %s", conv.TicketNumber, conv.Subject),
		Text:        text,
		HTML:        notify.TextToHTML(text),
	}
}

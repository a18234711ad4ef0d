package automation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/notify"
	"github.com/spec-kit/support-inbox/internal/repository"
)

// runReminders nudges customers on pending_customer conversations. The
// reminder is claimed with a conditional increment before it is queued, so a
// concurrent run can never send the same ordinal twice.
func (s *Scheduler) runReminders(ctx context.Context, shop domain.Shop, cfg domain.AutomationSettings, now time.Time) (counts, error) {
	if !cfg.RemindersEnabled || cfg.MaxReminders <= 0 {
		return counts{}, nil
	}
	convs, err := s.candidates(ctx, repository.ConversationFilter{
		ShopID:   &shop.ID,
		Statuses: []domain.ConversationStatus{domain.StatusPendingCustomer},
	})
	if err != nil {
		return counts{}, err
	}

	interval := hours(cfg.ReminderInterval)
	var due []domain.Conversation
	for _, conv := range convs {
		if conv.ReminderCount >= cfg.MaxReminders {
			continue
		}
		if now.Sub(reminderAnchor(conv)) < interval {
			continue
		}
		due = append(due, conv)
	}

	return s.each(ctx, domain.JobReminders, shop.ID, due, func(tx repository.Store, w *activitylog.Writer, conv domain.Conversation) error {
		ordinal := conv.ReminderCount + 1
		template := cfg.ReminderTemplate(ordinal)
		if template == "" {
			s.logger.Debug("no reminder template for ordinal", zap.Int64("conversation_id", conv.ID), zap.Int("ordinal", ordinal))
			return errSkip
		}

		claimed, err := tx.Conversations().IncrementReminder(ctx, conv.ID, conv.ReminderCount, now)
		if err != nil {
			return err
		}
		if !claimed {
			return errSkip
		}

		text := notify.Render(template, notify.VarsFor(shop, conv))
		if err := s.enqueueCustomerMail(ctx, tx, shop, conv, domain.TaskReminder, notify.ReplySubject(conv.Subject), text); err != nil {
			return err
		}
		return w.Append(ctx, &domain.Activity{
			ConversationID: conv.ID,
			ActionType:     domain.ActionReminderSent,
			FromValue:      strconv.Itoa(conv.ReminderCount),
			ToValue:        strconv.Itoa(ordinal),
			Metadata:       map[string]any{"ordinal": ordinal, "max_reminders": cfg.MaxReminders},
			CreatedAt:      now,
		})
	}), nil
}

// runAutoClose closes pending_customer conversations whose reminders are used
// up and whose last reminder is older than the auto-close window.
func (s *Scheduler) runAutoClose(ctx context.Context, shop domain.Shop, cfg domain.AutomationSettings, now time.Time) (counts, error) {
	if !cfg.AutoCloseEnabled {
		return counts{}, nil
	}
	convs, err := s.candidates(ctx, repository.ConversationFilter{
		ShopID:   &shop.ID,
		Statuses: []domain.ConversationStatus{domain.StatusPendingCustomer},
	})
	if err != nil {
		return counts{}, err
	}

	window := hours(cfg.AutoCloseAfter)
	var due []domain.Conversation
	for _, conv := range convs {
		if conv.ReminderCount < cfg.MaxReminders {
			continue
		}
		if now.Sub(reminderAnchor(conv)) < window {
			continue
		}
		due = append(due, conv)
	}

	return s.each(ctx, domain.JobAutoClose, shop.ID, due, func(tx repository.Store, w *activitylog.Writer, conv domain.Conversation) error {
		minutes := domain.ResolutionMinutes(conv.CreatedAt, now)
		resolvedAt := now
		closed, err := tx.Conversations().SetStatusIf(ctx, conv.ID, domain.StatusPendingCustomer, repository.StatusUpdate{
			To:                domain.StatusClosed,
			At:                now,
			ResolvedAt:        &resolvedAt,
			ResolutionMinutes: &minutes,
			ClearEscalation:   true,
		})
		if err != nil {
			return err
		}
		if !closed {
			return errSkip
		}

		if conv.AssignedTo != nil {
			if err := tx.Staff().Increment(ctx, *conv.AssignedTo, repository.CounterTicketsResolved); err != nil {
				return err
			}
		}
		if body := cfg.CloseNoticeBody; body != "" {
			vars := notify.VarsFor(shop, conv)
			subject := notify.Render(cfg.CloseNoticeSubject, vars)
			if subject == "" {
				subject = notify.ReplySubject(conv.Subject)
			}
			if err := s.enqueueCustomerMail(ctx, tx, shop, conv, domain.TaskCloseNotice, subject, notify.Render(body, vars)); err != nil {
				return err
			}
		}
		return w.Append(ctx, &domain.Activity{
			ConversationID: conv.ID,
			ActionType:     domain.ActionStatusChange,
			FromValue:      string(domain.StatusPendingCustomer),
			ToValue:        string(domain.StatusClosed),
			Metadata:       map[string]any{"automation": string(domain.JobAutoClose), "reminder_count": conv.ReminderCount},
			CreatedAt:      now,
		})
	}), nil
}

func (s *Scheduler) enqueueCustomerMail(ctx context.Context, tx repository.Store, shop domain.Shop, conv domain.Conversation, kind domain.TaskKind, subject, text string) error {
	if conv.CustomerEmail == "" {
		return fmt.Errorf("conversation %d has no customer email", conv.ID)
	}
	history, err := tx.Messages().ListByConversation(ctx, conv.ID)
	if err != nil {
		return err
	}
	convID := conv.ID
	return tx.Outbox().Enqueue(ctx, domain.OutboundTask{
		Kind:           kind,
		ShopID:         shop.ID,
		ConversationID: &convID,
		Envelope:       notify.CustomerEnvelope(shop, conv, subject, text, history),
		RecordMessage:  true,
	})
}

// reminderAnchor is the last reminder time, or the last message when none was sent.
func reminderAnchor(conv domain.Conversation) time.Time {
	if conv.LastReminderAt != nil {
		return *conv.LastReminderAt
	}
	return conv.LastMessageAt
}

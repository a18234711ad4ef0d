package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/notify"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

// BulkError is the failure of one id within a bulk operation.
type BulkError struct {
	TicketID int64  `json:"ticketId"`
	Error    string `json:"error"`
}

// BulkResult summarizes a bulk operation. Each id is applied independently.
type BulkResult struct {
	Updated int         `json:"updated"`
	Total   int         `json:"total"`
	Errors  []BulkError `json:"errors"`
}

// MergeResult lists the sources merged into Target and per-source failures.
type MergeResult struct {
	Target *domain.Conversation `json:"target"`
	Merged []int64              `json:"merged"`
	Errors []BulkError          `json:"errors"`
}

// BulkChangeStatus applies ChangeStatus to every id.
func (s *TicketService) BulkChangeStatus(ctx context.Context, actor Actor, ids []int64, status string) (BulkResult, error) {
	if _, err := domain.ParseStatus(status); err != nil {
		return BulkResult{}, errorutil.NewInvalidArgument(err.Error(), map[string]any{"status": status})
	}
	return s.bulk(ctx, ids, func(id int64) error {
		_, err := s.ChangeStatus(ctx, actor, id, StatusChangeInput{Status: status})
		return err
	}), nil
}

// BulkClose closes every id.
func (s *TicketService) BulkClose(ctx context.Context, actor Actor, ids []int64) (BulkResult, error) {
	return s.BulkChangeStatus(ctx, actor, ids, string(domain.StatusClosed))
}

// BulkAssign applies Assign to every id.
func (s *TicketService) BulkAssign(ctx context.Context, actor Actor, ids []int64, staffID *int64) (BulkResult, error) {
	return s.bulk(ctx, ids, func(id int64) error {
		_, err := s.Assign(ctx, actor, id, AssignInput{StaffID: staffID})
		return err
	}), nil
}

// BulkChangePriority applies ChangePriority to every id.
func (s *TicketService) BulkChangePriority(ctx context.Context, actor Actor, ids []int64, priority string) (BulkResult, error) {
	if _, err := domain.ParsePriority(priority); err != nil {
		return BulkResult{}, errorutil.NewInvalidArgument(err.Error(), map[string]any{"priority": priority})
	}
	return s.bulk(ctx, ids, func(id int64) error {
		_, err := s.ChangePriority(ctx, actor, id, priority)
		return err
	}), nil
}

// BulkTag adds (or removes when remove is set) tag on every id.
func (s *TicketService) BulkTag(ctx context.Context, actor Actor, ids []int64, tag string, remove bool) (BulkResult, error) {
	return s.bulk(ctx, ids, func(id int64) error {
		_, err := s.mutateTag(ctx, actor, id, tag, !remove)
		return err
	}), nil
}

func (s *TicketService) bulk(ctx context.Context, ids []int64, apply func(id int64) error) BulkResult {
	result := BulkResult{Total: len(ids), Errors: []BulkError{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, BulkError{TicketID: id, Error: err.Error()})
			continue
		}
		if err := apply(id); err != nil {
			result.Errors = append(result.Errors, BulkError{TicketID: id, Error: s.itemError(id, err)})
			continue
		}
		result.Updated++
	}
	return result
}

// itemError renders err for a per-id result. Unexpected errors are logged and masked.
func (s *TicketService) itemError(id int64, err error) string {
	domainErr := errorutil.ToDomainError(err)
	if domainErr.Code == errorutil.CodeInternal {
		s.logger.Error("bulk item failed", zap.Int64("ticket_id", id), zap.Error(err))
	}
	return domainErr.Message
}

// Merge folds each source into target. Every source runs in its own
// transaction; a failing source is reported and the rest continue.
func (s *TicketService) Merge(ctx context.Context, actor Actor, sourceIDs []int64, targetID int64, note string) (*MergeResult, error) {
	if len(sourceIDs) == 0 {
		return nil, errorutil.NewInvalidArgument("At least one source ticket is required", map[string]any{"sourceIds": "required"})
	}
	target, err := s.load(ctx, s.store, actor, targetID)
	if err != nil {
		return nil, err
	}
	if target.IsMerged {
		return nil, errorutil.NewConflict("Target ticket has been merged into another ticket", map[string]any{"targetId": targetID})
	}

	result := &MergeResult{Merged: []int64{}, Errors: []BulkError{}}
	for _, sourceID := range sourceIDs {
		if err := s.mergeOne(ctx, actor, sourceID, target, note); err != nil {
			result.Errors = append(result.Errors, BulkError{TicketID: sourceID, Error: s.itemError(sourceID, err)})
			continue
		}
		result.Merged = append(result.Merged, sourceID)
	}

	result.Target, err = s.store.Conversations().GetByID(ctx, targetID)
	if err != nil {
		return nil, errorutil.MapError(err)
	}
	return result, nil
}

func (s *TicketService) mergeOne(ctx context.Context, actor Actor, sourceID int64, target *domain.Conversation, note string) error {
	if sourceID == target.ID {
		return errorutil.NewConflict("Cannot merge a ticket into itself", map[string]any{"ticketId": sourceID})
	}
	return s.activities.WithinTx(ctx, s.store, actor.ShopID, func(tx repository.Store, w *activitylog.Writer) error {
		source, err := s.load(ctx, tx, actor, sourceID)
		if err != nil {
			return err
		}
		if source.IsMerged {
			return errorutil.NewConflict("Ticket is already merged", map[string]any{"ticketId": sourceID})
		}

		movedMessages, err := tx.Messages().Reparent(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}
		movedActivities, err := tx.Activities().Reparent(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := tx.Conversations().MarkMerged(ctx, source.ID, target.ID, now); err != nil {
			return err
		}
		if err := tx.Conversations().RecomputeCounters(ctx, target.ID); err != nil {
			return err
		}

		metadata := map[string]any{
			"target_id":        target.ID,
			"messages_moved":   movedMessages,
			"activities_moved": movedActivities,
			"source_status":    string(source.Status),
			"target_ticket":    target.TicketNumber,
		}
		if note = strings.TrimSpace(note); note != "" {
			metadata["note"] = note
		}
		if err := w.Append(ctx, &domain.Activity{
			ConversationID: source.ID,
			ActionType:     domain.ActionMerge,
			FromValue:      source.TicketNumber,
			ToValue:        target.TicketNumber,
			StaffID:        actor.StaffID,
			Metadata:       metadata,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		return s.touch(ctx, tx, actor.StaffID)
	})
}

func replyEnvelope(shop domain.Shop, conv domain.Conversation, text, htmlBody string, history []domain.Message) domain.Envelope {
	envelope := notify.CustomerEnvelope(shop, conv, notify.ReplySubject(conv.Subject), text, history)
	if strings.TrimSpace(htmlBody) != "" {
		envelope.HTML = htmlBody
	}
	return envelope
}

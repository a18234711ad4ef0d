package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/ai"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/pkg/util/errorutil"
	"github.com/spec-kit/support-inbox/pkg/util/validation"
)

// Drafter produces reply drafts. *ai.Drafter satisfies it.
type Drafter interface {
	GenerateDraft(ctx context.Context, req ai.DraftRequest) (string, error)
}

// TicketService coordinates staff-driven ticket workflows. Every mutation runs
// in one store transaction together with the activities it writes.
type TicketService struct {
	store      repository.Store
	activities *activitylog.Log
	drafter    Drafter
	logger     *zap.Logger
	clock      func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      repository.Store
	Activities *activitylog.Log
	Drafter    Drafter
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Actor identifies who is acting and within which shop. StaffID nil means automation.
type Actor struct {
	ShopID  int64
	StaffID *int64
}

// StaffActor is a shortcut for a staff-initiated action.
func StaffActor(shopID, staffID int64) Actor {
	return Actor{ShopID: shopID, StaffID: &staffID}
}

// ChangeResult reports the old and new value of a single-field mutation.
type ChangeResult struct {
	Ticket *domain.Conversation
	From   string
	To     string
}

// StatusChangeInput describes a status transition request.
type StatusChangeInput struct {
	Status string
	Note   string
}

// AssignInput describes an assignment request. StaffID nil unassigns.
type AssignInput struct {
	StaffID *int64
	Note    string
}

// ReplyInput is a staff reply to the customer. Status optionally moves the
// ticket in the same transaction (typically to pending_customer).
type ReplyInput struct {
	BodyText string
	BodyHTML string
	Status   string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	activities := deps.Activities
	if activities == nil {
		activities = activitylog.New(nil, logger, clock)
	}
	return &TicketService{
		store:      deps.Store,
		activities: activities,
		drafter:    deps.Drafter,
		logger:     logger,
		clock:      clock,
	}
}

// ChangeStatus moves a ticket to a new status. Any status may follow any
// other; a no-op request is rejected as unchanged.
func (s *TicketService) ChangeStatus(ctx context.Context, actor Actor, ticketID int64, input StatusChangeInput) (*ChangeResult, error) {
	status, err := domain.ParseStatus(input.Status)
	if err != nil {
		return nil, errorutil.NewInvalidArgument(err.Error(), map[string]any{"status": input.Status})
	}
	var result *ChangeResult
	err = s.activities.WithinTx(ctx, s.store, actor.ShopID, func(tx repository.Store, w *activitylog.Writer) error {
		conv, err := s.load(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		result, err = s.transition(ctx, tx, w, conv, status, actor.StaffID, nil)
		if err != nil {
			return err
		}
		if note := strings.TrimSpace(input.Note); note != "" {
			if _, err := s.appendNote(ctx, tx, w, conv, actor.StaffID, note); err != nil {
				return err
			}
		}
		return s.touch(ctx, tx, actor.StaffID)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// transition applies a status change with a conditional update and writes
// exactly one status_change activity.
func (s *TicketService) transition(ctx context.Context, tx repository.Store, w *activitylog.Writer, conv *domain.Conversation, to domain.ConversationStatus, staffID *int64, metadata map[string]any) (*ChangeResult, error) {
	from := conv.Status
	if from == to {
		return nil, errorutil.NewUnchanged(fmt.Sprintf("Ticket is already %s", to), map[string]any{"status": to})
	}

	now := s.clock()
	update := repository.StatusUpdate{To: to, At: now}
	if to == domain.StatusResolved || to == domain.StatusClosed {
		minutes := domain.ResolutionMinutes(conv.CreatedAt, now)
		update.ResolvedAt = &now
		update.ResolutionMinutes = &minutes
		update.ClearEscalation = true
	}
	applied, err := tx.Conversations().SetStatusIf(ctx, conv.ID, from, update)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, errorutil.NewConflict("Ticket was modified concurrently", map[string]any{"ticketId": conv.ID})
	}
	if update.ResolvedAt != nil && !from.Finished() && conv.AssignedTo != nil {
		if err := tx.Staff().Increment(ctx, *conv.AssignedTo, repository.CounterTicketsResolved); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	if err := w.Append(ctx, &domain.Activity{
		ConversationID: conv.ID,
		ActionType:     domain.ActionStatusChange,
		FromValue:      string(from),
		ToValue:        string(to),
		StaffID:        staffID,
		Metadata:       metadata,
		CreatedAt:      now,
	}); err != nil {
		return nil, err
	}

	updated, err := tx.Conversations().GetByID(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	*conv = *updated
	return &ChangeResult{Ticket: updated, From: string(from), To: string(to)}, nil
}

// Assign sets or clears the assignee. Assigning an open ticket advances it to assigned.
func (s *TicketService) Assign(ctx context.Context, actor Actor, ticketID int64, input AssignInput) (*ChangeResult, error) {
	var result *ChangeResult
	err := s.activities.WithinTx(ctx, s.store, actor.ShopID, func(tx repository.Store, w *activitylog.Writer) error {
		conv, err := s.load(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}

		var target *domain.StaffMember
		if input.StaffID != nil {
			target, err = s.loadStaff(ctx, tx, actor.ShopID, *input.StaffID)
			if err != nil {
				return err
			}
			if !target.IsActive {
				return errorutil.NewStaffInactive(map[string]any{"staffId": target.ID})
			}
		}
		if sameID(conv.AssignedTo, input.StaffID) {
			return errorutil.NewUnchanged("Ticket already has this assignee", map[string]any{"assignedTo": input.StaffID})
		}

		fromName := s.staffName(ctx, tx, conv.AssignedTo)
		toName := ""
		if target != nil {
			toName = target.Name
		}

		now := s.clock()
		before := conv.Status
		after, err := tx.Conversations().Assign(ctx, conv.ID, input.StaffID, now)
		if err != nil {
			return err
		}
		if target != nil {
			if err := tx.Staff().Increment(ctx, target.ID, repository.CounterTicketsAssigned); err != nil {
				return err
			}
		}
		if err := w.Append(ctx, &domain.Activity{
			ConversationID: conv.ID,
			ActionType:     domain.ActionAssignment,
			FromValue:      fromName,
			ToValue:        toName,
			StaffID:        actor.StaffID,
			Metadata: map[string]any{
				"from_staff_id": idValue(conv.AssignedTo),
				"to_staff_id":   idValue(input.StaffID),
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if after != before {
			if err := w.Append(ctx, &domain.Activity{
				ConversationID: conv.ID,
				ActionType:     domain.ActionStatusChange,
				FromValue:      string(before),
				ToValue:        string(after),
				StaffID:        actor.StaffID,
				Metadata:       map[string]any{"trigger": "assignment"},
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}
		if note := strings.TrimSpace(input.Note); note != "" {
			if _, err := s.appendNote(ctx, tx, w, conv, actor.StaffID, note); err != nil {
				return err
			}
		}
		if err := s.touch(ctx, tx, actor.StaffID); err != nil {
			return err
		}

		updated, err := tx.Conversations().GetByID(ctx, conv.ID)
		if err != nil {
			return err
		}
		result = &ChangeResult{Ticket: updated, From: fromName, To: toName}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChangePriority overwrites the ticket priority.
func (s *TicketService) ChangePriority(ctx context.Context, actor Actor, ticketID int64, raw string) (*ChangeResult, error) {
	priority, err := domain.ParsePriority(raw)
	if err != nil {
		return nil, errorutil.NewInvalidArgument(err.Error(), map[string]any{"priority": raw})
	}
	var result *ChangeResult
	err = s.activities.WithinTx(ctx, s.store, actor.ShopID, func(tx repository.Store, w *activitylog.Writer) error {
		conv, err := s.load(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		if conv.Priority == priority {
			return errorutil.NewUnchanged(fmt.Sprintf("Ticket priority is already %s", priority), map[string]any{"priority": priority})
		}
		now := s.clock()
		if err := tx.Conversations().SetPriority(ctx, conv.ID, priority, now); err != nil {
			return err
		}
		if err := w.Append(ctx, &domain.Activity{
			ConversationID: conv.ID,
			ActionType:     domain.ActionPriorityChange,
			FromValue:      string(conv.Priority),
			ToValue:        string(priority),
			StaffID:        actor.StaffID,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if err := s.touch(ctx, tx, actor.StaffID); err != nil {
			return err
		}

		updated, err := tx.Conversations().GetByID(ctx, conv.ID)
		if err != nil {
			return err
		}
		result = &ChangeResult{Ticket: updated, From: string(conv.Priority), To: string(priority)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddNote records an internal note. The note activity references a synthetic
// internal-note message so notes render alongside correspondence.
func (s *TicketService) AddNote(ctx context.Context, actor Actor, ticketID int64, text string) (*domain.Activity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errorutil.NewInvalidArgument("Note text is required", map[string]any{"text": "required"})
	}
	if actor.StaffID == nil {
		return nil, errorutil.NewInvalidArgument("Staff id is required", map[string]any{"staffId": "required"})
	}
	var activity *domain.Activity
	err := s.activities.WithinTx(ctx, s.store, actor.ShopID, func(tx repository.Store, w *activitylog.Writer) error {
		conv, err := s.load(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		if _, err := s.loadStaff(ctx, tx, actor.ShopID, *actor.StaffID); err != nil {
			return err
		}
		activity, err = s.appendNote(ctx, tx, w, conv, actor.StaffID, text)
		if err != nil {
			return err
		}
		return s.touch(ctx, tx, actor.StaffID)
	})
	if err != nil {
		return nil, err
	}
	return activity, nil
}

func (s *TicketService) appendNote(ctx context.Context, tx repository.Store, w *activitylog.Writer, conv *domain.Conversation, staffID *int64, text string) (*domain.Activity, error) {
	now := s.clock()
	msg := &domain.Message{
		ConversationID: conv.ID,
		ShopID:         conv.ShopID,
		Direction:      domain.DirectionOutbound,
		Subject:        conv.Subject,
		BodyText:       text,
		Status:         domain.MessageStatusSent,
		IsInternalNote: true,
		StaffID:        staffID,
		SentAt:         now,
		CreatedAt:      now,
	}
	if staffID != nil {
		if member, err := tx.Staff().GetByID(ctx, *staffID); err == nil {
			msg.FromAddress = member.Email
			msg.FromName = member.Name
		}
	}
	if _, err := tx.Messages().Insert(ctx, msg); err != nil {
		return nil, err
	}
	if err := tx.Conversations().RecomputeCounters(ctx, conv.ID); err != nil {
		return nil, fmt.Errorf("recount conversation %d: %w", conv.ID, err)
	}
	activity := &domain.Activity{
		ConversationID: conv.ID,
		ActionType:     domain.ActionNote,
		ToValue:        text,
		StaffID:        staffID,
		MessageID:      &msg.ID,
		CreatedAt:      now,
	}
	if err := w.Append(ctx, activity); err != nil {
		return nil, err
	}
	return activity, nil
}

// AddTag adds tag to the ticket. Adding a tag that is already present is a no-op.
func (s *TicketService) AddTag(ctx context.Context, actor Actor, ticketID int64, tag string) (*domain.Conversation, error) {
	return s.mutateTag(ctx, actor, ticketID, tag, true)
}

// RemoveTag removes tag from the ticket. Removing an absent tag is a no-op.
func (s *TicketService) RemoveTag(ctx context.Context, actor Actor, ticketID int64, tag string) (*domain.Conversation, error) {
	return s.mutateTag(ctx, actor, ticketID, tag, false)
}

func (s *TicketService) mutateTag(ctx context.Context, actor Actor, ticketID int64, raw string, add bool) (*domain.Conversation, error) {
	tag := strings.ToLower(strings.TrimSpace(raw))
	if err := validation.Var(tag, "required,max=50"); err != nil {
		return nil, errorutil.NewInvalidArgument("Tag must be 1-50 characters", map[string]any{"tag": raw})
	}
	var result *domain.Conversation
	err := s.activities.WithinTx(ctx, s.store, actor.ShopID, func(tx repository.Store, w *activitylog.Writer) error {
		conv, err := s.load(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		now := s.clock()
		var changed bool
		action := domain.ActionTagAdd
		if add {
			changed, err = tx.Conversations().AddTag(ctx, conv.ID, tag, now)
		} else {
			action = domain.ActionTagRemove
			changed, err = tx.Conversations().RemoveTag(ctx, conv.ID, tag, now)
		}
		if err != nil {
			return err
		}
		if changed {
			entry := &domain.Activity{
				ConversationID: conv.ID,
				ActionType:     action,
				StaffID:        actor.StaffID,
				CreatedAt:      now,
			}
			if add {
				entry.ToValue = tag
			} else {
				entry.FromValue = tag
			}
			if err := w.Append(ctx, entry); err != nil {
				return err
			}
			if err := s.touch(ctx, tx, actor.StaffID); err != nil {
				return err
			}
		}
		result, err = tx.Conversations().GetByID(ctx, conv.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reply queues an email to the customer through the outbox. The outbound
// message is stored by the delivery worker once the provider accepts it.
func (s *TicketService) Reply(ctx context.Context, actor Actor, ticketID int64, input ReplyInput) (*domain.Conversation, error) {
	text := strings.TrimSpace(input.BodyText)
	if text == "" && strings.TrimSpace(input.BodyHTML) == "" {
		return nil, errorutil.NewInvalidArgument("Reply body is required", map[string]any{"bodyText": "required"})
	}
	if actor.StaffID == nil {
		return nil, errorutil.NewInvalidArgument("Staff id is required", map[string]any{"staffId": "required"})
	}
	var nextStatus domain.ConversationStatus
	if input.Status != "" {
		status, err := domain.ParseStatus(input.Status)
		if err != nil {
			return nil, errorutil.NewInvalidArgument(err.Error(), map[string]any{"status": input.Status})
		}
		nextStatus = status
	}

	var result *domain.Conversation
	err := s.activities.WithinTx(ctx, s.store, actor.ShopID, func(tx repository.Store, w *activitylog.Writer) error {
		conv, err := s.load(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		if _, err := s.loadStaff(ctx, tx, actor.ShopID, *actor.StaffID); err != nil {
			return err
		}
		shop, err := tx.Shops().GetByID(ctx, conv.ShopID)
		if err != nil {
			return err
		}
		history, err := tx.Messages().ListByConversation(ctx, conv.ID)
		if err != nil {
			return err
		}

		envelope := replyEnvelope(*shop, *conv, text, input.BodyHTML, history)
		convID := conv.ID
		if err := tx.Outbox().Enqueue(ctx, domain.OutboundTask{
			Kind:           domain.TaskReply,
			ShopID:         conv.ShopID,
			ConversationID: &convID,
			StaffID:        actor.StaffID,
			Envelope:       envelope,
			RecordMessage:  true,
		}); err != nil {
			return err
		}

		now := s.clock()
		if err := tx.Conversations().MarkFirstResponse(ctx, conv.ID, now); err != nil {
			return err
		}
		if err := tx.Staff().Increment(ctx, *actor.StaffID, repository.CounterRepliesSent); err != nil {
			return err
		}
		if err := w.Append(ctx, &domain.Activity{
			ConversationID: conv.ID,
			ActionType:     domain.ActionReply,
			ToValue:        preview(envelope.Text, 200),
			StaffID:        actor.StaffID,
			Metadata:       map[string]any{"to": envelope.To, "subject": envelope.Subject},
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if nextStatus != "" && nextStatus != conv.Status {
			if _, err := s.transition(ctx, tx, w, conv, nextStatus, actor.StaffID, map[string]any{"trigger": "reply"}); err != nil {
				return err
			}
		}
		if err := s.touch(ctx, tx, actor.StaffID); err != nil {
			return err
		}

		result, err = tx.Conversations().GetByID(ctx, conv.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkRead marks inbound messages read and zeroes the unread counter.
func (s *TicketService) MarkRead(ctx context.Context, actor Actor, ticketID int64) (int64, error) {
	var marked int64
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		conv, err := s.load(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		marked, err = tx.Messages().MarkInboundRead(ctx, conv.ID)
		if err != nil {
			return err
		}
		return tx.Conversations().ResetUnread(ctx, conv.ID, s.clock())
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

// LinkOrder points the ticket at a shop order. An empty orderID unlinks.
func (s *TicketService) LinkOrder(ctx context.Context, actor Actor, ticketID int64, orderID string) (*ChangeResult, error) {
	orderID = strings.TrimSpace(orderID)
	var result *ChangeResult
	err := s.activities.WithinTx(ctx, s.store, actor.ShopID, func(tx repository.Store, w *activitylog.Writer) error {
		conv, err := s.load(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		previous := ""
		if conv.OrderID != nil {
			previous = *conv.OrderID
		}
		if previous == orderID {
			return errorutil.NewUnchanged("Ticket is already linked to this order", map[string]any{"orderId": orderID})
		}
		var next *string
		if orderID != "" {
			next = &orderID
		}
		now := s.clock()
		if err := tx.Conversations().SetOrder(ctx, conv.ID, next, now); err != nil {
			return err
		}
		if err := w.Append(ctx, &domain.Activity{
			ConversationID: conv.ID,
			ActionType:     domain.ActionLinkOrder,
			FromValue:      previous,
			ToValue:        orderID,
			StaffID:        actor.StaffID,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if err := s.touch(ctx, tx, actor.StaffID); err != nil {
			return err
		}

		updated, err := tx.Conversations().GetByID(ctx, conv.ID)
		if err != nil {
			return err
		}
		result = &ChangeResult{Ticket: updated, From: previous, To: orderID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GenerateDraft asks the AI collaborator for a reply draft.
func (s *TicketService) GenerateDraft(ctx context.Context, actor Actor, ticketID int64, instructions string) (string, error) {
	conv, err := s.load(ctx, s.store, actor, ticketID)
	if err != nil {
		return "", err
	}
	shop, err := s.store.Shops().GetByID(ctx, conv.ShopID)
	if err != nil {
		return "", errorutil.MapError(err)
	}
	msgs, err := s.store.Messages().ListByConversation(ctx, conv.ID)
	if err != nil {
		return "", errorutil.MapError(err)
	}
	if s.drafter == nil {
		return "", errorutil.NewCollaboratorUnavailable("AI drafting", ai.ErrDisabled)
	}

	req := ai.DraftRequest{
		ShopName:      shop.Name,
		TicketNumber:  conv.TicketNumber,
		Subject:       conv.Subject,
		CustomerName:  conv.CustomerName,
		CustomerEmail: conv.CustomerEmail,
		Instructions:  instructions,
	}
	if conv.OrderID != nil {
		req.OrderNumber = *conv.OrderID
	}
	for _, msg := range msgs {
		if msg.IsInternalNote {
			continue
		}
		req.Messages = append(req.Messages, ai.DraftMessage{
			Direction: msg.Direction,
			From:      msg.FromAddress,
			Body:      msg.BodyText,
			SentAt:    msg.SentAt,
		})
	}

	draft, err := s.drafter.GenerateDraft(ctx, req)
	if err != nil {
		s.logger.Warn("draft generation failed", zap.Int64("conversation_id", conv.ID), zap.Error(err))
		return "", errorutil.NewCollaboratorUnavailable("AI drafting", err)
	}
	return draft, nil
}

// load fetches a ticket of the actor's shop. Tickets of other shops are reported as missing.
func (s *TicketService) load(ctx context.Context, store repository.Store, actor Actor, ticketID int64) (*domain.Conversation, error) {
	conv, err := store.Conversations().GetByID(ctx, ticketID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && conv.ShopID != actor.ShopID) {
		return nil, ticketNotFound(ticketID)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *TicketService) loadStaff(ctx context.Context, store repository.Store, shopID, staffID int64) (*domain.StaffMember, error) {
	member, err := store.Staff().GetByID(ctx, staffID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && member.ShopID != shopID) {
		return nil, errorutil.NewNotFound("Staff member", map[string]any{"staffId": staffID})
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *TicketService) staffName(ctx context.Context, store repository.Store, staffID *int64) string {
	if staffID == nil {
		return ""
	}
	member, err := store.Staff().GetByID(ctx, *staffID)
	if err != nil {
		return "#" + strconv.FormatInt(*staffID, 10)
	}
	return member.Name
}

// touch records staff activity. A database error fails the surrounding
// transaction; a deleted staff row does not.
func (s *TicketService) touch(ctx context.Context, store repository.Store, staffID *int64) error {
	if staffID == nil {
		return nil
	}
	if err := store.Staff().Touch(ctx, *staffID, s.clock()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("touch staff %d: %w", *staffID, err)
	}
	return nil
}

func ticketNotFound(ticketID int64) error {
	return errorutil.NewNotFound("Ticket", map[string]any{"ticketId": ticketID})
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func idValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// preview shortens body to at most max runes.
func preview(body string, max int) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= max {
		return body
	}
	runes := []rune(body)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

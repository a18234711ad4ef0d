package service

import (
	"context"
	"strings"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	defaultRecent   = 20
	maxRecent       = 100
)

// TicketFilter describes the staff ticket list.
type TicketFilter struct {
	Statuses      []string
	Priorities    []string
	AssignedTo    *int64
	Unassigned    bool
	Category      *string
	Tag           *string
	UnreadOnly    bool
	Escalated     *bool
	IncludeMerged bool
	Search        *string
	Limit         int
	Offset        int
}

// TicketDetail is a ticket with its full message and activity timeline.
type TicketDetail struct {
	Ticket     *domain.Conversation
	Messages   []domain.Message
	Activities []domain.Activity
}

// List returns one page of the shop's tickets plus the total match count.
func (s *TicketService) List(ctx context.Context, shopID int64, filter TicketFilter) ([]domain.Conversation, int, error) {
	repoFilter := repository.ConversationFilter{
		ShopID:        &shopID,
		AssignedTo:    filter.AssignedTo,
		Unassigned:    filter.Unassigned,
		Category:      filter.Category,
		UnreadOnly:    filter.UnreadOnly,
		Escalated:     filter.Escalated,
		IncludeMerged: filter.IncludeMerged,
		Limit:         clampPage(filter.Limit, defaultPageSize, maxPageSize),
		Offset:        max(filter.Offset, 0),
	}
	for _, raw := range filter.Statuses {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return nil, 0, errorutil.NewInvalidArgument(err.Error(), map[string]any{"status": raw})
		}
		repoFilter.Statuses = append(repoFilter.Statuses, status)
	}
	for _, raw := range filter.Priorities {
		priority, err := domain.ParsePriority(raw)
		if err != nil {
			return nil, 0, errorutil.NewInvalidArgument(err.Error(), map[string]any{"priority": raw})
		}
		repoFilter.Priorities = append(repoFilter.Priorities, priority)
	}
	if filter.Tag != nil {
		tag := strings.ToLower(strings.TrimSpace(*filter.Tag))
		repoFilter.Tag = &tag
	}
	if filter.Search != nil {
		if term := strings.TrimSpace(*filter.Search); term != "" {
			repoFilter.Search = &term
		}
	}

	convs, total, err := s.store.Conversations().List(ctx, repoFilter)
	if err != nil {
		return nil, 0, errorutil.MapError(err)
	}
	return convs, total, nil
}

// Detail returns the ticket with every message and activity, oldest first.
func (s *TicketService) Detail(ctx context.Context, shopID, ticketID int64) (*TicketDetail, error) {
	conv, err := s.load(ctx, s.store, Actor{ShopID: shopID}, ticketID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages().ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, errorutil.MapError(err)
	}
	activities, _, err := s.store.Activities().ListByConversation(ctx, conv.ID, 0, 0)
	if err != nil {
		return nil, errorutil.MapError(err)
	}
	return &TicketDetail{Ticket: conv, Messages: msgs, Activities: activities}, nil
}

// Timeline returns one page of a ticket's activities.
func (s *TicketService) Timeline(ctx context.Context, shopID, ticketID int64, limit, offset int) ([]domain.Activity, int, error) {
	conv, err := s.load(ctx, s.store, Actor{ShopID: shopID}, ticketID)
	if err != nil {
		return nil, 0, err
	}
	activities, total, err := s.store.Activities().ListByConversation(ctx, conv.ID, clampPage(limit, defaultPageSize, maxPageSize), max(offset, 0))
	if err != nil {
		return nil, 0, errorutil.MapError(err)
	}
	return activities, total, nil
}

// RecentActivity is the dashboard feed across all of a shop's tickets, newest first.
func (s *TicketService) RecentActivity(ctx context.Context, shopID int64, limit int) ([]domain.Activity, error) {
	activities, err := s.store.Activities().Recent(ctx, shopID, clampPage(limit, defaultRecent, maxRecent))
	if err != nil {
		return nil, errorutil.MapError(err)
	}
	return activities, nil
}

func clampPage(limit, fallback, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	return min(limit, ceiling)
}

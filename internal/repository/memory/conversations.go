package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

type conversationRepo struct {
	s *Store
}

func (r *conversationRepo) Create(_ context.Context, conv *domain.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.data.conversations {
		if existing.ShopID == conv.ShopID && existing.ThreadID == conv.ThreadID {
			return errDuplicate("conversations.thread_id")
		}
	}
	conv.ID = r.s.data.id()
	conv.TicketNumber = domain.TicketNumber(conv.ShopID, conv.ID)
	conv.UpdatedAt = conv.CreatedAt
	if conv.Tags == nil {
		conv.Tags = []string{}
	}
	r.s.data.conversations[conv.ID] = copyConversation(*conv)
	return nil
}

func (r *conversationRepo) GetByID(_ context.Context, id int64) (*domain.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.data.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyConversation(conv)
	return &out, nil
}

func (r *conversationRepo) GetByThread(_ context.Context, shopID int64, threadID string) (*domain.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, conv := range r.s.data.conversations {
		if conv.ShopID == shopID && conv.ThreadID == threadID {
			out := copyConversation(conv)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *conversationRepo) List(_ context.Context, f repository.ConversationFilter) ([]domain.Conversation, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []domain.Conversation
	for _, conv := range r.s.data.conversations {
		if matchesFilter(conv, f) {
			matched = append(matched, copyConversation(conv))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastMessageAt.Equal(matched[j].LastMessageAt) {
			return matched[i].LastMessageAt.After(matched[j].LastMessageAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func matchesFilter(c domain.Conversation, f repository.ConversationFilter) bool {
	if f.ShopID != nil && c.ShopID != *f.ShopID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, c.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, c.Priority) {
		return false
	}
	if f.AssignedTo != nil {
		if c.AssignedTo == nil || *c.AssignedTo != *f.AssignedTo {
			return false
		}
	} else if f.Unassigned && c.AssignedTo != nil {
		return false
	}
	if f.Category != nil && c.Category != *f.Category {
		return false
	}
	if f.Tag != nil && !c.HasTag(*f.Tag) {
		return false
	}
	if f.UnreadOnly && c.UnreadCount <= 0 {
		return false
	}
	if f.Escalated != nil && c.IsEscalated != *f.Escalated {
		return false
	}
	if !f.IncludeMerged && c.IsMerged {
		return false
	}
	if f.LastMessageBefore != nil && !c.LastMessageAt.Before(*f.LastMessageBefore) {
		return false
	}
	if f.CreatedBefore != nil && !c.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.Search != nil {
		term := strings.ToLower(strings.TrimSpace(*f.Search))
		if term != "" {
			haystack := strings.ToLower(strings.Join([]string{c.Subject, c.CustomerEmail, c.CustomerName, c.TicketNumber}, " "))
			if !strings.Contains(haystack, term) {
				return false
			}
		}
	}
	return true
}

func containsStatus(list []domain.ConversationStatus, s domain.ConversationStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsPriority(list []domain.Priority, p domain.Priority) bool {
	for _, candidate := range list {
		if candidate == p {
			return true
		}
	}
	return false
}

// mutate applies fn to the stored row under the lock. fn reports whether it changed anything.
func (r *conversationRepo) mutate(id int64, fn func(c *domain.Conversation) bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.data.conversations[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	conv = copyConversation(conv)
	changed := fn(&conv)
	if changed {
		r.s.data.conversations[id] = conv
	}
	return changed, nil
}

func (r *conversationRepo) RecordMessage(_ context.Context, id int64, at time.Time, inbound bool) error {
	_, err := r.mutate(id, func(c *domain.Conversation) bool {
		c.MessageCount++
		if inbound {
			c.UnreadCount++
		}
		if at.After(c.LastMessageAt) {
			c.LastMessageAt = at
		}
		c.UpdatedAt = at
		return true
	})
	return err
}

func (r *conversationRepo) RecomputeCounters(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	conv, ok := r.s.data.conversations[id]
	if !ok {
		return repository.ErrNotFound
	}
	count, unread := 0, 0
	var latest time.Time
	for _, msg := range r.s.data.messages {
		if msg.ConversationID != id {
			continue
		}
		count++
		if msg.IsInternalNote {
			continue
		}
		if msg.Direction == domain.DirectionInbound && msg.Status == domain.MessageStatusUnread {
			unread++
		}
		if msg.SentAt.After(latest) {
			latest = msg.SentAt
		}
	}
	conv.MessageCount = count
	conv.UnreadCount = unread
	if !latest.IsZero() {
		conv.LastMessageAt = latest
	}
	r.s.data.conversations[id] = conv
	return nil
}

func (r *conversationRepo) ResetUnread(_ context.Context, id int64, at time.Time) error {
	_, err := r.mutate(id, func(c *domain.Conversation) bool {
		c.UnreadCount = 0
		c.UpdatedAt = at
		return true
	})
	return err
}

func (r *conversationRepo) MarkFirstResponse(_ context.Context, id int64, at time.Time) error {
	_, err := r.mutate(id, func(c *domain.Conversation) bool {
		if c.FirstResponseAt != nil {
			return false
		}
		c.FirstResponseAt = &at
		return true
	})
	return err
}

func (r *conversationRepo) SetStatusIf(_ context.Context, id int64, expected domain.ConversationStatus, u repository.StatusUpdate) (bool, error) {
	changed, err := r.mutate(id, func(c *domain.Conversation) bool {
		if c.Status != expected {
			return false
		}
		c.Status = u.To
		c.UpdatedAt = u.At
		if u.ResolvedAt != nil {
			at := *u.ResolvedAt
			c.ResolvedAt = &at
		}
		if u.ResolutionMinutes != nil {
			minutes := *u.ResolutionMinutes
			c.ResolutionTimeMinutes = &minutes
		}
		if u.ClearEscalation {
			c.IsEscalated = false
		}
		if u.ResetReminders {
			c.ReminderCount = 0
			c.LastReminderAt = nil
		}
		return true
	})
	if err == repository.ErrNotFound {
		return false, nil
	}
	return changed, err
}

func (r *conversationRepo) Assign(_ context.Context, id int64, staffID *int64, at time.Time) (domain.ConversationStatus, error) {
	var status domain.ConversationStatus
	_, err := r.mutate(id, func(c *domain.Conversation) bool {
		if staffID == nil {
			c.AssignedTo = nil
		} else {
			assignee := *staffID
			c.AssignedTo = &assignee
			if c.Status == domain.StatusOpen {
				c.Status = domain.StatusAssigned
			}
		}
		c.UpdatedAt = at
		status = c.Status
		return true
	})
	return status, err
}

func (r *conversationRepo) SetPriority(_ context.Context, id int64, priority domain.Priority, at time.Time) error {
	_, err := r.mutate(id, func(c *domain.Conversation) bool {
		c.Priority = priority
		c.UpdatedAt = at
		return true
	})
	return err
}

func (r *conversationRepo) AddTag(_ context.Context, id int64, tag string, at time.Time) (bool, error) {
	changed, err := r.mutate(id, func(c *domain.Conversation) bool {
		if c.HasTag(tag) {
			return false
		}
		c.Tags = append(c.Tags, tag)
		c.UpdatedAt = at
		return true
	})
	if err == repository.ErrNotFound {
		return false, nil
	}
	return changed, err
}

func (r *conversationRepo) RemoveTag(_ context.Context, id int64, tag string, at time.Time) (bool, error) {
	changed, err := r.mutate(id, func(c *domain.Conversation) bool {
		if !c.HasTag(tag) {
			return false
		}
		kept := c.Tags[:0]
		for _, existing := range c.Tags {
			if existing != tag {
				kept = append(kept, existing)
			}
		}
		c.Tags = kept
		c.UpdatedAt = at
		return true
	})
	if err == repository.ErrNotFound {
		return false, nil
	}
	return changed, err
}

func (r *conversationRepo) SetOrder(_ context.Context, id int64, orderID *string, at time.Time) error {
	_, err := r.mutate(id, func(c *domain.Conversation) bool {
		if orderID == nil {
			c.OrderID = nil
		} else {
			order := *orderID
			c.OrderID = &order
		}
		c.UpdatedAt = at
		return true
	})
	return err
}

func (r *conversationRepo) IncrementReminder(_ context.Context, id int64, expected int, at time.Time) (bool, error) {
	changed, err := r.mutate(id, func(c *domain.Conversation) bool {
		if c.ReminderCount != expected {
			return false
		}
		c.ReminderCount++
		c.LastReminderAt = &at
		c.UpdatedAt = at
		return true
	})
	if err == repository.ErrNotFound {
		return false, nil
	}
	return changed, err
}

func (r *conversationRepo) MarkEscalated(_ context.Context, id int64, at time.Time) (bool, error) {
	changed, err := r.mutate(id, func(c *domain.Conversation) bool {
		if c.IsEscalated {
			return false
		}
		c.IsEscalated = true
		c.EscalatedAt = &at
		c.UpdatedAt = at
		return true
	})
	if err == repository.ErrNotFound {
		return false, nil
	}
	return changed, err
}

func (r *conversationRepo) MarkMerged(_ context.Context, id, targetID int64, at time.Time) error {
	_, err := r.mutate(id, func(c *domain.Conversation) bool {
		target := targetID
		c.IsMerged = true
		c.MergedInto = &target
		c.Status = domain.StatusClosed
		c.MessageCount = 0
		c.UnreadCount = 0
		c.UpdatedAt = at
		return true
	})
	return err
}

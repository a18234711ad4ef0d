package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

func errDuplicate(constraint string) error {
	return fmt.Errorf("duplicate key violates unique constraint %q", constraint)
}

type messageRepo struct {
	s *Store
}

func (r *messageRepo) Insert(_ context.Context, msg *domain.Message) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if msg.ProviderMessageID != nil {
		for _, existing := range r.s.data.messages {
			if existing.ProviderMessageID != nil && *existing.ProviderMessageID == *msg.ProviderMessageID {
				return false, nil
			}
		}
	}
	if _, ok := r.s.data.conversations[msg.ConversationID]; !ok {
		return false, fmt.Errorf("insert message: conversation %d: %w", msg.ConversationID, repository.ErrNotFound)
	}
	msg.ID = r.s.data.id()
	msg.CreatedAt = msg.SentAt
	r.s.data.messages[msg.ID] = *msg
	return true, nil
}

func (r *messageRepo) ExistsByProviderID(_ context.Context, providerID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, msg := range r.s.data.messages {
		if msg.ProviderMessageID != nil && *msg.ProviderMessageID == providerID {
			return true, nil
		}
	}
	return false, nil
}

func (r *messageRepo) ConversationIDByProviderID(_ context.Context, shopID int64, providerID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, msg := range r.s.data.messages {
		if msg.ShopID == shopID && msg.ProviderMessageID != nil && *msg.ProviderMessageID == providerID {
			return msg.ConversationID, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (r *messageRepo) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.data.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &msg, nil
}

func (r *messageRepo) ListByConversation(_ context.Context, conversationID int64) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Message
	for _, msg := range r.s.data.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *messageRepo) MarkInboundRead(_ context.Context, conversationID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, msg := range r.s.data.messages {
		if msg.ConversationID == conversationID && msg.Direction == domain.DirectionInbound && msg.Status == domain.MessageStatusUnread {
			msg.Status = domain.MessageStatusRead
			r.s.data.messages[id] = msg
			n++
		}
	}
	return n, nil
}

func (r *messageRepo) Reparent(_ context.Context, fromID, toID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, msg := range r.s.data.messages {
		if msg.ConversationID == fromID {
			msg.ConversationID = toID
			r.s.data.messages[id] = msg
			n++
		}
	}
	return n, nil
}

type activityRepo struct {
	s *Store
}

func (r *activityRepo) Insert(_ context.Context, activity *domain.Activity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.insertLocked(activity)
	return nil
}

func (r *activityRepo) insertLocked(activity *domain.Activity) {
	activity.ID = r.s.data.id()
	meta := make(map[string]any, len(activity.Metadata))
	for k, v := range activity.Metadata {
		meta[k] = v
	}
	activity.Metadata = meta
	r.s.data.activities[activity.ID] = *activity
}

func (r *activityRepo) InsertSLABreachOnce(_ context.Context, activity *domain.Activity, slaType domain.SLAType) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var resolvedAt *time.Time
	if conv, ok := r.s.data.conversations[activity.ConversationID]; ok {
		resolvedAt = conv.ResolvedAt
	}
	for _, existing := range r.s.data.activities {
		if existing.ConversationID != activity.ConversationID ||
			existing.ActionType != domain.ActionSLABreach ||
			fmt.Sprint(existing.Metadata["sla_type"]) != string(slaType) {
			continue
		}
		if resolvedAt == nil || existing.CreatedAt.After(*resolvedAt) {
			return false, nil
		}
	}
	if activity.Metadata == nil {
		activity.Metadata = map[string]any{}
	}
	activity.Metadata["sla_type"] = string(slaType)
	activity.ActionType = domain.ActionSLABreach
	r.insertLocked(activity)
	return true, nil
}

func (r *activityRepo) sorted(filter func(domain.Activity) bool) []domain.Activity {
	var out []domain.Activity
	for _, a := range r.s.data.activities {
		if filter(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *activityRepo) ListByConversation(_ context.Context, conversationID int64, limit, offset int) ([]domain.Activity, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.sorted(func(a domain.Activity) bool { return a.ConversationID == conversationID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *activityRepo) Recent(_ context.Context, shopID int64, limit int) ([]domain.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.sorted(func(a domain.Activity) bool {
		conv, ok := r.s.data.conversations[a.ConversationID]
		return ok && conv.ShopID == shopID
	})
	out := make([]domain.Activity, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (r *activityRepo) Reparent(_ context.Context, fromID, toID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, a := range r.s.data.activities {
		if a.ConversationID == fromID {
			a.ConversationID = toID
			r.s.data.activities[id] = a
			n++
		}
	}
	return n, nil
}

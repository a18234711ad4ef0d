package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// ConversationFilter captures list and automation selection parameters.
type ConversationFilter struct {
	ShopID            *int64
	Statuses          []domain.ConversationStatus
	Priorities        []domain.Priority
	AssignedTo        *int64
	Unassigned        bool
	Category          *string
	Tag               *string
	UnreadOnly        bool
	Escalated         *bool
	IncludeMerged     bool
	LastMessageBefore *time.Time
	CreatedBefore     *time.Time
	Search            *string
	Limit             int
	Offset            int
}

// StatusUpdate describes a status transition applied with SetStatusIf.
type StatusUpdate struct {
	To                domain.ConversationStatus
	At                time.Time
	ResolvedAt        *time.Time
	ResolutionMinutes *int
	// ClearEscalation resets is_escalated; escalation is one-way until resolution.
	ClearEscalation bool
	// ResetReminders zeroes reminder_count and last_reminder_at.
	ResetReminders bool
}

// ConversationRepository persists conversations. Every mutation touches only
// the columns it names.
type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id int64) (*domain.Conversation, error)
	GetByThread(ctx context.Context, shopID int64, threadID string) (*domain.Conversation, error)
	List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, int, error)

	RecordMessage(ctx context.Context, id int64, at time.Time, inbound bool) error
	// RecomputeCounters rebuilds message_count, unread_count and last_message_at
	// from the stored messages. message_count includes internal notes;
	// last_message_at tracks correspondence only.
	RecomputeCounters(ctx context.Context, id int64) error
	ResetUnread(ctx context.Context, id int64, at time.Time) error
	MarkFirstResponse(ctx context.Context, id int64, at time.Time) error

	// SetStatusIf applies update only while the row still has status expected.
	SetStatusIf(ctx context.Context, id int64, expected domain.ConversationStatus, update StatusUpdate) (bool, error)
	// Assign sets assigned_to and advances open to assigned when staffID is non-nil.
	Assign(ctx context.Context, id int64, staffID *int64, at time.Time) (domain.ConversationStatus, error)
	SetPriority(ctx context.Context, id int64, priority domain.Priority, at time.Time) error
	AddTag(ctx context.Context, id int64, tag string, at time.Time) (bool, error)
	RemoveTag(ctx context.Context, id int64, tag string, at time.Time) (bool, error)
	SetOrder(ctx context.Context, id int64, orderID *string, at time.Time) error

	// IncrementReminder bumps reminder_count only if it still equals expected.
	IncrementReminder(ctx context.Context, id int64, expected int, at time.Time) (bool, error)
	// MarkEscalated flips is_escalated only if it is still false.
	MarkEscalated(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkMerged(ctx context.Context, id, targetID int64, at time.Time) error
}

const conversationColumns = `id, shop_id, ticket_number, thread_id, subject, category, mailbox, customer_email, customer_name,
       order_id, status, priority, tags, assigned_to, message_count, unread_count, reminder_count, is_escalated,
       is_merged, merged_into, created_at, updated_at, last_message_at, first_response_at, last_reminder_at,
       escalated_at, resolved_at, resolution_time_minutes`

type conversationRepository struct {
	db DBTX
}

func (r *conversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	const query = `
        INSERT INTO conversations (shop_id, thread_id, subject, category, mailbox, customer_email, customer_name,
            order_id, status, priority, tags, assigned_to, message_count, unread_count, created_at, updated_at, last_message_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15,$16)
        RETURNING id`
	if conv.Tags == nil {
		conv.Tags = []string{}
	}
	if err := r.db.QueryRow(ctx, query,
		conv.ShopID,
		conv.ThreadID,
		conv.Subject,
		conv.Category,
		conv.Mailbox,
		conv.CustomerEmail,
		conv.CustomerName,
		conv.OrderID,
		string(conv.Status),
		string(conv.Priority),
		conv.Tags,
		conv.AssignedTo,
		conv.MessageCount,
		conv.UnreadCount,
		conv.CreatedAt,
		conv.LastMessageAt,
	).Scan(&conv.ID); err != nil {
		return err
	}

	conv.TicketNumber = domain.TicketNumber(conv.ShopID, conv.ID)
	conv.UpdatedAt = conv.CreatedAt
	_, err := r.db.Exec(ctx, `UPDATE conversations SET ticket_number=$1 WHERE id=$2`, conv.TicketNumber, conv.ID)
	return err
}

func (r *conversationRepository) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	return scanConversation(row)
}

func (r *conversationRepository) GetByThread(ctx context.Context, shopID int64, threadID string) (*domain.Conversation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE shop_id=$1 AND thread_id=$2`, shopID, threadID)
	return scanConversation(row)
}

func (r *conversationRepository) List(ctx context.Context, filter ConversationFilter) ([]domain.Conversation, int, error) {
	countSB := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSB.Select("COUNT(*)").From("conversations")
	applyConversationFilter(countSB, filter)
	countQuery, countArgs := countSB.Build()

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(conversationColumns).From("conversations")
	applyConversationFilter(sb, filter)
	sb.OrderBy("last_message_at DESC", "id DESC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}
	query, args := sb.Build()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *conv)
	}
	return result, total, rows.Err()
}

func applyConversationFilter(sb *sqlbuilder.SelectBuilder, filter ConversationFilter) {
	var where []string
	if filter.ShopID != nil {
		where = append(where, sb.Equal("shop_id", *filter.ShopID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]any, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, sb.In("status", statuses...))
	}
	if len(filter.Priorities) > 0 {
		priorities := make([]any, len(filter.Priorities))
		for i, p := range filter.Priorities {
			priorities[i] = string(p)
		}
		where = append(where, sb.In("priority", priorities...))
	}
	if filter.AssignedTo != nil {
		where = append(where, sb.Equal("assigned_to", *filter.AssignedTo))
	} else if filter.Unassigned {
		where = append(where, sb.IsNull("assigned_to"))
	}
	if filter.Category != nil {
		where = append(where, sb.Equal("category", *filter.Category))
	}
	if filter.Tag != nil {
		where = append(where, fmt.Sprintf("%s = ANY(tags)", sb.Var(*filter.Tag)))
	}
	if filter.UnreadOnly {
		where = append(where, sb.GreaterThan("unread_count", 0))
	}
	if filter.Escalated != nil {
		where = append(where, sb.Equal("is_escalated", *filter.Escalated))
	}
	if !filter.IncludeMerged {
		where = append(where, sb.Equal("is_merged", false))
	}
	if filter.LastMessageBefore != nil {
		where = append(where, sb.LessThan("last_message_at", *filter.LastMessageBefore))
	}
	if filter.CreatedBefore != nil {
		where = append(where, sb.LessThan("created_at", *filter.CreatedBefore))
	}
	if filter.Search != nil && strings.TrimSpace(*filter.Search) != "" {
		term := "%" + strings.ToLower(strings.TrimSpace(*filter.Search)) + "%"
		where = append(where, sb.Or(
			sb.Like("LOWER(subject)", term),
			sb.Like("LOWER(customer_email)", term),
			sb.Like("LOWER(customer_name)", term),
			sb.Like("LOWER(ticket_number)", term),
		))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
}

func (r *conversationRepository) RecordMessage(ctx context.Context, id int64, at time.Time, inbound bool) error {
	const query = `
        UPDATE conversations
        SET message_count = message_count + 1,
            unread_count = unread_count + CASE WHEN $1 THEN 1 ELSE 0 END,
            last_message_at = GREATEST(last_message_at, $2),
            updated_at = NOW()
        WHERE id=$3`
	return execOne(ctx, r.db, query, inbound, at, id)
}

func (r *conversationRepository) RecomputeCounters(ctx context.Context, id int64) error {
	const query = `
        UPDATE conversations c
        SET message_count = (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
            unread_count = (SELECT COUNT(*) FROM messages m
                            WHERE m.conversation_id = c.id AND m.direction = 'inbound' AND m.status = 'unread'),
            last_message_at = COALESCE((SELECT MAX(m.sent_at) FROM messages m
                                        WHERE m.conversation_id = c.id AND NOT m.is_internal_note), c.last_message_at),
            updated_at = NOW()
        WHERE c.id=$1`
	return execOne(ctx, r.db, query, id)
}

func (r *conversationRepository) ResetUnread(ctx context.Context, id int64, at time.Time) error {
	return execOne(ctx, r.db, `UPDATE conversations SET unread_count=0, updated_at=$1 WHERE id=$2`, at, id)
}

func (r *conversationRepository) MarkFirstResponse(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE conversations SET first_response_at=$1 WHERE id=$2 AND first_response_at IS NULL`, at, id)
	return err
}

func (r *conversationRepository) SetStatusIf(ctx context.Context, id int64, expected domain.ConversationStatus, update StatusUpdate) (bool, error) {
	const query = `
        UPDATE conversations
        SET status=$1,
            updated_at=$2,
            resolved_at=COALESCE($3, resolved_at),
            resolution_time_minutes=COALESCE($4, resolution_time_minutes),
            is_escalated = CASE WHEN $5 THEN FALSE ELSE is_escalated END,
            reminder_count = CASE WHEN $8 THEN 0 ELSE reminder_count END,
            last_reminder_at = CASE WHEN $8 THEN NULL ELSE last_reminder_at END
        WHERE id=$6 AND status=$7`
	cmd, err := r.db.Exec(ctx, query,
		string(update.To),
		update.At,
		update.ResolvedAt,
		update.ResolutionMinutes,
		update.ClearEscalation,
		id,
		string(expected),
		update.ResetReminders,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *conversationRepository) Assign(ctx context.Context, id int64, staffID *int64, at time.Time) (domain.ConversationStatus, error) {
	const query = `
        UPDATE conversations
        SET assigned_to=$1,
            status = CASE WHEN $1::BIGINT IS NOT NULL AND status='open' THEN 'assigned' ELSE status END,
            updated_at=$2
        WHERE id=$3
        RETURNING status`
	var status domain.ConversationStatus
	if err := r.db.QueryRow(ctx, query, staffID, at, id).Scan(&status); err != nil {
		return "", err
	}
	return status, nil
}

func (r *conversationRepository) SetPriority(ctx context.Context, id int64, priority domain.Priority, at time.Time) error {
	return execOne(ctx, r.db, `UPDATE conversations SET priority=$1, updated_at=$2 WHERE id=$3`, string(priority), at, id)
}

func (r *conversationRepository) AddTag(ctx context.Context, id int64, tag string, at time.Time) (bool, error) {
	const query = `
        UPDATE conversations SET tags=array_append(tags, $1), updated_at=$2
        WHERE id=$3 AND NOT ($1 = ANY(tags))`
	cmd, err := r.db.Exec(ctx, query, tag, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *conversationRepository) RemoveTag(ctx context.Context, id int64, tag string, at time.Time) (bool, error) {
	const query = `
        UPDATE conversations SET tags=array_remove(tags, $1), updated_at=$2
        WHERE id=$3 AND $1 = ANY(tags)`
	cmd, err := r.db.Exec(ctx, query, tag, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *conversationRepository) SetOrder(ctx context.Context, id int64, orderID *string, at time.Time) error {
	return execOne(ctx, r.db, `UPDATE conversations SET order_id=$1, updated_at=$2 WHERE id=$3`, orderID, at, id)
}

func (r *conversationRepository) IncrementReminder(ctx context.Context, id int64, expected int, at time.Time) (bool, error) {
	const query = `
        UPDATE conversations
        SET reminder_count = reminder_count + 1, last_reminder_at=$1, updated_at=$1
        WHERE id=$2 AND reminder_count=$3`
	cmd, err := r.db.Exec(ctx, query, at, id, expected)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *conversationRepository) MarkEscalated(ctx context.Context, id int64, at time.Time) (bool, error) {
	const query = `
        UPDATE conversations SET is_escalated=TRUE, escalated_at=$1, updated_at=$1
        WHERE id=$2 AND is_escalated=FALSE`
	cmd, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *conversationRepository) MarkMerged(ctx context.Context, id, targetID int64, at time.Time) error {
	const query = `
        UPDATE conversations
        SET is_merged=TRUE, merged_into=$1, status='closed', message_count=0, unread_count=0, updated_at=$2
        WHERE id=$3`
	return execOne(ctx, r.db, query, targetID, at, id)
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := row.Scan(
		&conv.ID,
		&conv.ShopID,
		&conv.TicketNumber,
		&conv.ThreadID,
		&conv.Subject,
		&conv.Category,
		&conv.Mailbox,
		&conv.CustomerEmail,
		&conv.CustomerName,
		&conv.OrderID,
		&conv.Status,
		&conv.Priority,
		&conv.Tags,
		&conv.AssignedTo,
		&conv.MessageCount,
		&conv.UnreadCount,
		&conv.ReminderCount,
		&conv.IsEscalated,
		&conv.IsMerged,
		&conv.MergedInto,
		&conv.CreatedAt,
		&conv.UpdatedAt,
		&conv.LastMessageAt,
		&conv.FirstResponseAt,
		&conv.LastReminderAt,
		&conv.EscalatedAt,
		&conv.ResolvedAt,
		&conv.ResolutionTimeMinutes,
	); err != nil {
		return nil, err
	}
	return &conv, nil
}

func execOne(ctx context.Context, db DBTX, query string, args ...any) error {
	cmd, err := db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

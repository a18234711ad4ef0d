package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// MessageRepository manages conversation messages.
type MessageRepository interface {
	// Insert stores msg unless its provider id already exists, reporting whether a row was written.
	Insert(ctx context.Context, msg *domain.Message) (bool, error)
	ExistsByProviderID(ctx context.Context, providerID string) (bool, error)
	// ConversationIDByProviderID returns the owning conversation of a stored message, or ErrNotFound.
	ConversationIDByProviderID(ctx context.Context, shopID int64, providerID string) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]domain.Message, error)
	MarkInboundRead(ctx context.Context, conversationID int64) (int64, error)
	Reparent(ctx context.Context, fromID, toID int64) (int64, error)
}

const messageColumns = `id, conversation_id, shop_id, provider_message_id, direction, from_address, from_name, to_address,
       to_name, cc, subject, body_text, body_html, status, is_internal_note, staff_id, in_reply_to, "references",
       sent_at, created_at`

type messageRepository struct {
	db DBTX
}

func (r *messageRepository) Insert(ctx context.Context, msg *domain.Message) (bool, error) {
	const query = `
        INSERT INTO messages (conversation_id, shop_id, provider_message_id, direction, from_address, from_name,
            to_address, to_name, cc, subject, body_text, body_html, status, is_internal_note, staff_id,
            in_reply_to, "references", sent_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
        ON CONFLICT (provider_message_id) DO NOTHING
        RETURNING id, created_at`
	cc := msg.Cc
	if cc == nil {
		cc = []string{}
	}
	refs := msg.References
	if refs == nil {
		refs = []string{}
	}
	err := r.db.QueryRow(ctx, query,
		msg.ConversationID,
		msg.ShopID,
		msg.ProviderMessageID,
		string(msg.Direction),
		msg.FromAddress,
		msg.FromName,
		msg.ToAddress,
		msg.ToName,
		cc,
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		string(msg.Status),
		msg.IsInternalNote,
		msg.StaffID,
		msg.InReplyTo,
		refs,
		msg.SentAt,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *messageRepository) ExistsByProviderID(ctx context.Context, providerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE provider_message_id=$1)`, providerID).Scan(&exists)
	return exists, err
}

func (r *messageRepository) ConversationIDByProviderID(ctx context.Context, shopID int64, providerID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT conversation_id FROM messages WHERE shop_id=$1 AND provider_message_id=$2`, shopID, providerID).Scan(&id)
	return id, err
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	return scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id))
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY sent_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func (r *messageRepository) MarkInboundRead(ctx context.Context, conversationID int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
        UPDATE messages SET status='read'
        WHERE conversation_id=$1 AND direction='inbound' AND status='unread'`, conversationID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *messageRepository) Reparent(ctx context.Context, fromID, toID int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE messages SET conversation_id=$1 WHERE conversation_id=$2`, toID, fromID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.ShopID,
		&msg.ProviderMessageID,
		&msg.Direction,
		&msg.FromAddress,
		&msg.FromName,
		&msg.ToAddress,
		&msg.ToName,
		&msg.Cc,
		&msg.Subject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.Status,
		&msg.IsInternalNote,
		&msg.StaffID,
		&msg.InReplyTo,
		&msg.References,
		&msg.SentAt,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-inbox/internal/domain"
)

// ActivityRepository stores the append-only audit trail. Rows are never updated
// except for reparenting on merge.
type ActivityRepository interface {
	Insert(ctx context.Context, activity *domain.Activity) error
	// InsertSLABreachOnce writes activity unless an sla_breach with the same
	// sla_type exists since the conversation was last resolved.
	InsertSLABreachOnce(ctx context.Context, activity *domain.Activity, slaType domain.SLAType) (bool, error)
	ListByConversation(ctx context.Context, conversationID int64, limit, offset int) ([]domain.Activity, int, error)
	Recent(ctx context.Context, shopID int64, limit int) ([]domain.Activity, error)
	Reparent(ctx context.Context, fromID, toID int64) (int64, error)
}

const activityColumns = `a.id, a.conversation_id, a.action_type, a.from_value, a.to_value, a.staff_id, a.message_id, a.metadata, a.created_at`

type activityRepository struct {
	db DBTX
}

func (r *activityRepository) Insert(ctx context.Context, activity *domain.Activity) error {
	const query = `
        INSERT INTO activities (conversation_id, action_type, from_value, to_value, staff_id, message_id, metadata, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		activity.ConversationID,
		string(activity.ActionType),
		activity.FromValue,
		activity.ToValue,
		activity.StaffID,
		activity.MessageID,
		metadataOrEmpty(activity.Metadata),
		activity.CreatedAt,
	).Scan(&activity.ID)
}

func (r *activityRepository) InsertSLABreachOnce(ctx context.Context, activity *domain.Activity, slaType domain.SLAType) (bool, error) {
	const query = `
        INSERT INTO activities (conversation_id, action_type, from_value, to_value, staff_id, message_id, metadata, created_at)
        SELECT $1::BIGINT, 'sla_breach', $2::TEXT, $3::TEXT, NULL::BIGINT, NULL::BIGINT, $4::JSONB, $5::TIMESTAMPTZ
        WHERE NOT EXISTS (
            SELECT 1 FROM activities a
            JOIN conversations c ON c.id = a.conversation_id
            WHERE a.conversation_id=$1 AND a.action_type='sla_breach' AND a.metadata->>'sla_type'=$6
              AND (c.resolved_at IS NULL OR a.created_at > c.resolved_at)
        )
        RETURNING id`
	meta := metadataOrEmpty(activity.Metadata)
	meta["sla_type"] = string(slaType)
	activity.Metadata = meta
	activity.ActionType = domain.ActionSLABreach

	err := r.db.QueryRow(ctx, query,
		activity.ConversationID,
		activity.FromValue,
		activity.ToValue,
		meta,
		activity.CreatedAt,
		string(slaType),
	).Scan(&activity.ID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *activityRepository) ListByConversation(ctx context.Context, conversationID int64, limit, offset int) ([]domain.Activity, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM activities WHERE conversation_id=$1`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = total + 1
	}
	rows, err := r.db.Query(ctx, `
        SELECT `+activityColumns+` FROM activities a
        WHERE a.conversation_id=$1
        ORDER BY a.created_at ASC, a.id ASC
        LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	result, err := collectActivities(rows)
	return result, total, err
}

func (r *activityRepository) Recent(ctx context.Context, shopID int64, limit int) ([]domain.Activity, error) {
	rows, err := r.db.Query(ctx, `
        SELECT `+activityColumns+` FROM activities a
        JOIN conversations c ON c.id = a.conversation_id
        WHERE c.shop_id=$1
        ORDER BY a.created_at DESC, a.id DESC
        LIMIT $2`, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivities(rows)
}

func (r *activityRepository) Reparent(ctx context.Context, fromID, toID int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE activities SET conversation_id=$1 WHERE conversation_id=$2`, toID, fromID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func collectActivities(rows pgx.Rows) ([]domain.Activity, error) {
	var result []domain.Activity
	for rows.Next() {
		var activity domain.Activity
		if err := rows.Scan(
			&activity.ID,
			&activity.ConversationID,
			&activity.ActionType,
			&activity.FromValue,
			&activity.ToValue,
			&activity.StaffID,
			&activity.MessageID,
			&activity.Metadata,
			&activity.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, activity)
	}
	return result, rows.Err()
}

func metadataOrEmpty(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	return out
}

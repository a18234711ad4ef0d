package repository

import (
	"testing"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/support-inbox/internal/domain"
)

func TestApplyConversationFilter(t *testing.T) {
	shopID := int64(3)
	staffID := int64(9)
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	search := " Order "

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id").From("conversations")
	applyConversationFilter(sb, ConversationFilter{
		ShopID:            &shopID,
		Statuses:          []domain.ConversationStatus{domain.StatusOpen, domain.StatusAssigned},
		AssignedTo:        &staffID,
		UnreadOnly:        true,
		LastMessageBefore: &before,
		Search:            &search,
	})
	query, args := sb.Build()

	assert.Contains(t, query, "shop_id = $1")
	assert.Contains(t, query, "status IN ($2, $3)")
	assert.Contains(t, query, "assigned_to = $4")
	assert.Contains(t, query, "unread_count > $5")
	assert.Contains(t, query, "is_merged = $6")
	assert.Contains(t, query, "last_message_at < $7")
	assert.Contains(t, query, "LOWER(subject) LIKE $8")
	assert.Equal(t, []any{shopID, "open", "assigned", staffID, 0, false, before, "%order%", "%order%", "%order%", "%order%"}, args)
}

func TestApplyConversationFilterUnassignedAndTag(t *testing.T) {
	tag := "visitor"
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id").From("conversations")
	applyConversationFilter(sb, ConversationFilter{Unassigned: true, Tag: &tag, IncludeMerged: true})
	query, args := sb.Build()

	assert.Contains(t, query, "assigned_to IS NULL")
	assert.Contains(t, query, "$1 = ANY(tags)")
	assert.NotContains(t, query, "is_merged")
	assert.Equal(t, []any{"visitor"}, args)
}

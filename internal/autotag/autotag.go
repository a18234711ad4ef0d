// Package autotag classifies a conversation's customer relationship from
// their order history.
package autotag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/observability"
	"github.com/spec-kit/support-inbox/internal/repository"
)

const (
	jobRetag  = "retag"
	pageSize  = 200
	lookupCap = 5 * time.Second
)

var relationshipTags = []string{domain.TagCustomer, domain.TagPotentialCustomer, domain.TagVisitor}

// Classifier is the order-lookup view used for tagging.
type Classifier interface {
	ClassifyCustomer(ctx context.Context, email string) (domain.CustomerClass, error)
}

// Engine applies relationship tags and initial priority.
type Engine struct {
	lookup     Classifier
	activities *activitylog.Log
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
	limiter    *rate.Limiter
}

// New builds an Engine. retagDelay spaces lookups during bulk re-classification.
func New(lookup Classifier, activities *activitylog.Log, metrics *observability.Metrics, logger *zap.Logger, clock func() time.Time, retagDelay time.Duration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	limit := rate.Inf
	if retagDelay > 0 {
		limit = rate.Every(retagDelay)
	}
	return &Engine{
		lookup:     lookup,
		activities: activities,
		metrics:    metrics,
		logger:     logger,
		clock:      clock,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Classify never fails: lookup errors fall back to visitor/low.
func (e *Engine) Classify(ctx context.Context, email string) domain.Classification {
	if e.lookup == nil || email == "" {
		return domain.VisitorClassification()
	}
	ctx, cancel := context.WithTimeout(ctx, lookupCap)
	defer cancel()
	class, err := e.lookup.ClassifyCustomer(ctx, email)
	if err != nil {
		e.logger.Warn("customer classification failed, defaulting to visitor", zap.String("customer_email", email), zap.Error(err))
		return domain.VisitorClassification()
	}
	return class.Classify()
}

// Apply tags conv with result, replacing any other relationship tag, overwrites
// its priority and logs a tag_add activity marked auto. conv is updated in place.
func (e *Engine) Apply(ctx context.Context, tx repository.Store, w *activitylog.Writer, conv *domain.Conversation, result domain.Classification) error {
	now := e.clock()
	conversations := tx.Conversations()

	for _, tag := range relationshipTags {
		if tag == result.Tag || !conv.HasTag(tag) {
			continue
		}
		if _, err := conversations.RemoveTag(ctx, conv.ID, tag, now); err != nil {
			return fmt.Errorf("remove tag %q: %w", tag, err)
		}
		if err := w.Append(ctx, &domain.Activity{
			ConversationID: conv.ID,
			ActionType:     domain.ActionTagRemove,
			FromValue:      tag,
			Metadata:       map[string]any{"auto": true},
			CreatedAt:      now,
		}); err != nil {
			return err
		}
	}

	if _, err := conversations.AddTag(ctx, conv.ID, result.Tag, now); err != nil {
		return fmt.Errorf("add tag %q: %w", result.Tag, err)
	}
	previous := conv.Priority
	if err := conversations.SetPriority(ctx, conv.ID, result.Priority, now); err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	if err := w.Append(ctx, &domain.Activity{
		ConversationID: conv.ID,
		ActionType:     domain.ActionTagAdd,
		ToValue:        result.Tag,
		Metadata: map[string]any{
			"auto":              true,
			"priority":          string(result.Priority),
			"previous_priority": string(previous),
		},
		CreatedAt: now,
	}); err != nil {
		return err
	}

	kept := conv.Tags[:0:0]
	for _, tag := range conv.Tags {
		if !isRelationshipTag(tag) {
			kept = append(kept, tag)
		}
	}
	conv.Tags = append(kept, result.Tag)
	conv.Priority = result.Priority
	return nil
}

// BulkResult summarizes a re-classification pass.
type BulkResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// BulkReclassify re-runs classification over every non-terminal conversation
// of shopID, throttled between lookups. Per-conversation failures are logged
// and counted; the pass continues.
func (e *Engine) BulkReclassify(ctx context.Context, store repository.Store, shopID int64) (BulkResult, error) {
	var result BulkResult
	filter := repository.ConversationFilter{
		ShopID:   &shopID,
		Statuses: nonTerminalStatuses(),
		Limit:    pageSize,
	}

	// Collect ids first so rows updated during the pass do not shift pages.
	var targets []domain.Conversation
	for {
		page, _, err := store.Conversations().List(ctx, filter)
		if err != nil {
			return result, err
		}
		targets = append(targets, page...)
		if len(page) < pageSize {
			break
		}
		filter.Offset += pageSize
	}
	result.Total = len(targets)

	for i := range targets {
		conv := targets[i]
		if err := e.limiter.Wait(ctx); err != nil {
			return result, err
		}
		classification := e.Classify(ctx, conv.CustomerEmail)
		if conv.HasTag(classification.Tag) && conv.Priority == classification.Priority {
			result.Skipped++
			continue
		}
		err := e.activities.WithinTx(ctx, store, shopID, func(tx repository.Store, w *activitylog.Writer) error {
			return e.Apply(ctx, tx, w, &conv, classification)
		})
		if err != nil {
			result.Failed++
			e.logger.Error("re-classify conversation", zap.Int64("conversation_id", conv.ID), zap.Error(err))
			continue
		}
		result.Updated++
	}

	e.metrics.RecordJobItems(jobRetag, "updated", result.Updated)
	e.metrics.RecordJobItems(jobRetag, "skipped", result.Skipped)
	e.metrics.RecordJobItems(jobRetag, "failed", result.Failed)
	e.logger.Info("re-classification finished",
		zap.Int64("shop_id", shopID),
		zap.Int("total", result.Total),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func nonTerminalStatuses() []domain.ConversationStatus {
	var out []domain.ConversationStatus
	for _, status := range domain.AllStatuses {
		if !status.Terminal() {
			out = append(out, status)
		}
	}
	return out
}

func isRelationshipTag(tag string) bool {
	for _, candidate := range relationshipTags {
		if candidate == tag {
			return true
		}
	}
	return false
}

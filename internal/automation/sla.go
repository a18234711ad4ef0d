package automation

import (
	"context"
	"time"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

var firstResponseStatuses = map[domain.ConversationStatus]bool{
	domain.StatusOpen:       true,
	domain.StatusAssigned:   true,
	domain.StatusInProgress: true,
}

// runSLA logs at most one sla_breach activity per conversation and SLA type.
func (s *Scheduler) runSLA(ctx context.Context, shop domain.Shop, cfg domain.AutomationSettings, now time.Time) (counts, error) {
	firstResponse := hours(cfg.SLAFirstResponseHours)
	resolution := hours(cfg.SLAResolutionHours)
	cutoff := now.Add(-min(firstResponse, resolution))

	var statuses []domain.ConversationStatus
	for _, status := range domain.AllStatuses {
		if !status.Finished() {
			statuses = append(statuses, status)
		}
	}
	convs, err := s.candidates(ctx, repository.ConversationFilter{
		ShopID:        &shop.ID,
		Statuses:      statuses,
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return counts{}, err
	}

	return s.each(ctx, domain.JobSLA, shop.ID, convs, func(tx repository.Store, w *activitylog.Writer, conv domain.Conversation) error {
		elapsed := now.Sub(conv.CreatedAt)
		logged := false

		if cfg.SLAFirstResponseHours > 0 && conv.FirstResponseAt == nil && firstResponseStatuses[conv.Status] && elapsed >= firstResponse {
			inserted, err := w.AppendSLABreachOnce(ctx, breach(conv, domain.SLAFirstResponse, cfg.SLAFirstResponseHours, elapsed, now), domain.SLAFirstResponse)
			if err != nil {
				return err
			}
			logged = logged || inserted
		}
		if cfg.SLAResolutionHours > 0 && !conv.Status.Finished() && elapsed >= resolution {
			inserted, err := w.AppendSLABreachOnce(ctx, breach(conv, domain.SLAResolution, cfg.SLAResolutionHours, elapsed, now), domain.SLAResolution)
			if err != nil {
				return err
			}
			logged = logged || inserted
		}
		if !logged {
			return errSkip
		}
		return nil
	}), nil
}

func breach(conv domain.Conversation, slaType domain.SLAType, thresholdHours int, elapsed time.Duration, now time.Time) *domain.Activity {
	return &domain.Activity{
		ConversationID: conv.ID,
		ActionType:     domain.ActionSLABreach,
		ToValue:        string(slaType),
		Metadata: map[string]any{
			"sla_type":        string(slaType),
			"threshold_hours": thresholdHours,
			"elapsed_minutes": int(elapsed / time.Minute),
			"status":          string(conv.Status),
		},
		CreatedAt: now,
	}
}

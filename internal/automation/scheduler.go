// Package automation runs the timer-driven ticket jobs: reminders, auto-close,
// escalation and SLA breach detection.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/ingest"
	"github.com/spec-kit/support-inbox/internal/observability"
	"github.com/spec-kit/support-inbox/internal/persistence"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/internal/settings"
)

const (
	pageSize       = 200
	defaultLockTTL = 10 * time.Minute
)

// ErrJobRunning is returned when another run of the same job holds the lock.
var ErrJobRunning = errors.New("job already running")

// errSkip aborts one conversation's transaction without counting a failure.
var errSkip = errors.New("skip")

// InboxPoller is the ingest side of the inbox_poll job.
type InboxPoller interface {
	PollShop(ctx context.Context, shop domain.Shop) (ingest.PollSummary, error)
}

// Summary aggregates one run across shops.
type Summary struct {
	Job       domain.JobName `json:"job"`
	Shops     int            `json:"shops"`
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
}

type counts struct {
	processed int
	skipped   int
	failed    int
}

func (c *counts) add(other counts) {
	c.processed += other.processed
	c.skipped += other.skipped
	c.failed += other.failed
}

// Scheduler executes automation jobs against the store. Every job iterates
// shops and conversations independently; one item's failure never aborts the
// rest of the batch.
type Scheduler struct {
	store      repository.Store
	activities *activitylog.Log
	locker     persistence.Locker
	poller     InboxPoller
	metrics    *observability.Metrics
	logger     *zap.Logger
	clock      func() time.Time
	lockTTL    time.Duration
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLocker guards each job with a named lock.
func WithLocker(locker persistence.Locker) Option {
	return func(s *Scheduler) { s.locker = locker }
}

// WithPoller enables the inbox_poll job.
func WithPoller(poller InboxPoller) Option {
	return func(s *Scheduler) { s.poller = poller }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = metrics }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func NewScheduler(store repository.Store, activities *activitylog.Log, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		store:      store,
		activities: activities,
		logger:     logger,
		clock:      func() time.Time { return time.Now().UTC() },
		lockTTL:    defaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunJob runs job for one shop, or for every shop when shopID is nil. The
// reminders job also runs auto-close afterwards.
func (s *Scheduler) RunJob(ctx context.Context, job domain.JobName, shopID *int64) (Summary, error) {
	summary := Summary{Job: job}
	if !job.Valid() {
		return summary, fmt.Errorf("unknown job %q", job)
	}
	if job == domain.JobInboxPoll && s.poller == nil {
		return summary, fmt.Errorf("inbox polling is not configured")
	}

	if s.locker != nil {
		lock, err := s.locker.Acquire(ctx, "automation:"+string(job), s.lockTTL)
		if errors.Is(err, persistence.ErrLockNotAcquired) {
			s.logger.Info("job already running, skipping tick", zap.String("job", string(job)))
			return summary, ErrJobRunning
		}
		if err != nil {
			return summary, fmt.Errorf("acquire %s lock: %w", job, err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release job lock", zap.String("job", string(job)), zap.Error(err))
			}
		}()
	}

	shops, err := s.shops(ctx, shopID)
	if err != nil {
		return summary, err
	}

	var total counts
	for _, shop := range shops {
		started := s.clock()
		result, runErr := s.runForShop(ctx, job, shop)
		total.add(result)
		s.recordRun(ctx, job, shop.ID, started, result, runErr)
		if runErr != nil {
			s.logger.Error("automation job failed for shop",
				zap.String("job", string(job)),
				zap.Int64("shop_id", shop.ID),
				zap.Error(runErr),
			)
		}
	}

	summary.Shops = len(shops)
	summary.Processed = total.processed
	summary.Skipped = total.skipped
	summary.Failed = total.failed
	s.metrics.RecordJobRun(string(job), total.failed > 0)
	s.metrics.RecordJobItems(string(job), "processed", total.processed)
	s.metrics.RecordJobItems(string(job), "skipped", total.skipped)
	s.metrics.RecordJobItems(string(job), "failed", total.failed)
	s.logger.Info("automation job finished",
		zap.String("job", string(job)),
		zap.Int("shops", summary.Shops),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (s *Scheduler) runForShop(ctx context.Context, job domain.JobName, shop domain.Shop) (counts, error) {
	if job == domain.JobInboxPoll {
		poll, err := s.poller.PollShop(ctx, shop)
		return counts{processed: poll.Processed(), failed: poll.Failed}, err
	}

	cfg, err := settings.Automation(ctx, s.store, shop.ID)
	if err != nil {
		return counts{}, err
	}
	now := s.clock()

	switch job {
	case domain.JobReminders:
		result, err := s.runReminders(ctx, shop, cfg, now)
		if err != nil {
			return result, err
		}
		closed, err := s.runAutoClose(ctx, shop, cfg, now)
		result.add(closed)
		return result, err
	case domain.JobAutoClose:
		return s.runAutoClose(ctx, shop, cfg, now)
	case domain.JobEscalation:
		return s.runEscalation(ctx, shop, cfg, now)
	case domain.JobSLA:
		return s.runSLA(ctx, shop, cfg, now)
	}
	return counts{}, fmt.Errorf("unknown job %q", job)
}

func (s *Scheduler) shops(ctx context.Context, shopID *int64) ([]domain.Shop, error) {
	if shopID != nil {
		shop, err := s.store.Shops().GetByID(ctx, *shopID)
		if err != nil {
			return nil, fmt.Errorf("load shop %d: %w", *shopID, err)
		}
		return []domain.Shop{*shop}, nil
	}
	return s.store.Shops().List(ctx)
}

func (s *Scheduler) recordRun(ctx context.Context, job domain.JobName, shopID int64, started time.Time, result counts, runErr error) {
	run := domain.JobRun{
		Job:        job,
		ShopID:     shopID,
		StartedAt:  started,
		FinishedAt: s.clock(),
		Processed:  result.processed,
		Failed:     result.failed,
	}
	if runErr != nil {
		run.LastError = runErr.Error()
	}
	if err := s.store.JobRuns().Record(ctx, run); err != nil {
		s.logger.Warn("record job run", zap.String("job", string(job)), zap.Int64("shop_id", shopID), zap.Error(err))
	}
}

// candidates loads every conversation matching filter, page by page, before
// any of them is mutated.
func (s *Scheduler) candidates(ctx context.Context, filter repository.ConversationFilter) ([]domain.Conversation, error) {
	filter.Limit = pageSize
	var out []domain.Conversation
	for {
		page, _, err := s.store.Conversations().List(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		filter.Offset += pageSize
	}
}

// each runs fn for every conversation in its own activity transaction and
// tallies outcomes.
func (s *Scheduler) each(ctx context.Context, job domain.JobName, shopID int64, convs []domain.Conversation, fn func(tx repository.Store, w *activitylog.Writer, conv domain.Conversation) error) counts {
	result, _ := s.eachCommitted(ctx, job, shopID, convs, fn)
	return result
}

// eachCommitted is each that also returns the conversations whose
// transaction committed.
func (s *Scheduler) eachCommitted(ctx context.Context, job domain.JobName, shopID int64, convs []domain.Conversation, fn func(tx repository.Store, w *activitylog.Writer, conv domain.Conversation) error) (counts, []domain.Conversation) {
	var (
		result    counts
		committed []domain.Conversation
	)
	for _, conv := range convs {
		conv := conv
		err := s.activities.WithinTx(ctx, s.store, shopID, func(tx repository.Store, w *activitylog.Writer) error {
			return fn(tx, w, conv)
		})
		switch {
		case err == nil:
			result.processed++
			committed = append(committed, conv)
		case errors.Is(err, errSkip):
			result.skipped++
		default:
			result.failed++
			s.logger.Error("automation item failed",
				zap.String("job", string(job)),
				zap.Int64("conversation_id", conv.ID),
				zap.Error(err),
			)
		}
	}
	return result, committed
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}

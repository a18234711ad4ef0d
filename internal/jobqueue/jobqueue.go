// Package jobqueue runs outbound mail delivery and the automation schedule on
// River, with an in-process fallback when no database is configured.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/automation"
	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/repository"
)

const (
	QueueMail       = "mail"
	mailMaxAttempts = 8
	jobTimeout      = 15 * time.Minute
)

// JobRunner executes one automation job.
type JobRunner interface {
	RunJob(ctx context.Context, job domain.JobName, shopID *int64) (automation.Summary, error)
}

// SendMailArgs carries one outbound task.
type SendMailArgs struct {
	Task domain.OutboundTask `json:"task"`
}

func (SendMailArgs) Kind() string { return "send_mail" }

func (SendMailArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueMail, MaxAttempts: mailMaxAttempts}
}

// SendMailWorker delivers SendMailArgs. River retries failed sends.
type SendMailWorker struct {
	river.WorkerDefaults[SendMailArgs]
	deliverer *Deliverer
}

func (w *SendMailWorker) Work(ctx context.Context, job *river.Job[SendMailArgs]) error {
	return w.deliverer.Deliver(ctx, job.Args.Task)
}

// AutomationArgs triggers one automation job. A nil ShopID runs every shop.
type AutomationArgs struct {
	Job    domain.JobName `json:"job"`
	ShopID *int64         `json:"shop_id,omitempty"`
}

func (AutomationArgs) Kind() string { return "automation" }

func (AutomationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// AutomationWorker runs AutomationArgs through the scheduler.
type AutomationWorker struct {
	river.WorkerDefaults[AutomationArgs]
	runner JobRunner
	logger *zap.Logger
}

func (w *AutomationWorker) Timeout(*river.Job[AutomationArgs]) time.Duration { return jobTimeout }

func (w *AutomationWorker) Work(ctx context.Context, job *river.Job[AutomationArgs]) error {
	_, err := w.runner.RunJob(ctx, job.Args.Job, job.Args.ShopID)
	if errors.Is(err, automation.ErrJobRunning) {
		w.logger.Debug("automation tick skipped", zap.String("job", string(job.Args.Job)))
		return nil
	}
	return err
}

// Dependencies wires the River client.
type Dependencies struct {
	Pool      *pgxpool.Pool
	Deliverer *Deliverer
	Runner    JobRunner
	Config    config.QueueConfig
	// PollInbox adds inbox_poll to the periodic schedule.
	PollInbox bool
	Logger    *zap.Logger
}

// Queue owns the River client.
type Queue struct {
	client *river.Client[pgx.Tx]
	logger *zap.Logger
}

// New builds the River client with the mail and automation workers and the
// periodic automation schedule.
func New(deps Dependencies) (*Queue, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxWorkers := deps.Config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 5
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &SendMailWorker{deliverer: deps.Deliverer})
	river.AddWorker(workers, &AutomationWorker{runner: deps.Runner, logger: logger})

	client, err := river.NewClient(riverpgxv5.New(deps.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
			QueueMail:          {MaxWorkers: maxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: periodicJobs(Schedule(deps.Config, deps.PollInbox)),
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Queue{client: client, logger: logger}, nil
}

// Start begins working jobs.
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop waits for running jobs to finish.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// OutboxFor binds the outbox to tx so a task only becomes visible to workers
// once the state change that produced it commits.
func (q *Queue) OutboxFor(tx pgx.Tx) repository.Outbox {
	return &riverOutbox{client: q.client, tx: tx}
}

// EnqueueJob queues a one-off automation run.
func (q *Queue) EnqueueJob(ctx context.Context, job domain.JobName, shopID *int64) error {
	_, err := q.client.Insert(ctx, AutomationArgs{Job: job, ShopID: shopID}, nil)
	return err
}

type riverOutbox struct {
	client *river.Client[pgx.Tx]
	tx     pgx.Tx
}

func (o *riverOutbox) Enqueue(ctx context.Context, task domain.OutboundTask) error {
	args := SendMailArgs{Task: task}
	var err error
	if o.tx != nil {
		_, err = o.client.InsertTx(ctx, o.tx, args, nil)
	} else {
		_, err = o.client.Insert(ctx, args, nil)
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Kind, err)
	}
	return nil
}

// Migrate brings River's own tables up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate river schema: %w", err)
	}
	if logger != nil {
		for _, version := range res.Versions {
			logger.Info("applied river migration", zap.Int("version", version.Version))
		}
	}
	return nil
}

// Periodic is one entry of the automation schedule.
type Periodic struct {
	Job   domain.JobName
	Every time.Duration
}

// Schedule lists the recurring automation jobs. Auto-close runs as part of
// reminders and is not scheduled separately.
func Schedule(cfg config.QueueConfig, pollInbox bool) []Periodic {
	schedule := []Periodic{
		{Job: domain.JobReminders, Every: cfg.ReminderInterval},
		{Job: domain.JobEscalation, Every: cfg.EscalationInterval},
		{Job: domain.JobSLA, Every: cfg.SLAInterval},
	}
	if pollInbox {
		schedule = append([]Periodic{{Job: domain.JobInboxPoll, Every: cfg.InboxPollInterval}}, schedule...)
	}
	out := schedule[:0]
	for _, p := range schedule {
		if p.Every > 0 {
			out = append(out, p)
		}
	}
	return out
}

func periodicJobs(schedule []Periodic) []*river.PeriodicJob {
	jobs := make([]*river.PeriodicJob, 0, len(schedule))
	for _, p := range schedule {
		job := p.Job
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(p.Every),
			func() (river.JobArgs, *river.InsertOpts) {
				return AutomationArgs{Job: job}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	return jobs
}

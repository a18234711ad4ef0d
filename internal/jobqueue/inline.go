package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/automation"
	"github.com/spec-kit/support-inbox/internal/domain"
)

// ErrOutboxFull is returned when the in-process queue has no room left.
var ErrOutboxFull = errors.New("outbox queue full")

// InlineOutbox delivers tasks on background goroutines. It is used when the
// service runs without Postgres; queued tasks are lost on restart.
type InlineOutbox struct {
	deliverer *Deliverer
	queue     chan domain.OutboundTask
	logger    *zap.Logger
}

// NewInlineOutbox buffers up to size tasks.
func NewInlineOutbox(deliverer *Deliverer, size int, logger *zap.Logger) *InlineOutbox {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InlineOutbox{deliverer: deliverer, queue: make(chan domain.OutboundTask, size), logger: logger}
}

// Enqueue never blocks.
func (o *InlineOutbox) Enqueue(_ context.Context, task domain.OutboundTask) error {
	select {
	case o.queue <- task:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Run delivers tasks with workers goroutines until ctx is done.
func (o *InlineOutbox) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-o.queue:
					if err := o.deliverer.Deliver(ctx, task); err != nil {
						o.logger.Error("deliver outbound email", zap.String("kind", string(task.Kind)), zap.Error(err))
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Ticker runs the automation schedule in process.
type Ticker struct {
	runner   JobRunner
	schedule []Periodic
	logger   *zap.Logger
}

// NewTicker builds a Ticker over schedule.
func NewTicker(runner JobRunner, schedule []Periodic, logger *zap.Logger) *Ticker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{runner: runner, schedule: schedule, logger: logger}
}

// Run starts one loop per scheduled job and blocks until ctx is done. Each
// job runs once immediately.
func (t *Ticker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range t.schedule {
		wg.Add(1)
		go func(p Periodic) {
			defer wg.Done()
			t.loop(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (t *Ticker) loop(ctx context.Context, p Periodic) {
	ticker := time.NewTicker(p.Every)
	defer ticker.Stop()
	for {
		t.runOnce(ctx, p.Job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context, job domain.JobName) {
	if _, err := t.runner.RunJob(ctx, job, nil); err != nil && !errors.Is(err, automation.ErrJobRunning) && ctx.Err() == nil {
		t.logger.Error("automation tick failed", zap.String("job", string(job)), zap.Error(err))
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/activitylog"
	"github.com/spec-kit/support-inbox/internal/ai"
	httptransport "github.com/spec-kit/support-inbox/internal/api/http"
	"github.com/spec-kit/support-inbox/internal/api/http/handlers"
	"github.com/spec-kit/support-inbox/internal/auth"
	"github.com/spec-kit/support-inbox/internal/automation"
	"github.com/spec-kit/support-inbox/internal/autotag"
	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/customer"
	"github.com/spec-kit/support-inbox/internal/domain"
	"github.com/spec-kit/support-inbox/internal/events"
	"github.com/spec-kit/support-inbox/internal/ingest"
	"github.com/spec-kit/support-inbox/internal/jobqueue"
	"github.com/spec-kit/support-inbox/internal/mail"
	"github.com/spec-kit/support-inbox/internal/observability"
	"github.com/spec-kit/support-inbox/internal/persistence"
	"github.com/spec-kit/support-inbox/internal/repository"
	"github.com/spec-kit/support-inbox/internal/repository/memory"
	"github.com/spec-kit/support-inbox/internal/service"
	"github.com/spec-kit/support-inbox/internal/settings"
	"github.com/spec-kit/support-inbox/internal/threading"
	"github.com/spec-kit/support-inbox/internal/worker"
)

const inlineOutboxSize = 256

// runtime holds everything shared by the serve and automation commands.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	pg         *persistence.Postgres
	redis      *persistence.Redis
	store      repository.Store
	memStore   *memory.Store
	pgStore    *repository.PGStore
	dispatcher events.Dispatcher
	kafka      *events.KafkaSink
	activities *activitylog.Log
	lookup     customer.Lookup
	tagger     *autotag.Engine
	provider   *mail.HTTPClient
	poller     *ingest.Poller
	scheduler  *automation.Scheduler
	deliverer  *jobqueue.Deliverer
}

func clock() time.Time { return time.Now().UTC() }

func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger}
	rt.metrics = observability.NewMetrics(prometheus.DefaultRegisterer)

	rt.pg, err = persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if pool := rt.pg.PoolHandle(); pool != nil {
		rt.pgStore = repository.NewPGStore(pool, nil)
		rt.store = rt.pgStore
	} else {
		logger.Warn("running with the in-memory store; data is lost on exit")
		rt.memStore = memory.New()
		rt.store = rt.memStore
	}

	var locker persistence.Locker = persistence.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rt.redis = persistence.NewRedis(cfg.Redis, logger)
		if err := rt.redis.Ping(ctx); err == nil {
			locker = persistence.NewRedisLocker(rt.redis.Client, "support-inbox:")
		} else {
			logger.Warn("redis unavailable; job locks are process-local", zap.Error(err))
		}
	}

	rt.dispatcher = events.NewInMemoryDispatcher(logger)
	rt.kafka = events.NewKafkaSink(cfg.Kafka, logger)
	rt.kafka.Attach(rt.dispatcher)

	rt.activities = activitylog.New(rt.dispatcher, logger, clock)
	rt.lookup = customer.New(cfg.Shopify, logger)
	rt.tagger = autotag.New(rt.lookup, rt.activities, rt.metrics, logger, clock, cfg.Queue.RetagDelay)
	resolver := threading.NewResolver(rt.lookup, logger, clock)
	ingestService := ingest.NewService(rt.store, resolver, rt.tagger, rt.activities, rt.dispatcher, rt.metrics, logger, clock)

	rt.provider = mail.NewHTTPClient(cfg.Mail, domain.Mailboxes(cfg.Mail.Mailboxes), logger)
	opts := []automation.Option{
		automation.WithLocker(locker),
		automation.WithMetrics(rt.metrics),
	}
	if cfg.Mail.BaseURL != "" {
		rt.poller = ingest.NewPoller(rt.store, rt.provider, ingestService, logger, clock)
		opts = append(opts, automation.WithPoller(rt.poller))
	} else {
		logger.Warn("MAIL_API_BASE_URL not set; inbox polling disabled")
	}
	rt.scheduler = automation.NewScheduler(rt.store, rt.activities, logger, opts...)
	rt.deliverer = jobqueue.NewDeliverer(rt.store, rt.provider, rt.metrics, logger, clock)
	return rt, nil
}

func (rt *runtime) close() {
	if rt.kafka != nil {
		if err := rt.kafka.Close(); err != nil {
			rt.logger.Warn("close kafka writer", zap.Error(err))
		}
	}
	rt.redis.Close()
	rt.pg.Close()
	_ = rt.logger.Sync()
}

func (rt *runtime) migrate(ctx context.Context) error {
	pool := rt.pg.PoolHandle()
	if pool == nil {
		return nil
	}
	if err := persistence.RunMigrations(ctx, pool, rt.cfg.Postgres.MigrationsDir, rt.logger); err != nil {
		return err
	}
	return jobqueue.Migrate(ctx, pool, rt.logger)
}

func migrate(c *cli.Context) error {
	rt, err := bootstrap(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()
	if rt.pg.PoolHandle() == nil {
		return fmt.Errorf("POSTGRES_DSN is required to migrate")
	}
	return rt.migrate(c.Context)
}

func runAutomation(c *cli.Context) error {
	job, err := parseJob(c.String("job"))
	if err != nil {
		return err
	}
	rt, err := bootstrap(c.Context)
	if err != nil {
		return err
	}
	defer rt.close()

	var shopID *int64
	if id := c.Int64("shop"); id > 0 {
		shopID = &id
	}
	// Notices queued by the run go to the shared job table; a serving process
	// delivers them. The client is never started here.
	if pool := rt.pg.PoolHandle(); pool != nil {
		queue, err := jobqueue.New(jobqueue.Dependencies{
			Pool:      pool,
			Deliverer: rt.deliverer,
			Runner:    rt.scheduler,
			Config:    rt.cfg.Queue,
			Logger:    rt.logger,
		})
		if err != nil {
			return err
		}
		rt.pgStore.SetOutboxFactory(queue.OutboxFor)
	}

	summary, err := rt.scheduler.RunJob(c.Context, job, shopID)
	if err != nil {
		return err
	}
	rt.logger.Info("automation run finished",
		zap.String("job", string(summary.Job)),
		zap.Int("shops", summary.Shops),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return nil
}

func serve(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	if rt.cfg.Postgres.RunMigrations {
		if err := rt.migrate(ctx); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	if err := service.Bootstrap(ctx, *rt.cfg, rt.store, logger); err != nil {
		logger.Fatal("failed to bootstrap shop", zap.Error(err))
	}

	var queue *jobqueue.Queue
	if pool := rt.pg.PoolHandle(); pool != nil {
		queue, err = jobqueue.New(jobqueue.Dependencies{
			Pool:      pool,
			Deliverer: rt.deliverer,
			Runner:    rt.scheduler,
			Config:    rt.cfg.Queue,
			PollInbox: rt.poller != nil,
			Logger:    logger,
		})
		if err != nil {
			logger.Fatal("failed to build job queue", zap.Error(err))
		}
		rt.pgStore.SetOutboxFactory(queue.OutboxFor)
		if err := queue.Start(ctx); err != nil {
			logger.Fatal("failed to start job queue", zap.Error(err))
		}
	} else {
		outbox := jobqueue.NewInlineOutbox(rt.deliverer, inlineOutboxSize, logger)
		rt.memStore.SetOutbox(outbox)
		go outbox.Run(ctx, rt.cfg.Queue.MaxWorkers)
		ticker := jobqueue.NewTicker(rt.scheduler, jobqueue.Schedule(rt.cfg.Queue, rt.poller != nil), logger)
		go ticker.Run(ctx)
	}

	drafter, err := ai.New(rt.cfg.AI, logger)
	if err != nil {
		logger.Fatal("failed to init drafter", zap.Error(err))
	}

	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:      rt.store,
		Activities: rt.activities,
		Drafter:    drafter,
		Logger:     logger,
		Clock:      clock,
	})
	authService := service.NewAuthService(*rt.cfg, rt.store)
	staffService := service.NewStaffService(*rt.cfg, rt.store)
	settingsService := settings.NewService(rt.store, logger, clock)
	worker.StartNotificationWorker(service.NewNotificationService(rt.dispatcher, rt.store, logger, rt.cfg.Mail))

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), rt.store.Staff())

	app := fiber.New(fiber.Config{
		AppName:      rt.cfg.App.Name,
		UnescapePath: true,
	})
	httptransport.RegisterMiddlewares(app, logger, rt.metrics, rt.cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(rt.cfg.App.Name, rt.cfg.App.Version, rt.pg, rt.redis),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Staff:          handlers.NewStaffHandler(authService, staffService),
		Automation:     handlers.NewAutomationHandler(rt.scheduler, rt.tagger, rt.store),
		Settings:       handlers.NewSettingsHandler(settingsService),
		AuthMiddleware: authMiddleware,
		MetricsEnabled: true,
	})

	go func() {
		if err := app.Listen(rt.cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.Shutdown(); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if queue != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := queue.Stop(stopCtx); err != nil {
			logger.Warn("job queue shutdown", zap.Error(err))
		}
	}
	return nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

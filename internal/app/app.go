package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/cancellation"
	"github.com/vanevents/harvester/internal/common"
	"github.com/vanevents/harvester/internal/handlers"
	"github.com/vanevents/harvester/internal/instagram"
	"github.com/vanevents/harvester/internal/runs"
	"github.com/vanevents/harvester/internal/scheduler"
	"github.com/vanevents/harvester/internal/scraper"
	"github.com/vanevents/harvester/internal/storage/postgres"
	"github.com/vanevents/harvester/internal/wordpress"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Store    *postgres.Store
	Broker   *broker.Broker
	Recorder *runs.Recorder

	Promoter      *scheduler.Promoter
	Dispatcher    *scheduler.Dispatcher
	Coordinator   *instagram.Coordinator
	CancelService *cancellation.Service

	schedulePool  *broker.Pool
	scrapePool    *broker.Pool
	instagramPool *broker.Pool

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	SourcesHandler   *handlers.SourcesHandler
	SchedulesHandler *handlers.SchedulesHandler
	JobsHandler      *handlers.JobsHandler
	RunsHandler      *handlers.RunsHandler
	InstagramHandler *handlers.InstagramHandler
}

// New initializes the application with all dependencies. Nothing is running
// yet when New returns; Start applies the startup ordering.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initBroker(ctx); err != nil {
		app.Store.Close()
		return nil, fmt.Errorf("failed to initialize broker: %w", err)
	}

	app.initServices()
	app.initHandlers()

	logger.Info().Msg("Application initialization complete")
	return app, nil
}

// initStorage opens Postgres and applies pending migrations.
func (a *App) initStorage(ctx context.Context) error {
	store, err := postgres.Open(ctx, a.Config.Database.URL, a.Logger)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return err
	}

	a.Store = store
	a.Logger.Debug().Str("storage", "postgres").Msg("Storage layer initialized")
	return nil
}

// initBroker connects the Redis job broker.
func (a *App) initBroker(ctx context.Context) error {
	b, err := broker.NewFromURL(ctx, a.Config.Redis.URL, a.Logger)
	if err != nil {
		return err
	}
	b.SetMaxAttempts(a.Config.Workers.MaxAttempts)
	a.Broker = b
	return nil
}

// initServices initializes business services in dependency order.
func (a *App) initServices() {
	a.Recorder = runs.NewRecorder(a.Store.Runs, a.Logger)
	a.CancelService = cancellation.NewService(a.Broker, a.Recorder, a.Store.Runs, a.Logger)

	a.Coordinator = instagram.NewCoordinator(
		a.Store.Instagram,
		a.Recorder,
		a.Broker,
		a.Config.Instagram.DefaultPostLimit,
		a.Config.Instagram.DefaultBatchSize,
		a.Logger,
	)

	a.Promoter = scheduler.NewPromoter(a.Broker, a.Store.Schedules, a.Config.Scheduler, a.Logger)
	a.Dispatcher = scheduler.NewDispatcher(
		a.Broker,
		a.Store.Schedules,
		a.Store.Sources,
		a.Store.WordPress,
		wordpress.NewHTTPExporter(a.Logger),
		a.Coordinator,
		a.Recorder,
		a.Logger,
	)

	pollInterval := a.Config.Workers.WorkerPollInterval()

	// One dispatcher worker keeps trigger handling serial; fan-out happens in
	// the scrape pools.
	a.schedulePool = broker.NewPool(a.Broker, broker.QueueSchedule, 1, pollInterval, a.Dispatcher.Handle, a.Logger)

	scrapeWorker := scraper.NewWorker(a.Store.Sources, a.Recorder, a.Broker, a.Logger)
	a.scrapePool = broker.NewPool(a.Broker, broker.QueueScrape,
		a.Config.Workers.ScrapeConcurrency, pollInterval, scrapeWorker.Handle, a.Logger)

	instagramClient := instagram.NewHTTPClient(a.Config.Instagram.APIBaseURL, a.Config.Instagram.APIKey)
	instagramWorker := instagram.NewWorker(instagramClient, a.Store.Instagram, a.Recorder, a.Broker, a.Logger)
	a.instagramPool = broker.NewPool(a.Broker, broker.QueueInstagram,
		a.Config.Workers.InstagramConcurrency, pollInterval, instagramWorker.Handle, a.Logger)

	a.Logger.Debug().Msg("Services initialized")
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.SourcesHandler = handlers.NewSourcesHandler(a.Store.Sources, a.Logger)
	a.SchedulesHandler = handlers.NewSchedulesHandler(a.Store.Schedules, a.Promoter, a.Logger)
	a.JobsHandler = handlers.NewJobsHandler(a.CancelService, a.Logger)
	a.RunsHandler = handlers.NewRunsHandler(a.Store.Runs, a.Logger)
	a.InstagramHandler = handlers.NewInstagramHandler(a.Coordinator, a.Logger)
}

// Start brings the moving parts up in order: the promoter's initial
// reconciliation completes before any worker can consume a trigger, so
// orphan bindings from a previous deployment are cleaned before they fire.
// With workersOnly set the promoter stays down and another process owns
// schedule promotion.
func (a *App) Start(workersOnly bool) error {
	if workersOnly {
		a.Logger.Info().Msg("Workers-only mode, schedule promoter disabled")
	} else {
		if err := a.Promoter.Start(); err != nil {
			return fmt.Errorf("failed to start promoter: %w", err)
		}
	}

	a.schedulePool.Start()
	a.scrapePool.Start()
	a.instagramPool.Start()

	a.Logger.Info().
		Int("scrape_workers", a.Config.Workers.ScrapeConcurrency).
		Int("instagram_workers", a.Config.Workers.InstagramConcurrency).
		Msg("Worker pools started")
	return nil
}

// Close stops loops and pools, then releases connections.
func (a *App) Close() error {
	if a.Promoter != nil {
		a.Promoter.Stop()
	}
	if a.schedulePool != nil {
		a.schedulePool.Stop()
	}
	if a.scrapePool != nil {
		a.scrapePool.Stop()
	}
	if a.instagramPool != nil {
		a.instagramPool.Stop()
	}

	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close broker")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}

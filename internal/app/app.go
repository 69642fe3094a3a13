package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/handlers"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/events"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	oltsvc "github.com/ternarybob/fibercore/internal/services/olt"
	"github.com/ternarybob/fibercore/internal/storage"
	"github.com/ternarybob/fibercore/internal/storage/badger"
	"github.com/ternarybob/fibercore/internal/transport"
	oltworkers "github.com/ternarybob/fibercore/internal/workers/olt"
)

// Mode selects which parts of the application a process runs
type Mode string

const (
	// ModeServe runs the API, the repeatable scheduler and the workers in one process
	ModeServe Mode = "serve"
	// ModeWorker runs workers only and reports notification outcomes to the API over HTTP
	ModeWorker Mode = "worker"
	// ModeMaintenance opens the stores without starting anything
	ModeMaintenance Mode = "maintenance"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	Mode      Mode
	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager *badger.Manager
	QueueStore     interfaces.QueueStore

	// Queue system
	QueueManager *queue.Manager
	Scheduler    *queue.Scheduler
	Dispatcher   *queue.Dispatcher

	// Device transport
	Sessions *transport.Registry
	Runner   *transport.Runner

	// Services
	EventService        interfaces.EventService
	NotificationService *notifications.Service
	Tracker             *notifications.Tracker
	Inventory           *oltsvc.Inventory
	OltService          *oltsvc.Service

	// HTTP handlers
	APIHandler          *handlers.APIHandler
	WSHandler           *handlers.WebSocketHandler
	EventSubscriber     *handlers.EventSubscriber
	NotificationHandler *handlers.NotificationHandler
	OltHandler          *handlers.OltHandler
	QueueHandler        *handlers.QueueHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger, mode Mode) (*App, error) {
	if mode == ModeWorker && cfg.Queue.Backend != "redis" {
		return nil, fmt.Errorf("worker mode requires queue.backend = \"redis\": the badger queue cannot be shared between processes")
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Mode:      mode,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initQueue(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	if mode == ModeMaintenance {
		// CLI retries open their notifications in the local record store
		app.QueueManager.SetNotifier(notifications.NewService(app.StorageManager.NotificationStorage(), nil, logger))
		return app, nil
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initWorkers(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	if mode == ModeServe {
		app.initHandlers()
	}

	logger.Info().
		Str("mode", string(mode)).
		Str("queue_backend", cfg.Queue.Backend).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the Badger record store and loads the OLT inventory
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	// A missing inventory directory is not fatal: OLTs may already be stored
	if err := a.StorageManager.LoadOltsFromFiles(a.ctx, a.Config.Inventory.Dir); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load OLT inventory from files")
	}

	return nil
}

// initQueue opens the queue backend and creates the named queues
func (a *App) initQueue() error {
	store, err := storage.NewQueueStore(a.ctx, a.Logger, a.Config, a.StorageManager)
	if err != nil {
		return err
	}
	a.QueueStore = store
	a.QueueManager = queue.NewManager(store, a.Logger)

	for _, name := range models.OltQueues {
		if _, err := a.QueueManager.CreateQueue(name); err != nil {
			return fmt.Errorf("failed to create queue %s: %w", name, err)
		}
	}

	// One scheduler per deployment: the API process owns repeatable jobs
	if a.Mode == ModeServe {
		a.Scheduler = queue.NewScheduler(a.QueueManager, a.Logger)
	}
	return nil
}

// initServices initializes the business services in dependency order
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return err
	}

	if a.Mode == ModeWorker {
		emitter := notifications.NewHTTPEmitter(
			a.Config.Emitter.URL,
			common.ParseDuration(a.Config.Integration.Timeout, 10*time.Second),
			a.Logger,
		)
		a.NotificationService = notifications.NewRelayService(emitter, a.Logger)
	} else {
		a.NotificationService = notifications.NewService(
			a.StorageManager.NotificationStorage(),
			notifications.NewEmitter(a.Config.Emitter, a.EventService, a.Logger),
			a.Logger,
		)
	}
	a.Tracker = notifications.NewTracker(a.NotificationService, a.Logger)
	if a.Mode == ModeServe {
		a.QueueManager.SetNotifier(a.NotificationService)
	}

	a.Sessions = transport.NewRegistry()
	a.Runner = transport.NewRunner(
		transport.NewSSHDialer(a.Config.Transport, a.Logger),
		a.Sessions,
		transport.NewOptions(a.Config.Transport),
		a.Logger,
	)

	a.Inventory = oltsvc.NewInventory(a.StorageManager.OltStorage(), a.Config.Transport, a.Logger)
	a.OltService = oltsvc.NewService(
		a.Inventory,
		a.StorageManager.OnuStorage(),
		a.NotificationService,
		a.QueueManager,
		a.Logger,
	)

	a.Logger.Debug().Msg("Services initialized")
	return nil
}

// initWorkers binds the OLT workers to the dispatcher
func (a *App) initWorkers() error {
	a.Dispatcher = queue.NewDispatcher(a.QueueManager, queue.NewConfig(a.Config), a.Logger)

	return oltworkers.Register(a.Dispatcher, oltworkers.Deps{
		Runner:    a.Runner,
		Inventory: a.Inventory,
		Olts:      a.StorageManager.OltStorage(),
		Onus:      a.StorageManager.OnuStorage(),
		Tracker:   a.Tracker,
		Queues:    a.QueueManager,
		Config:    oltworkers.NewConfig(a.Config),
		Logger:    a.Logger,
	})
}

// initHandlers creates the HTTP handlers and the websocket event bridge
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Logger)
	a.EventSubscriber = handlers.NewEventSubscriber(a.WSHandler, a.EventService, a.Logger, &a.Config.WebSocket)
	a.NotificationHandler = handlers.NewNotificationHandler(
		a.NotificationService,
		notifications.NewLocalEmitter(a.EventService),
		a.Logger,
	)
	a.OltHandler = handlers.NewOltHandler(a.OltService, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.QueueManager, a.Sessions, a.Logger)
}

// Start launches the dispatcher and, in serve mode, the scheduler, the
// recurring unconfigured-ONU scan and the queue stats push
func (a *App) Start() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		if a.Config.Uncfg.Enabled {
			if _, err := a.OltService.ScheduleUncfgScan(a.ctx, a.Config.Uncfg.Schedule); err != nil {
				return fmt.Errorf("failed to schedule uncfg scan: %w", err)
			}
		}
	}

	if err := a.Dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	if a.WSHandler != nil {
		a.WSHandler.StartQueueStatsPublisher(
			a.ctx,
			a.EventService,
			a.QueueManager,
			common.ParseDuration(a.Config.WebSocket.StatsInterval, 0),
		)
	}

	a.Logger.Info().Str("mode", string(a.Mode)).Msg("Background processing started")
	return nil
}

// Close stops background processing and closes the stores.
// Running handlers finish before the stores close.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.QueueStore != nil {
		if err := a.QueueStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue store")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

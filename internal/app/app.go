package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/wacampaign/internal/api"
	"github.com/foxzi/wacampaign/internal/campaign"
	"github.com/foxzi/wacampaign/internal/config"
	"github.com/foxzi/wacampaign/internal/db"
	"github.com/foxzi/wacampaign/internal/gateway"
	"github.com/foxzi/wacampaign/internal/instance"
	"github.com/foxzi/wacampaign/internal/logging"
	"github.com/foxzi/wacampaign/internal/metrics"
	"github.com/foxzi/wacampaign/internal/notify"
	"github.com/foxzi/wacampaign/internal/outbox"
	"github.com/foxzi/wacampaign/internal/repository"
)

// eventBuffer is how many notifications the events endpoint keeps
const eventBuffer = 256

// App represents the wacampaign service
type App struct {
	config *config.Config
	log    *logging.Logger
	logger *slog.Logger

	db        *db.DB
	campaigns *repository.CampaignRepository
	instances *repository.InstanceRepository
	gateway   *gateway.Client
	outbox    *outbox.BoltStore
	events    *notify.Chan
	amqp      *notify.AMQP
	metrics   *metrics.Metrics
	collector *metrics.Collector

	dispatcher *campaign.Dispatcher
	reconciler *campaign.Reconciler
	manager    *instance.Manager
	scheduler  *instance.Scheduler
	apiServer  *api.Server
}

// New creates a new application instance. Stored instances are loaded into
// the manager before New returns.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{config: cfg}

	a.log = logging.New(cfg.Logging)
	a.logger = a.log.Logger

	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.config

	database, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = database

	if err := a.db.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.campaigns = repository.NewCampaignRepository(a.db)
	a.instances = repository.NewInstanceRepository(a.db)
	a.gateway = gateway.NewClient(cfg.Webhooks)

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)
	}

	if cfg.Dispatch.Mode == config.DispatchIntent {
		a.outbox, err = outbox.NewBoltStore(cfg.Dispatch.OutboxPath)
		if err != nil {
			return fmt.Errorf("failed to open outbox: %w", err)
		}
	}

	a.events = notify.NewChan(eventBuffer)
	notifiers := notify.Multi{notify.NewLogger(a.logger), a.events}
	if cfg.Events.AMQPURL != "" {
		a.amqp, err = notify.DialAMQP(cfg.Events, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to event broker: %w", err)
		}
		notifiers = append(notifiers, a.amqp)
	}

	opts := []campaign.Option{
		campaign.WithMode(cfg.Dispatch.Mode),
		campaign.WithNotifier(notifiers),
	}

	if a.metrics != nil {
		var pending metrics.OutboxCounter
		if a.outbox != nil {
			pending = a.outbox
		}
		a.collector = metrics.NewCollector(a.metrics, a.campaigns, a.instances, pending, 0, a.logger)
		opts = append(opts, campaign.WithRefresher(a.collector))
	}

	if a.outbox != nil {
		opts = append(opts, campaign.WithOutbox(a.outbox))
		a.reconciler = campaign.NewReconciler(a.outbox, a.campaigns, notifiers, campaign.ReconcilerConfig{
			Interval:  cfg.Dispatch.ReconcileInterval,
			Grace:     cfg.Dispatch.ReconcileGrace,
			Retention: cfg.Dispatch.OutboxRetention,
		}, a.logger)
	}

	a.dispatcher, err = campaign.NewDispatcher(a.gateway, a.campaigns, a.logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	if a.reconciler != nil {
		a.reconciler.SkipInFlight(a.dispatcher)
	}

	a.manager = instance.NewManager(a.gateway, a.instances, notifiers, a.logger)
	if err := a.manager.Load(ctx); err != nil {
		return fmt.Errorf("failed to load instances: %w", err)
	}
	a.scheduler = instance.NewScheduler(a.manager, cfg.Polling, a.logger)

	deps := api.Deps{
		Dispatcher: a.dispatcher,
		Campaigns:  a.campaigns,
		Instances:  a.manager,
		Events:     a.events,
		Metrics:    a.metrics,
	}
	// a nil *Reconciler must not become a non-nil interface
	if a.reconciler != nil {
		deps.Reconciler = a.reconciler
	}
	a.apiServer = api.NewServer(deps, cfg, a.logger)

	return nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting wacampaign",
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Driver,
		"dispatch_mode", a.dispatcher.Mode(),
		"metrics", a.metrics != nil,
		"amqp", a.amqp != nil,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}
	if a.reconciler != nil {
		a.reconciler.Start(ctx)
	}
	a.scheduler.Start(ctx)

	errCh := make(chan error, 1)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests first, then the background loops
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	a.scheduler.Stop()
	if a.reconciler != nil {
		a.reconciler.Stop()
	}
	if a.collector != nil {
		a.collector.Stop()
	}
	a.manager.Close()

	a.logger.Info("shutdown complete")
	a.close()
	return nil
}

// close releases storage, broker and log handles. Safe on a partly built App.
func (a *App) close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Error("event broker close error", "error", err)
		}
	}
	if a.outbox != nil {
		if err := a.outbox.Close(); err != nil {
			a.logger.Error("outbox close error", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close error", "error", err)
		}
	}
	if a.log != nil {
		a.log.Close()
	}
}

// Handler exposes the HTTP API, mostly for tests
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Dispatcher returns the campaign dispatcher
func (a *App) Dispatcher() *campaign.Dispatcher {
	return a.dispatcher
}

// Campaigns returns the campaign repository
func (a *App) Campaigns() *repository.CampaignRepository {
	return a.campaigns
}

// Instances returns the instance lifecycle manager
func (a *App) Instances() *instance.Manager {
	return a.manager
}

// Reconciler returns the intent reconciler, nil outside intent mode
func (a *App) Reconciler() *campaign.Reconciler {
	return a.reconciler
}

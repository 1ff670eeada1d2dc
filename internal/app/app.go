// Package app wires the local store, the remote store, the connection
// monitor, the sync service and the auto-sync scheduler into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/quyen-luc/prices-app/internal/config"
	"github.com/quyen-luc/prices-app/internal/healthrpc"
	"github.com/quyen-luc/prices-app/internal/identity"
	"github.com/quyen-luc/prices-app/internal/local"
	"github.com/quyen-luc/prices-app/internal/logging"
	"github.com/quyen-luc/prices-app/internal/monitor"
	"github.com/quyen-luc/prices-app/internal/remote/database"
	"github.com/quyen-luc/prices-app/internal/remote/repositories/repomanager"
	"github.com/quyen-luc/prices-app/internal/services"
)

// Options carries the interactive pieces the CLI supplies.
type Options struct {
	// Prompt reads the passphrase for a sealed remote password.
	Prompt func() ([]byte, error)
	// Logger overrides the logger built from the config.
	Logger logging.Logger
}

type App struct {
	config    *config.Config
	logger    logging.Logger
	logCloser io.Closer

	local    *local.Repositories
	remoteDB *database.Database
	manager  repomanager.RepositoryManager

	Sync      *services.SyncService
	Monitor   *monitor.Monitor
	Scheduler *services.Scheduler
	Progress  *services.Broadcaster

	schemaReady atomic.Bool
}

// NewApp opens both stores and builds the services. An unreachable remote
// store is not an error: the app starts disconnected and the monitor keeps
// trying.
func NewApp(ctx context.Context, c *config.Config, opts Options) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app := &App{config: c, logCloser: nopCloser{}}
	if opts.Logger != nil {
		app.logger = opts.Logger
	} else {
		l, closer := logging.New(c.Log)
		app.logger, app.logCloser = l, closer
	}

	repos, err := local.InitDatabase(ctx, c.LocalDBPath)
	if err != nil {
		_ = app.logCloser.Close()
		return nil, fmt.Errorf("local db init error: %w", err)
	}
	app.local = repos

	password, err := c.RemotePassword(opts.Prompt)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	remoteDB, err := database.Open(ctx, c.DatabaseConfig(password))
	if remoteDB == nil {
		_ = app.Close()
		return nil, fmt.Errorf("remote db init error: %w", err)
	}
	app.remoteDB = remoteDB
	if err != nil {
		app.logger.Warn(ctx, "remote store unreachable, starting offline", "error", err)
	}

	app.manager = repomanager.NewPostgresRepositoryManager()
	app.ensureRemoteSchema(ctx)

	nodeID := identity.NewProvider(c.IdentityFile, app.logger).NodeID(ctx)

	app.Progress = services.NewBroadcaster(64)
	app.Sync = services.NewSyncService(services.Params{
		Local:    repos.Products,
		Metadata: repos.Metadata,
		Remote:   app.manager.Products(remoteDB),
		Health:   remoteDB,
		NodeID:   nodeID,
		Notifier: services.Notifiers{services.LogNotifier{Log: app.logger}, app.Progress},
		Logger:   app.logger,
		Config:   c.ServiceConfig(),
	})

	prober := monitor.DNSProber{Host: c.Monitor.ProbeHost, Timeout: c.Monitor.PingTimeout}
	app.Monitor = monitor.New(remoteDB, prober, c.MonitorConfig(), app.logger)
	app.Scheduler = services.NewScheduler(app.Sync, app.Monitor, c.Sync.AutoSyncInterval, app.logger)
	app.Sync.OnAutoSyncChange(app.Scheduler.SetEnabled)

	return app, nil
}

func (app *App) Logger() logging.Logger {
	return app.logger
}

// ensureRemoteSchema applies the remote migrations once per process, the
// first time the pool is available.
func (app *App) ensureRemoteSchema(ctx context.Context) {
	if app.schemaReady.Load() {
		return
	}
	db := app.remoteDB.DB()
	if db == nil {
		return
	}
	if err := app.manager.RunMigrations(ctx, db); err != nil {
		app.logger.Error(ctx, "remote migrations failed", "error", err)
		return
	}
	app.schemaReady.Store(true)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHealthServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := healthrpc.NewServer(app.config.HealthAddr, app.logger)
	unsubscribe := app.Monitor.Subscribe(s.SetStatus)
	defer unsubscribe()
	s.SetStatus(app.Monitor.Status())

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "health server stopped", "error", err)
		cancelFunc()
	}
}

// Run starts the monitor and the scheduler and blocks until ctx is done or
// the process receives SIGINT, SIGTERM or SIGQUIT.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "node_id", app.Sync.NodeID())

	app.initSignalHandler(cancelFunc)

	enabled, err := app.Sync.AutoSyncEnabled(ctx)
	if err != nil {
		app.logger.Warn(ctx, "reading auto-sync flag failed", "error", err)
	}
	app.Scheduler.SetEnabled(enabled)

	connected := make(chan struct{}, 1)
	unsubscribe := app.Monitor.Subscribe(func(st monitor.Status) {
		if st.State == monitor.Connected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
		app.Scheduler.HandleConnectivity(st)
	})
	defer unsubscribe()

	app.Monitor.Start(ctx)
	defer app.Monitor.Stop()

	app.Scheduler.Start(ctx)
	defer app.Scheduler.Stop()

	var wg sync.WaitGroup

	if app.config.HealthAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startHealthServer(ctx, cancelFunc)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runInitialSync(ctx, connected)
	}()

	<-ctx.Done()
	wg.Wait()
	app.logger.Info(context.Background(), "Stopping app...")
	return nil
}

// runInitialSync waits for the remote store, applies its schema and pulls
// everything once on the first start of this store. A failed attempt is
// retried on the next Connected transition.
func (app *App) runInitialSync(ctx context.Context, connected <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-connected:
		}

		app.ensureRemoteSchema(ctx)
		res, ran, err := app.Sync.InitialSync(ctx)
		switch {
		case err != nil:
			app.logger.Warn(ctx, "initial sync failed", "error", err)
			continue
		case ran:
			app.logger.Info(ctx, "initial sync done", "downloaded", res.Downloaded)
		}
		return
	}
}

// Close releases the stores and the log file.
func (app *App) Close() error {
	var errs []error
	if app.Progress != nil {
		app.Progress.Close()
	}
	if app.remoteDB != nil {
		errs = append(errs, app.remoteDB.Close())
	}
	if app.local != nil {
		errs = append(errs, app.local.Close())
	}
	errs = append(errs, app.logCloser.Close())
	return errors.Join(errs...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

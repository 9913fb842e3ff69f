package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tracksync/internal/api"
	"tracksync/internal/config"
	"tracksync/internal/database"
	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/infrastructure/logging"
	"tracksync/internal/ipc"
	"tracksync/internal/network"
	"tracksync/internal/platform"
	"tracksync/internal/plugin"
	"tracksync/internal/recorder"
	"tracksync/internal/repository"
	"tracksync/internal/server"
	"tracksync/internal/settings"
	"tracksync/internal/sleep"
	"tracksync/internal/syncer"
	"tracksync/internal/types"
)

// Version is stamped on every timer this build records
var Version = "dev"

const (
	shutdownTimeout = 30 * time.Second
	healthTimeout   = 5 * time.Second
)

// App owns every long-lived component of the daemon
type App struct {
	cfg    *config.Config
	logger logging.Logger

	db       *database.SQLiteService
	store    *repository.SQLiteRepository
	settings *settings.Store
	platform platform.API

	bus        *ipc.Bus
	hub        *ipc.WebSocketHub
	watcher    *network.Watcher
	machine    *sleep.Machine
	inactivity *sleep.InactivityDetector
	recorder   *recorder.Recorder
	client     *api.Client
	scheduler  *syncer.Scheduler
	installer  *plugin.Installer
	server     *server.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds the component graph. A store that cannot be opened or migrated is fatal.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	return NewWithLogger(ctx, cfg, logger)
}

// NewWithLogger is New with a caller supplied logger
func NewWithLogger(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	a := &App{cfg: cfg, logger: logger}

	if !cfg.Database.IsInMemory() {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	a.db = database.NewSQLiteService(logger)
	if err := a.db.Connect(ctx, &cfg.Database); err != nil {
		return nil, err
	}
	if err := a.db.Migrate(ctx); err != nil {
		a.db.Close()
		if errors.Is(err, database.ErrMigrationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", database.ErrMigrationFailed, err)
	}
	a.store = repository.NewSQLiteRepository(a.db, logger)

	st, err := settings.Open(cfg.DataDir)
	if err != nil {
		a.db.Close()
		return nil, err
	}
	a.settings = st
	appSetting, err := st.AppSetting()
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.bus = ipc.NewBus(ipc.DefaultBufferSize, logger)
	a.hub = ipc.NewWebSocketHub(logger)
	a.bus.Register(a.hub)

	a.watcher = network.NewWatcher(
		network.NewHTTPProbe(cfg.ProbeURL(), cfg.Network.ProbeTimeout),
		cfg.Network.PollInterval, a.bus, logger)

	a.platform = platform.New()
	a.machine = sleep.NewMachine(a.bus, logger)
	a.machine.SetStrategy(a.strategyFor(appSetting))
	a.inactivity = sleep.NewInactivityDetector(a.platform, a.machine,
		a.inactivityLimit(appSetting), cfg.Sleep.PollInterval, logger)

	a.recorder = recorder.New(a.store, a.watcher, a.machine, recorder.Config{
		TickPeriod:     cfg.Recorder.TickPeriod,
		IntervalPeriod: cfg.Recorder.IntervalPeriod,
		Version:        Version,
		APIHost:        cfg.API.BaseURL,
	}, logger)
	a.recorder.SetPublisher(a.bus)
	a.recorder.SetWindowAPI(a.platform)
	a.recorder.SetIdleAPI(a.platform)

	var tokens api.TokenSource = api.UserTokenSource{Users: a.store}
	if cfg.API.Token != "" {
		tokens = api.StaticToken(cfg.API.Token)
	}
	a.client = api.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, tokens, logger)

	a.scheduler = syncer.NewScheduler(a.store, a.client, a.watcher, syncer.Config{
		Interval:         cfg.Sync.Interval,
		BatchSize:        cfg.Sync.BatchSize,
		RequestTimeout:   cfg.API.RequestTimeout,
		FailureThreshold: cfg.Sync.FailureThreshold,
	}, a.bus, logger)
	a.watcher.OnEstablished(a.scheduler.Trigger)

	a.installer = plugin.NewInstaller(a.store, cfg.Plugins.Dir, cfg.Plugins.DownloadTimeout, a.bus, logger)

	a.server = server.New(cfg.Server.Addr, server.Deps{
		DB:       a.db,
		Pending:  a.store,
		Timer:    a.recorder,
		Control:  a,
		Offline:  a.watcher.Offline,
		Failures: a.scheduler.ConsecutiveFailures,
		Events:   a.hub,
		Logger:   logger,
	})

	return a, nil
}

func (a *App) strategyFor(s settings.AppSetting) sleep.Strategy {
	switch a.cfg.Sleep.Strategy {
	case config.SleepAlways:
		return sleep.AlwaysRecord{}
	case config.SleepControlled:
		return sleep.NewControlled(a.machine)
	default:
		return sleep.StrategyFor(a.machine, s.TrackOnPcSleep)
	}
}

func (a *App) inactivityLimit(s settings.AppSetting) time.Duration {
	if a.cfg.Sleep.InactivityLimit > 0 {
		return a.cfg.Sleep.InactivityLimit
	}
	return s.InactivityLimit()
}

// Start closes timers left open by a crash, prunes old rows and starts every loop
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	if err := a.ensureHealthy(ctx); err != nil {
		return err
	}
	if _, err := a.recorder.Resume(ctx); err != nil {
		logging.LogError(a.logger, err, "recover_open_timer", nil)
	}
	a.prune(ctx)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.bus.Run(runCtx)
	}()

	a.watcher.Start(runCtx)
	a.inactivity.Start(runCtx)
	a.recorder.Start(runCtx)
	a.scheduler.Start(runCtx)

	if err := a.server.Start(); err != nil {
		a.stopLoops()
		return fmt.Errorf("failed to start local server: %w", err)
	}

	if s, err := a.settings.AppSetting(); err == nil && s.TimerStarted {
		a.logger.Info("Timer was running at last shutdown, starting a new one")
		if _, err := a.startTimerLocked(ctx, nil); err != nil {
			a.logger.Warn("Failed to restart timer", "error", err)
		}
	}

	a.started = true
	a.logger.Info("Application started", "environment", a.cfg.Environment, "data_dir", a.cfg.DataDir)
	return nil
}

// ensureHealthy checks the store and reconnects once on a retryable failure
func (a *App) ensureHealthy(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	err := a.db.Health(healthCtx)
	if err == nil {
		return nil
	}
	if !repoerrors.IsRetryable(err) {
		return repoerrors.NewRepositoryErrorWithContext("startup", err, repoerrors.ClassifyError(err),
			map[string]string{"operation": "health_check"})
	}
	return a.reconnectDatabase(ctx)
}

func (a *App) reconnectDatabase(ctx context.Context) error {
	a.logger.Warn("Database connection lost, attempting to reconnect")

	reconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.db.Connect(reconnectCtx, &a.cfg.Database); err != nil {
		return repoerrors.NewRepositoryErrorWithContext("startup", err, repoerrors.ErrCodeConnection,
			map[string]string{"operation": "reconnect", "db_path": a.cfg.Database.Path})
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.db.Migrate(migrateCtx); err != nil {
		return repoerrors.NewRepositoryErrorWithContext("startup", err, repoerrors.ErrCodeConnection,
			map[string]string{"operation": "migrate", "db_path": a.cfg.Database.Path})
	}

	a.logger.Info("Database reconnected")
	return nil
}

// prune drops synced timers older than the retention window
func (a *App) prune(ctx context.Context) {
	retention := a.cfg.Database.Retention()
	if retention <= 0 {
		return
	}
	n, err := a.store.PruneTimers(ctx, time.Now().Add(-retention))
	if err != nil {
		logging.LogError(a.logger, err, "prune_timers", nil)
		return
	}
	if n > 0 {
		a.logger.Info("Pruned old timers", "count", n, "retention_days", int(retention.Hours()/24))
	}
}

// Shutdown stops a running timer, stops every loop and closes the stores
func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	// handlers may need a.mu, so the server goes first
	if started {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recorder.IsRunning() {
		if _, err := a.recorder.StopTimer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop timer: %w", err))
		}
	}
	if a.started {
		a.stopLoops()
		a.started = false
	}

	if err := a.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("Application shutdown completed")
	return errors.Join(errs...)
}

func (a *App) stopLoops() {
	a.recorder.Stop()
	a.scheduler.Stop()
	a.inactivity.Stop()
	a.watcher.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.hub.Close()
}

// Close releases the stores without touching a running timer.
// Used by one-shot commands that never called Start.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.settings.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close settings: %w", err))
	}
	if err := a.closeDatabaseConnection(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.settings != nil {
		a.settings.Close()
	}
	a.db.Close()
}

// closeDatabaseConnection gives up waiting once ctx is done
func (a *App) closeDatabaseConnection(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return repoerrors.NewRepositoryErrorWithContext("shutdown", err, repoerrors.ClassifyError(err),
				map[string]string{"operation": "close_connection"})
		}
		return nil
	case <-ctx.Done():
		a.logger.Warn("Database close timed out")
		return repoerrors.NewRepositoryError("shutdown", ctx.Err(), repoerrors.ErrCodeTimeout)
	}
}

// StartTimer starts recording against the saved project. A non-nil project
// replaces the saved one first.
func (a *App) StartTimer(ctx context.Context, project *settings.Project) (*types.Timer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startTimerLocked(ctx, project)
}

func (a *App) startTimerLocked(ctx context.Context, project *settings.Project) (*types.Timer, error) {
	if project != nil {
		if err := a.settings.SaveProject(*project); err != nil {
			return nil, err
		}
	}
	p, err := a.settings.Project()
	if err != nil {
		return nil, err
	}

	timer, err := a.recorder.StartTimer(ctx, recorder.StartInput{
		EmployeeID:            a.employeeID(ctx),
		ProjectID:             p.ProjectID,
		TaskID:                p.TaskID,
		OrganizationTeamID:    p.OrganizationTeamID,
		OrganizationContactID: p.OrganizationContactID,
		Description:           p.Note,
	})
	if err != nil {
		return nil, err
	}
	a.markTimerStarted(true)
	return timer, nil
}

// StopTimer stops the running timer and asks the scheduler to sync it
func (a *App) StopTimer(ctx context.Context) (*types.Timer, error) {
	timer, err := a.recorder.StopTimer(ctx)
	if err != nil {
		return nil, err
	}
	a.markTimerStarted(false)
	a.scheduler.Trigger()
	return timer, nil
}

func (a *App) markTimerStarted(on bool) {
	if _, err := a.settings.UpdateAppSetting(func(s *settings.AppSetting) { s.TimerStarted = on }); err != nil {
		a.logger.Warn("Failed to save timer state", "error", err)
	}
}

// employeeID reads the id out of the cached user's employee record
func (a *App) employeeID(ctx context.Context) string {
	user, err := a.store.RetrieveUser(ctx)
	if err != nil || user == nil || len(user.Employee) == 0 {
		return ""
	}
	var employee struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(user.Employee, &employee); err != nil {
		a.logger.Debug("Cached employee record is not an object", "error", err)
		return ""
	}
	return employee.ID
}

// UpdateSettings saves s and applies the sleep strategy and inactivity limit immediately
func (a *App) UpdateSettings(s settings.AppSetting) error {
	if err := a.settings.SaveAppSetting(s); err != nil {
		return err
	}
	a.machine.SetStrategy(a.strategyFor(s))
	a.inactivity.SetLimit(a.inactivityLimit(s))
	return nil
}

// Sleep and Wake are fed by the desktop shell's power events
func (a *App) Sleep() { a.machine.Sleep() }
func (a *App) Wake()  { a.machine.Wake() }

// RegisterSink adds a UI sink to the event bus
func (a *App) RegisterSink(s ipc.Sink) { a.bus.Register(s) }

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) Logger() logging.Logger { return a.logger }
func (a *App) Database() *database.SQLiteService { return a.db }
func (a *App) Store() repository.Store { return a.store }
func (a *App) Settings() *settings.Store { return a.settings }
func (a *App) Recorder() *recorder.Recorder { return a.recorder }
func (a *App) Scheduler() *syncer.Scheduler { return a.scheduler }
func (a *App) Installer() *plugin.Installer { return a.installer }
func (a *App) Watcher() *network.Watcher { return a.watcher }

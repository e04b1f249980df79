package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bondkeeper/internal/alerting"
	"bondkeeper/internal/chain"
	"bondkeeper/internal/config"
	"bondkeeper/internal/dedup"
	"bondkeeper/internal/logging"
	"bondkeeper/internal/scheduler"
	"bondkeeper/internal/server"
	"bondkeeper/internal/service"
	"bondkeeper/internal/storage"
	"bondkeeper/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newChain() (*chain.Client, error) {
	return chain.New(chain.Options{
		RPCURL:          a.Config.Chain.RPCURL,
		ChainID:         a.Config.Chain.ChainID,
		PrivateKey:      a.Config.Chain.PrivateKey,
		ContractAddress: a.Config.Chain.ContractAddress,
		RequestTimeout:  a.Config.Chain.RequestTimeout,
		ConfirmTimeout:  a.Config.Chain.ConfirmTimeout,
		PollInterval:    a.Config.Chain.PollInterval,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting.Discord
	if cfg.WebhookURL == "" {
		return nil
	}
	return alerting.NewDiscordNotifier(cfg.WebhookURL, cfg.Footer, version.UserAgent(), cfg.Timeout, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openDedup() (*dedup.Deduplicator, error) {
	cfg := a.Config.Alerting.Dedup
	if !cfg.Enabled {
		return nil, nil
	}
	d, err := dedup.New(cfg.RedisURL, cfg.Password, cfg.TTL, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect dedup redis: %w", err)
	}
	return d, nil
}

// runtime bundles the wired dependencies shared by the pipeline commands.
type runtime struct {
	bond       *chain.Client
	store      *storage.Store
	dispatcher *alerting.Dispatcher
	svc        *service.Service
	closers    []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) newRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}

	bond, err := a.newChain()
	if err != nil {
		return nil, err
	}
	rt.bond = bond
	rt.closers = append(rt.closers, bond.Close)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		rt.store = store
		rt.closers = append(rt.closers, closeStore)
	}

	var opts []alerting.DispatcherOption
	d, err := a.openDedup()
	if err != nil {
		rt.Close()
		return nil, err
	}
	if d != nil {
		opts = append(opts, alerting.WithDeduplicator(d))
		rt.closers = append(rt.closers, func() { _ = d.Close() })
	}
	if store != nil {
		opts = append(opts, alerting.WithAuditor(store))
	}

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting.discord.webhook_url not configured; notifications disabled")
	}
	rt.dispatcher = alerting.NewDispatcher(notifier, a.Logger, opts...)

	svcOpts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var (
		snapshotStore storage.SnapshotStore
		runStore      storage.RunStore
	)
	if store != nil {
		snapshotStore = store
		runStore = store
	}
	rt.svc = service.New(svcOpts, service.CatalogFromConfig(a.Config), bond, rt.dispatcher, snapshotStore, runStore, a.Logger)
	return rt, nil
}

// Run executes the long-running keeper process.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	snapshotSched, err := scheduler.New(scheduler.Options{
		Name:       service.PipelineSnapshot,
		Cron:       a.Config.Scheduler.Cron,
		Location:   a.Config.Location(),
		RunOnStart: a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return snapshotSched.Run(gctx, func(ctx context.Context, _ time.Time) error {
			res := rt.svc.RecordSnapshot(ctx)
			if res.Reason == service.ReasonError {
				return res.Err
			}
			return nil
		})
	})

	if a.Config.Scheduler.MonitorCron != "" {
		monitorSched, err := scheduler.New(scheduler.Options{
			Name:     service.PipelineMonitor,
			Cron:     a.Config.Scheduler.MonitorCron,
			Location: a.Config.Location(),
		}, a.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return monitorSched.Run(gctx, func(ctx context.Context, _ time.Time) error {
				res := rt.svc.Monitor(ctx)
				if !res.Success && res.Err != nil {
					return res.Err
				}
				return nil
			})
		})
	}

	if a.Config.HTTP.Addr != "" {
		checks := map[string]server.ReadyCheck{
			"chain": func(ctx context.Context) error {
				_, err := rt.bond.BlockNumber(ctx)
				return err
			},
		}
		if rt.store != nil {
			checks["database"] = rt.store.Ping
		}
		srv := server.New(a.Config.HTTP.Addr, checks, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if rt.store != nil && a.Config.Database.AlertRetention > 0 {
		retention := a.Config.Database.AlertRetention
		g.Go(func() error { return pruneAlertsLoop(gctx, rt.store, retention, a.Logger) })
	}

	if a.Config.Scheduler.Heartbeat > 0 {
		g.Go(func() error { return a.heartbeat(gctx, a.Config.Scheduler.Heartbeat) })
	}

	a.Logger.Info().
		Str("keeper", rt.bond.KeeperAddress().Hex()).
		Str("contract", rt.bond.ContractAddress().Hex()).
		Str("cron", a.Config.Scheduler.Cron).
		Str("monitor_cron", a.Config.Scheduler.MonitorCron).
		Bool("notifications", rt.dispatcher.Enabled()).
		Msg("keeper started")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("keeper terminated with error")
		return err
	}

	a.Logger.Info().Msg("keeper stopped")
	return nil
}

func (a *App) heartbeat(ctx context.Context, every time.Duration) error {
	started := time.Now()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Logger.Info().Int64("uptime_minutes", int64(time.Since(started).Minutes())).Msg("keeper alive")
		}
	}
}

// ExportOptions hold parameters for exporting stored snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	XLSXPath  string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Runs   bool
	Alerts bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	FromBlock uint64
	// ToBlock zero means the current head.
	ToBlock   uint64
	ChunkSize uint64
	DryRun    bool
}

// Package app initializes and holds the long-lived services of a restock
// run, acting as a dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/api"
	"github.com/JakeFAU/restockwatch/internal/arbiter"
	"github.com/JakeFAU/restockwatch/internal/checker"
	"github.com/JakeFAU/restockwatch/internal/clock/system"
	"github.com/JakeFAU/restockwatch/internal/config"
	"github.com/JakeFAU/restockwatch/internal/executor"
	collyfetcher "github.com/JakeFAU/restockwatch/internal/fetcher/colly"
	"github.com/JakeFAU/restockwatch/internal/fetcher/headless"
	"github.com/JakeFAU/restockwatch/internal/hash/blake2s"
	"github.com/JakeFAU/restockwatch/internal/id/uuid"
	"github.com/JakeFAU/restockwatch/internal/notify"
	"github.com/JakeFAU/restockwatch/internal/notify/line"
	pubsubnotify "github.com/JakeFAU/restockwatch/internal/notify/pubsub"
	"github.com/JakeFAU/restockwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/restockwatch/internal/stock"
	"github.com/JakeFAU/restockwatch/internal/store"
	"github.com/JakeFAU/restockwatch/internal/store/postgres"
	"github.com/JakeFAU/restockwatch/internal/store/sqlite"
	"github.com/JakeFAU/restockwatch/internal/targets"
	"github.com/JakeFAU/restockwatch/internal/watch"
)

const lightTableSuffix = "_light"

// App holds the shared services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry   *targets.Registry
	state      stock.StateStore
	lightState stock.StateStore
	validators *store.ValidatorCache
	queue      *store.EscalationQueue
	notifier   stock.Notifier
	plain      stock.Fetcher
	renderer   stock.Fetcher

	clock  stock.Clock
	ids    stock.IDGenerator
	hasher stock.Hasher

	closers []func() error
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	notifier  stock.Notifier
	clock     stock.Clock
}

// WithTransport routes plain fetches through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithNotifier replaces the configured notification backend.
func WithNotifier(n stock.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock replaces the system clock.
func WithClock(c stock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates an App from cfg. It fails fast when the target list, a state
// backend or the notifier cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		validators: store.NewValidatorCache(cfg.Paths.Headers, logger),
		queue:      store.NewEscalationQueue(cfg.Paths.Queue, logger),
		clock:      system.New(),
		ids:        uuid.New(),
		hasher:     blake2s.New(),
	}
	if o.clock != nil {
		a.clock = o.clock
	}
	logger.Info("initializing services",
		zap.String("targets", cfg.Paths.Targets),
		zap.String("store", cfg.Store.Backend),
		zap.String("notify", cfg.Notify.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	reg, err := targets.Load(cfg.Paths.Targets)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	a.registry = reg

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if o.notifier != nil {
		a.notifier = o.notifier
	} else if err := a.openNotifier(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.plain = collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		RespectRobots:  cfg.HTTP.RespectRobots,
		Timeout:        cfg.HTTP.Timeout,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		Transport:      o.transport,
	})

	if cfg.Headless.Enabled {
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			AcceptLanguage:    cfg.HTTP.AcceptLanguage,
			NavigationTimeout: cfg.Headless.NavTimeout,
		}, ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Headless.DomainQPS}))
		if err != nil {
			logger.Warn("headless renderer init failed; confirm runs use the plain fetcher", zap.Error(err))
		} else {
			a.renderer = renderer
			a.closers = append(a.closers, func() error { renderer.Close(); return nil })
		}
	}

	logger.Info("services initialized", zap.Int("targets", reg.Len()))
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StoreSQLite:
		primary, err := sqlite.Open(ctx, a.cfg.Store.SQLitePath, sqlite.DefaultTable)
		if err != nil {
			return fmt.Errorf("open sqlite state: %w", err)
		}
		a.closers = append(a.closers, primary.Close)
		light, err := sqlite.Open(ctx, a.cfg.Store.SQLitePath, sqlite.DefaultTable+lightTableSuffix)
		if err != nil {
			return fmt.Errorf("open sqlite light state: %w", err)
		}
		a.closers = append(a.closers, light.Close)
		a.state, a.lightState = primary, light
	case config.StorePostgres:
		table := a.cfg.Store.PostgresTable
		if table == "" {
			table = postgres.DefaultTable
		}
		primary, err := postgres.NewStateStore(ctx, postgres.Config{DSN: a.cfg.Store.PostgresDSN, Table: table})
		if err != nil {
			return fmt.Errorf("open postgres state: %w", err)
		}
		a.closers = append(a.closers, func() error { primary.Close(); return nil })
		light, err := postgres.NewStateStore(ctx, postgres.Config{DSN: a.cfg.Store.PostgresDSN, Table: table + lightTableSuffix})
		if err != nil {
			return fmt.Errorf("open postgres light state: %w", err)
		}
		a.closers = append(a.closers, func() error { light.Close(); return nil })
		a.state, a.lightState = primary, light
	default:
		a.state = store.NewJSONStateStore(a.cfg.Paths.State, a.logger)
		a.lightState = store.NewJSONStateStore(a.cfg.Paths.LightState, a.logger)
	}
	return nil
}

func (a *App) openNotifier(ctx context.Context) error {
	switch a.cfg.Notify.Backend {
	case config.NotifyPubSub:
		n, err := pubsubnotify.New(ctx, a.cfg.Notify.PubSub.ProjectID, a.cfg.Notify.PubSub.TopicID)
		if err != nil {
			return fmt.Errorf("init pubsub notifier: %w", err)
		}
		a.closers = append(a.closers, n.Close)
		a.notifier = n
	case config.NotifyLog:
		a.notifier = notify.NewLogNotifier(a.logger)
	default:
		a.notifier = line.New(line.Config{
			ChannelAccessToken: a.cfg.Notify.LINE.ChannelAccessToken,
			To:                 a.cfg.Notify.LINE.To,
			Endpoint:           a.cfg.Notify.LINE.Endpoint,
			Timeout:            a.cfg.Notify.LINE.Timeout,
			UserAgent:          a.cfg.HTTP.UserAgent,
		})
	}
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry returns the target registry loaded at startup.
func (a *App) Registry() *targets.Registry {
	return a.registry
}

// Checker assembles a checker for mode.
func (a *App) Checker(mode checker.Mode) (*checker.Checker, error) {
	cfg := checker.Config{Mode: mode, Engine: checker.EngineCSS, Prefix: a.cfg.Notify.Prefix}
	deps := checker.Deps{
		Fetcher:  a.plain,
		State:    a.state,
		Notifier: a.notifier,
		Hasher:   a.hasher,
		Clock:    a.clock,
		IDs:      a.ids,
		Logger:   a.logger,
	}
	notifyArbiter := arbiter.New(arbiter.ModeNotify,
		arbiter.WithCooldown(a.cfg.Check.Cooldown),
		arbiter.WithClock(a.clock),
	)

	switch mode {
	case checker.ModeCheck:
		deps.Executor = a.executor(a.cfg.Check.Concurrency, executor.Options{
			Jitter:  a.cfg.Check.Jitter,
			Shuffle: a.cfg.Check.Shuffle,
		})
		deps.Validators = a.validators
		deps.Arbiter = notifyArbiter
	case checker.ModeLight:
		if a.cfg.Light.Detection == config.DetectionKeywords {
			cfg.Engine = checker.EngineKeywords
		}
		deps.Executor = a.executor(a.cfg.Check.Concurrency, executor.Options{
			Jitter:  a.cfg.Light.Jitter,
			Shuffle: true,
		})
		deps.State = a.lightState
		deps.Validators = a.validators
		deps.Queue = a.queue
		deps.Arbiter = arbiter.New(arbiter.ModeEscalate,
			arbiter.WithClock(a.clock),
			arbiter.WithEscalateOnChange(a.cfg.Light.EscalateOnChange),
		)
	case checker.ModeConfirm:
		parallel := a.cfg.Check.Concurrency
		if a.renderer != nil {
			deps.Fetcher = a.renderer
			parallel = a.cfg.Headless.MaxParallel
		}
		deps.Executor = a.executor(parallel, executor.Options{})
		deps.Queue = a.queue
		deps.Arbiter = notifyArbiter
	default:
		return nil, fmt.Errorf("unknown run mode %q", mode)
	}
	return checker.New(cfg, deps)
}

func (a *App) executor(concurrency int, opts executor.Options) stock.Executor {
	if concurrency <= 1 {
		return executor.NewSequential(opts)
	}
	return executor.NewPool(concurrency, opts)
}

// RunFunc adapts mode into a watch.RunFunc.
func (a *App) RunFunc(mode checker.Mode) watch.RunFunc {
	return func(ctx context.Context, ts []stock.Target) (checker.Summary, error) {
		c, err := a.Checker(mode)
		if err != nil {
			return checker.Summary{Mode: mode}, err
		}
		return c.Run(ctx, ts)
	}
}

// Run executes one pass of mode over the startup registry.
func (a *App) Run(ctx context.Context, mode checker.Mode) (checker.Summary, error) {
	return a.RunFunc(mode)(ctx, a.registry.All())
}

// Watch runs the scheduler, the target reloader and, when enabled, the HTTP
// server until ctx is canceled.
func (a *App) Watch(ctx context.Context) error {
	var schedules []watch.Schedule
	switch a.cfg.Watch.Mode {
	case config.WatchLight:
		schedules = []watch.Schedule{
			{Mode: checker.ModeLight, Spec: a.cfg.Watch.Schedule},
			{Mode: checker.ModeConfirm, Spec: a.cfg.Watch.ConfirmSchedule},
		}
	default:
		schedules = []watch.Schedule{{Mode: checker.ModeCheck, Spec: a.cfg.Watch.Schedule}}
	}

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	runs := map[checker.Mode]watch.RunFunc{
		checker.ModeCheck:   a.RunFunc(checker.ModeCheck),
		checker.ModeLight:   a.RunFunc(checker.ModeLight),
		checker.ModeConfirm: a.RunFunc(checker.ModeConfirm),
	}
	svc, err := watch.New(watch.Config{
		Schedules:   schedules,
		TargetsPath: a.cfg.Paths.Targets,
		Server:      srv,
	}, a.registry, runs, a.logger.Named("watch"))
	if err != nil {
		return fmt.Errorf("init watch: %w", err)
	}
	if srv != nil {
		srv.Handler = api.NewServer(a.apiDeps(svc)).Handler()
	}
	return svc.Run(ctx)
}

func (a *App) apiDeps(svc *watch.Service) api.Deps {
	return api.Deps{
		State:      a.state,
		LightState: a.lightState,
		Queue:      a.queue,
		Targets:    svc.Targets,
		Runner:     svc,
		Ready:      svc.Ready,
		Logger:     a.logger.Named("api"),
		APIKey:     a.cfg.Server.APIKey,
	}
}

// Close releases backends in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}

// Package app is the client composition root: it builds every service once,
// wires their hooks together, and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/shopspring/decimal"

	"wealthflow/internal/api"
	"wealthflow/internal/auth"
	"wealthflow/internal/backend"
	"wealthflow/internal/cache"
	"wealthflow/internal/config"
	"wealthflow/internal/connectivity"
	"wealthflow/internal/gateway"
	"wealthflow/internal/log"
	"wealthflow/internal/notify"
	"wealthflow/internal/offline"
	"wealthflow/internal/realtime"
	"wealthflow/internal/state"
	"wealthflow/internal/storage"
)

// App holds the wired client services
type App struct {
	Config *config.Config
	Logger *log.Logger

	KV        storage.KV
	Tokens    *auth.Store
	Monitor   *connectivity.Monitor
	Prober    *connectivity.Prober
	Caches    *cache.Manager
	Transport *gateway.Transport
	Gateway   *gateway.Gateway
	Queue     *offline.Queue
	API       *api.Client
	State     *state.Store
	Notify    *notify.Engine
	Scheduler *notify.Scheduler
	Channel   *realtime.Channel

	desktop    notify.Desktop
	sounder    notify.Sounder
	httpClient *http.Client
	bell       io.Writer

	mu       sync.Mutex
	runCtx   context.Context
	started  bool
	cleanups []func() error
}

// Option customizes how New builds the app
type Option func(*App)

// WithKV supplies the local store instead of building one from config
func WithKV(kv storage.KV) Option {
	return func(a *App) { a.KV = kv }
}

// WithHTTPClient replaces the REST transport's client
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.httpClient = c }
}

func WithDesktop(d notify.Desktop) Option {
	return func(a *App) { a.desktop = d }
}

func WithSounder(s notify.Sounder) Option {
	return func(a *App) { a.sounder = s }
}

// New builds and wires every client service. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app requires a config")
	}
	a := &App{
		Config: cfg,
		Logger: log.OrNop(logger).WithComponent(log.ComponentApp),
		bell:   os.Stderr,
	}
	for _, opt := range opts {
		opt(a)
	}
	logger = a.Logger

	if a.KV == nil {
		bcfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return nil, err
		}
		store, err := backend.NewFactory(logger).CreateStore(ctx, bcfg)
		if err != nil {
			return nil, err
		}
		a.KV = store.KV
		a.cleanups = append(a.cleanups, store.Cleanup)
	}

	a.Tokens = auth.NewStore(a.KV, cfg.APIToken, logger)
	a.Monitor = connectivity.NewMonitor(true, logger)
	a.Prober = connectivity.NewProber(cfg.APIBaseURL, cfg.HealthInterval, a.Monitor, logger)

	responses := cache.NewLRUCache[[]byte](cfg.CacheMaxItems, cfg.CacheTTL)
	a.Caches = cache.NewManager(logger)
	a.Caches.Register(responses)

	a.Transport = gateway.NewTransport(gateway.TransportConfig{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.RequestTimeout,
		Client:  a.httpClient,
		Tokens:  a.Tokens,
	})
	a.Gateway = gateway.New(a.Transport,
		gateway.WithCacheStore(responses),
		gateway.WithConnectivity(a.Monitor),
		gateway.WithDefaultRetry(gateway.RetryPolicy{MaxRetries: cfg.RetryAttempts, Delay: cfg.RetryDelay}),
		gateway.WithLogger(logger))

	queue, err := offline.New(ctx, a.KV, a.Gateway.Replayer(),
		offline.WithMaxAttempts(cfg.QueueMaxAttempts),
		offline.WithDrainDelay(cfg.QueueDrainDelay),
		offline.WithConnectivity(a.Monitor),
		offline.WithLogger(logger))
	if err != nil {
		a.cleanup()
		return nil, err
	}
	a.Queue = queue
	a.Gateway.SetOfflineQueue(queue)

	a.API = api.New(a.Gateway, a.Transport, logger)

	a.State, err = state.New(ctx, a.KV, state.WithSource(a.API.Source()), state.WithLogger(logger))
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to restore state: %w", err)
	}

	if err := a.buildNotify(ctx); err != nil {
		a.cleanup()
		return nil, err
	}

	a.Channel = realtime.NewChannel(realtime.ChannelConfig{
		URL:           cfg.WSURL,
		Tokens:        a.Tokens,
		MaxReconnects: cfg.ReconnectAttempts,
		BaseDelay:     cfg.ReconnectBase,
		MaxDelay:      cfg.ReconnectMax,
		Logger:        logger,
		OnState: func(s realtime.ConnState) {
			logger.Debug("Realtime state changed", "state", s.String())
		},
	}, realtime.NewRouter(a.eventHandlers(), logger))

	a.Gateway.OnUnauthorized(a.signOut)
	return a, nil
}

func (a *App) buildNotify(ctx context.Context) error {
	cfg := a.Config
	low, err := decimal.NewFromString(cfg.LowBalanceThreshold)
	if err != nil {
		return fmt.Errorf("invalid low balance threshold %q: %w", cfg.LowBalanceThreshold, err)
	}
	thresholds, err := notify.NewThresholds(ctx, a.KV, low, a.Logger)
	if err != nil {
		return err
	}

	if a.desktop == nil {
		a.desktop = notify.NewDesktopNotifier()
	}
	if a.sounder == nil {
		a.sounder = notify.NewBellSounder(a.bell)
	}

	a.Notify, err = notify.NewEngine(ctx, a.State, a.KV,
		notify.WithRemote(a.API.Notifications),
		notify.WithDesktop(a.desktop),
		notify.WithToaster(notify.NewStoreToaster(a.State, 0)),
		notify.WithSounder(a.sounder),
		notify.WithPusher(a.API),
		notify.WithBillSource(a.API.Dashboard),
		notify.WithThresholds(thresholds),
		notify.WithLogger(a.Logger))
	if err != nil {
		return err
	}

	a.Scheduler = notify.NewScheduler(a.Notify, notify.SchedulerConfig{
		PollInterval:  cfg.NotificationPollInterval,
		CheckInterval: cfg.NotificationCheckInterval,
	}, a.Logger)
	return nil
}

// signOut runs when the server rejects the token
func (a *App) signOut(ctx context.Context) {
	a.Tokens.Invalidate(ctx)
	a.State.SetUser(nil)
	a.State.AddError("Your session has expired. Please sign in again.", "")
	a.Logger.WarnContext(ctx, "Session rejected by server; token cleared")
}

// UpdateSettings saves notification settings and moves the daily summary
func (a *App) UpdateSettings(ctx context.Context, s notify.Settings) error {
	if err := a.Notify.UpdateSettings(ctx, s); err != nil {
		return err
	}
	if a.Scheduler.IsRunning() {
		return a.Scheduler.Reschedule(s.ScheduleTime)
	}
	return nil
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}

func (a *App) cleanup() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanups = nil
	return errors.Join(errs...)
}

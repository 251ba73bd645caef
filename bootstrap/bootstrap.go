// Package bootstrap wires all dependencies and starts the gateway.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/modelgate/adapters/clock"
	gatehttp "github.com/artpar/modelgate/adapters/http"
	"github.com/artpar/modelgate/adapters/idgen"
	"github.com/artpar/modelgate/adapters/memory"
	"github.com/artpar/modelgate/adapters/metrics"
	"github.com/artpar/modelgate/adapters/openrouter"
	"github.com/artpar/modelgate/adapters/sqlite"
	"github.com/artpar/modelgate/app"
	"github.com/artpar/modelgate/config"
	"github.com/artpar/modelgate/domain/admission"
	"github.com/artpar/modelgate/domain/budget"
	"github.com/artpar/modelgate/domain/cache"
	"github.com/artpar/modelgate/ports"
)

// App represents the running gateway.
type App struct {
	Logger     zerolog.Logger
	Holder     *config.Holder // nil when configured from environment only
	DB         *sqlite.DB     // nil with the memory driver
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	catalog   *app.CatalogService
	governor  *app.GovernorService
	admission *app.AdmissionService
	cache     *app.CacheService
	dispatch  *app.DispatchService

	// Adapters (for cleanup)
	recorder *LedgerRecorder
	upstream ports.CompletionClient

	// Background loops
	refreshInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// New creates and initializes the gateway. The config file is optional;
// without one, configuration comes from MODELGATE_* environment variables.
func New(configPath string) (*App, error) {
	var (
		holder *config.Holder
		cfg    *config.Config
		err    error
	)

	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			holder, err = config.NewHolder(configPath, bootLogger)
			if err != nil {
				return nil, err
			}
			cfg = holder.Get()
		}
	}
	if cfg == nil {
		cfg, err = config.LoadFromEnv()
		if err != nil {
			return nil, err
		}
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing modelgate")

	a := &App{
		Logger:          logger,
		Holder:          holder,
		Metrics:         metrics.New(),
		refreshInterval: cfg.Provider.RefreshInterval,
		stopCh:          make(chan struct{}),
	}

	if err := a.initServices(cfg); err != nil {
		return nil, err
	}
	a.initHTTPServer(cfg)
	a.wireReload()

	return a, nil
}

func (a *App) initServices(cfg *config.Config) error {
	clk := clock.Real{}
	logger := a.Logger

	// Storage: sqlite for durability, memory for throwaway deployments.
	// Admission windows are always in-process; they describe this
	// instance's recent traffic and expire within minutes.
	var (
		ledgerStore  ports.LedgerStore
		cacheStore   ports.CacheStore
		catalogStore ports.CatalogStore
	)
	switch cfg.Database.Driver {
	case "memory":
		ledgerStore = memory.NewLedgerStore()
		cacheStore = memory.NewCacheStore(cfg.Cache.MaxEntries)
		catalogStore = memory.NewCatalogStore()
		logger.Info().Msg("using in-memory storage")
	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.DB = db
		ledgerStore = sqlite.NewLedgerStore(db)
		cacheStore = sqlite.NewCacheStore(db, cfg.Cache.MaxEntries)
		catalogStore = sqlite.NewCatalogStore(db)
		logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
	}

	a.upstream = openrouter.NewClient(openrouter.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
		Referer: cfg.Provider.Referer,
		Title:   cfg.Provider.Title,
	})

	a.recorder = NewLedgerRecorder(ledgerStore, cfg.Ledger.BatchSize, cfg.Ledger.FlushInterval)

	a.catalog = app.NewCatalogService(app.CatalogDeps{
		Store:    catalogStore,
		Provider: a.upstream,
		Ledger:   ledgerStore,
		Clock:    clk,
	}, app.CatalogConfig{Overlays: overlaysFrom(cfg.Models)}, logger)

	selector := app.NewSelectorService(a.catalog, logger)

	a.governor = app.NewGovernorService(app.GovernorDeps{
		Ledger:  ledgerStore,
		Clock:   clk,
		Metrics: a.Metrics,
	}, governorConfigFrom(cfg), logger)

	a.admission = app.NewAdmissionService(app.AdmissionDeps{
		Windows: memory.NewWindowStore(),
		Clock:   clk,
		Metrics: a.Metrics,
	}, admissionConfigFrom(cfg), logger)

	a.cache = app.NewCacheService(app.CacheDeps{
		Store:   cacheStore,
		Clock:   clk,
		Metrics: a.Metrics,
	}, cacheConfigFrom(cfg), logger)

	a.dispatch = app.NewDispatchService(app.DispatchDeps{
		Catalog:   a.catalog,
		Selector:  selector,
		Governor:  a.governor,
		Admission: a.admission,
		Cache:     a.cache,
		Client:    a.upstream,
		Ledger:    a.recorder,
		Metrics:   a.Metrics,
		Clock:     clk,
		IDGen:     idgen.UUID{},
	}, dispatchConfigFrom(cfg), logger)

	// Seed the catalog from the overlays so the gateway can route before
	// the first provider refresh completes.
	ctx := context.Background()
	if err := a.catalog.Seed(ctx); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if err := a.catalog.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial catalog refresh failed, routing on seeded models")
	}

	return nil
}

func (a *App) initHTTPServer(cfg *config.Config) {
	handler := gatehttp.NewHandler(gatehttp.HandlerDeps{
		Dispatch:  a.dispatch,
		Catalog:   a.catalog,
		Governor:  a.governor,
		Admission: a.admission,
		Cache:     a.cache,
		Upstream:  a.upstream,
	}, a.Logger)

	router := gatehttp.NewRouter(handler, gatehttp.RouterConfig{
		RequestTimeout: cfg.Server.WriteTimeout,
	}, a.Logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// wireReload pushes config changes into the running services.
func (a *App) wireReload() {
	if a.Holder == nil {
		return
	}

	a.Holder.OnChange(func(c *config.Config) {
		a.catalog.UpdateOverlays(overlaysFrom(c.Models))
		a.governor.UpdateConfig(governorConfigFrom(c))
		a.admission.UpdateConfig(admissionConfigFrom(c))
		a.cache.UpdateConfig(cacheConfigFrom(c))
		a.dispatch.UpdateConfig(dispatchConfigFrom(c))

		if level, err := zerolog.ParseLevel(c.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}

		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.SetToCurrentTime()
		a.Logger.Info().Msg("services updated from reloaded config")
	})

	a.Holder.OnReloadError(func(err error) {
		a.Metrics.ConfigReloadErrors.Inc()
	})
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	if a.Holder != nil {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.Holder.WatchSignals()
	}

	a.startLoops()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// startLoops launches the periodic maintenance goroutines: catalog refresh
// and health scoring, revival of models marked unavailable, and cache
// expiry sweeps.
func (a *App) startLoops() {
	if a.refreshInterval > 0 {
		a.loop(a.refreshInterval, func(ctx context.Context) {
			if err := a.catalog.Refresh(ctx); err != nil {
				a.Logger.Warn().Err(err).Msg("catalog refresh failed")
			}
			if err := a.catalog.UpdateHealth(ctx, time.Hour); err != nil {
				a.Logger.Warn().Err(err).Msg("catalog health update failed")
			}
		})
	}

	a.loop(time.Minute, func(ctx context.Context) {
		a.catalog.ReviveStale(ctx)
	})

	a.loop(10*time.Minute, func(ctx context.Context) {
		removed, err := a.cache.Purge(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("cache purge failed")
			return
		}
		if removed > 0 {
			a.Logger.Debug().Int("removed", removed).Msg("purged expired cache entries")
		}
	})
}

func (a *App) loop(interval time.Duration, fn func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				fn(ctx)
				cancel()
			case <-a.stopCh:
				return
			}
		}
	}()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	close(a.stopCh)
	a.wg.Wait()

	if a.Holder != nil {
		a.Holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Flush pending usage records before the store goes away.
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("ledger recorder close error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func overlaysFrom(models []config.ModelConfig) []app.ModelOverlay {
	overlays := make([]app.ModelOverlay, 0, len(models))
	for _, m := range models {
		overlays = append(overlays, app.ModelOverlay{
			ID:            m.ID,
			Priority:      m.Priority,
			Languages:     m.Languages,
			Capabilities:  m.Capabilities,
			CostPer1KIn:   m.CostPer1KIn,
			CostPer1KOut:  m.CostPer1KOut,
			ContextWindow: m.ContextWindow,
		})
	}
	return overlays
}

func governorConfigFrom(cfg *config.Config) app.GovernorConfig {
	return app.GovernorConfig{
		Enabled: cfg.Budget.Enabled,
		Budget: budget.Config{
			DailyLimitUSD:   cfg.Budget.DailyLimitUSD,
			WeeklyLimitUSD:  cfg.Budget.WeeklyLimitUSD,
			MonthlyLimitUSD: cfg.Budget.MonthlyLimitUSD,
			AlertThreshold:  cfg.Budget.AlertThreshold,
		},
		PerUser: budget.Config{
			DailyLimitUSD:   cfg.Budget.PerUser.DailyLimitUSD,
			WeeklyLimitUSD:  cfg.Budget.PerUser.WeeklyLimitUSD,
			MonthlyLimitUSD: cfg.Budget.PerUser.MonthlyLimitUSD,
			AlertThreshold:  cfg.Budget.AlertThreshold,
		},
	}
}

func admissionConfigFrom(cfg *config.Config) app.AdmissionConfig {
	rules := make([]admission.Rule, 0, len(cfg.RateLimit.Rules))
	for _, r := range cfg.RateLimit.Rules {
		scope := admission.ScopePerUser
		if r.Scope == "global" {
			scope = admission.ScopeGlobal
		}
		unit := admission.UnitRequests
		if r.Unit == "tokens" {
			unit = admission.UnitTokens
		}
		rules = append(rules, admission.Rule{
			Name:   r.Name,
			Scope:  scope,
			Unit:   unit,
			Limit:  r.Limit,
			Window: r.Window,
		})
	}
	return app.AdmissionConfig{
		Enabled: cfg.RateLimit.Enabled,
		MaxWait: cfg.RateLimit.MaxWait,
		Rules:   rules,
	}
}

func cacheConfigFrom(cfg *config.Config) app.CacheServiceConfig {
	return app.CacheServiceConfig{
		Enabled:        cfg.Cache.Enabled,
		Strategy:       cache.Strategy(cfg.Cache.Strategy),
		TTL:            cfg.Cache.TTL,
		FuzzyThreshold: cfg.Cache.FuzzyThreshold,
		KeyDepth:       cfg.Cache.KeyDepth,
	}
}

func dispatchConfigFrom(cfg *config.Config) app.DispatchServiceConfig {
	return app.DispatchServiceConfig{
		MaxFallbacks:   cfg.Dispatch.MaxFallbacks,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eino_counsel/internal/cache"
	"eino_counsel/internal/config"
	"eino_counsel/internal/cost"
	"eino_counsel/internal/llm"
	"eino_counsel/internal/memory"
	"eino_counsel/internal/monitoring"
	"eino_counsel/internal/nodes"
	"eino_counsel/internal/orchestrator"
	"eino_counsel/internal/safety"
	"eino_counsel/internal/storage"
	"eino_counsel/src/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// App owns every long-lived component behind one orchestrator
type App struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Store        *storage.MemoryStore
	Registry     *prometheus.Registry
	Guard        *cost.Guard

	updater *memory.Updater
	reset   *cost.ResetScheduler
	redis   *storage.RedisStorage
}

// openStore opens the SQLite memory database, creating its directory
func openStore(cfg *config.Config) (*storage.MemoryStore, error) {
	if dir := filepath.Dir(cfg.Storage.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return storage.OpenMemoryStore(cfg.Storage.DatabasePath)
}

// NewApp builds the pipeline from cfg
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	log := logger.Component("app")
	app := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	if app.Store, err = openStore(cfg); err != nil {
		return nil, err
	}

	var kv storage.KV = storage.NewMemoryKV()
	if cfg.Redis.URL != "" {
		if app.redis, err = storage.NewRedisStorage(ctx, cfg.Redis.URL); err != nil {
			return nil, err
		}
		kv = app.redis
		log.Info().Msg("using redis for cache and sessions")
	}

	var counter cost.UsageCounter = cost.NewAtomicCounter()
	if cfg.Budget.Counter == "redis" {
		if app.redis == nil {
			return nil, fmt.Errorf("budget.counter is redis but no redis url is configured")
		}
		counter = cost.NewRedisCounter(app.redis, cost.DefaultUsageKey)
	}
	app.Guard = cost.NewGuard(counter, cfg.Budget.DailyTokens)
	if app.reset, err = cost.NewResetScheduler(app.Guard, cfg.Budget.ResetSchedule); err != nil {
		return nil, err
	}
	app.reset.Start()

	monitor := monitoring.NewMonitor(app.Registry)

	text, structured, err := llm.NewChatModels(ctx, cfg.LLMProvider())
	if err != nil {
		return nil, err
	}
	client := llm.NewClient(text, structured,
		llm.WithRetryPolicy(cfg.RetryPolicy()),
		llm.WithUsageTracker(app.Guard),
		llm.WithModelMapper(llm.NewModelMapper(cfg.Provider.Name, cfg.Provider.Aliases)),
	)
	router := cost.NewRouter(cfg.Models.Capable, cfg.Models.Efficient)

	app.updater = memory.NewUpdater(
		memory.NewSummarizer(client, router.ClassificationModel()),
		app.Store,
		monitor,
		memory.UpdaterConfig{
			Workers:    cfg.Memory.Workers,
			QueueSize:  cfg.Memory.QueueSize,
			JobTimeout: cfg.Memory.JobTimeout,
		},
	)

	app.Orchestrator, err = orchestrator.New(orchestrator.Deps{
		Budget:     app.Guard,
		Gate:       safety.NewGate(cfg.BlockDiagnostic()),
		Crisis:     app.Store,
		Classifier: llm.NewRiskClassifier(client, router.ClassificationModel(), cfg.Timeouts.Classify),
		Router:     router,
		Context:    memory.NewAssembler(app.Store, cfg.Memory.ContextMaxChars),
		Sessions:   storage.NewKVSessionManager(kv, cfg.Memory.SessionTTL, cfg.Memory.SessionMessages),
		Cache:      cache.New(kv, cfg.Cache.TTL, cfg.Cache.OpTimeout),
		Generator:  client,
		Memory:     app.updater,
		Telemetry:  monitor,
	}, orchestrator.Config{
		TurnTimeout: cfg.Timeouts.Turn,
		Generation: nodes.GenerationConfig{
			MaxTokens:   cfg.Safety.MaxOutputTokens,
			Temperature: cfg.Safety.Temperature,
			Timeout:     cfg.Timeouts.Generation,
		},
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", cfg.Provider.Name).
		Str("capable_model", cfg.Models.Capable).
		Str("efficient_model", cfg.Models.Efficient).
		Int64("daily_tokens", cfg.Budget.DailyTokens).
		Msg("pipeline ready")
	return app, nil
}

// Close drains background memory jobs and releases storage
func (a *App) Close(ctx context.Context) {
	log := logger.Component("app")

	if a.reset != nil {
		a.reset.Stop()
	}
	if a.updater != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.updater.Close(drainCtx); err != nil {
			log.Warn().Err(err).Msg("memory updater did not drain")
		}
		cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close memory store")
		}
	}
}

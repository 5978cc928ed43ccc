package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/cache"
	"github.com/parkscope/greencover/internal/coverage"
	"github.com/parkscope/greencover/internal/registry"
	"github.com/parkscope/greencover/internal/scheduler"
)

// appEnv holds the initialized stores, orchestrator, and analyzer shared
// by the analyze/batch/schedule/serve commands.
type appEnv struct {
	Cache    cache.Store
	Orch     *cache.Orchestrator
	Registry *registry.Store
	Analyzer *coverage.Analyzer
	Runner   *scheduler.BatchRunner
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Registry != nil {
		_ = e.Registry.Close()
	}
}

// initApp opens the cache store for the configured driver, the city
// registry, and wires the orchestrator, analyzer, and batch runner.
// Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := initCacheStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, eris.Wrap(err, "migrate cache store")
	}

	reg, err := registry.New(cfg.Registry.Path)
	if err != nil {
		_ = store.Close()
		return nil, eris.Wrap(err, "open registry")
	}
	if err := reg.Migrate(ctx); err != nil {
		_ = store.Close()
		_ = reg.Close()
		return nil, eris.Wrap(err, "migrate registry")
	}

	orch := cache.NewOrchestrator(store, cache.NewTTLPolicy(cfg.Cache))
	analyzer := coverage.NewAnalyzer(cfg.Analysis)
	runner := scheduler.NewBatchRunner(analyzer, orch, reg, cfg)

	return &appEnv{
		Cache:    store,
		Orch:     orch,
		Registry: reg,
		Analyzer: analyzer,
		Runner:   runner,
	}, nil
}

// initCacheStore opens the configured cache backend.
func initCacheStore(ctx context.Context) (cache.Store, error) {
	switch cfg.Cache.Driver {
	case "postgres":
		zap.L().Debug("using postgres cache store")
		return cache.NewPostgres(ctx, cfg.Cache.DatabaseURL)
	default:
		zap.L().Debug("using sqlite cache store", zap.String("path", cfg.Cache.Path))
		return cache.NewSQLite(cfg.Cache.Path)
	}
}

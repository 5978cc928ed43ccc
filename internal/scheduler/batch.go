package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/parkscope/greencover/internal/cache"
	"github.com/parkscope/greencover/internal/config"
	"github.com/parkscope/greencover/internal/coverage"
	"github.com/parkscope/greencover/internal/model"
	"github.com/parkscope/greencover/internal/registry"
	"github.com/parkscope/greencover/internal/resilience"
)

// RunState labels the end state of a batch run.
type RunState string

const (
	RunCompleted RunState = "completed"
	RunAborted   RunState = "aborted-on-timeout"
)

// Outcome records one city's result within a batch run.
type Outcome struct {
	City     string  `json:"city"`
	Year     int     `json:"year"`
	OK       bool    `json:"ok"`
	Cached   bool    `json:"cached,omitempty"`
	Coverage float64 `json:"coverage_percentage,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Summary reports a whole batch run.
type Summary struct {
	State     RunState  `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Outcomes  []Outcome `json:"outcomes"`
}

// BatchRunner recomputes coverage for many cities in bounded batches. One
// city's failure never aborts the run; the wall-clock budget does, after
// in-flight work drains.
type BatchRunner struct {
	analyzer *coverage.Analyzer
	orch     *cache.Orchestrator
	reg      *registry.Store
	data     config.DataConfig
	batch    config.BatchConfig
	retry    resilience.RetryConfig
	ndvi     float64
}

func NewBatchRunner(analyzer *coverage.Analyzer, orch *cache.Orchestrator, reg *registry.Store, cfg *config.Config) *BatchRunner {
	retry := resilience.DefaultRetryConfig()
	if cfg.Retry.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.DelaySecs > 0 {
		retry.InitialBackoff = time.Duration(cfg.Retry.DelaySecs) * time.Second
	}
	return &BatchRunner{
		analyzer: analyzer,
		orch:     orch,
		reg:      reg,
		data:     cfg.Data,
		batch:    cfg.Batch,
		retry:    retry,
		ndvi:     cfg.Analysis.NDVIThreshold,
	}
}

// Run recomputes every discoverable city, or just cityFilter when given.
func (r *BatchRunner) Run(ctx context.Context, cityFilter string) (*Summary, error) {
	cities, err := r.reg.ListCities(ctx)
	if err != nil {
		return nil, err
	}
	if cityFilter != "" {
		cities = filterCities(cities, cityFilter)
	}
	sources := DiscoverSources(r.data, cities)

	budget := time.Duration(r.batch.RunBudgetSecs) * time.Second
	if r.batch.RunBudgetSecs == 0 {
		budget = time.Hour
	}
	summary := r.run(ctx, sources, time.Now().Add(budget))
	summary.Skipped = len(cities) - len(sources)
	return summary, nil
}

func (r *BatchRunner) run(ctx context.Context, sources []Source, deadline time.Time) *Summary {
	start := time.Now()
	summary := &Summary{
		State:     RunCompleted,
		StartedAt: start.UTC(),
		Total:     len(sources),
	}

	batchSize := r.batch.Size
	if batchSize <= 0 {
		batchSize = 10
	}
	maxConcurrent := r.batch.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	pace := time.Duration(r.batch.PaceSecs) * time.Second
	limiter := rate.NewLimiter(rate.Inf, 1)
	if pace > 0 {
		limiter = rate.NewLimiter(rate.Every(pace), 1)
	}

	var mu sync.Mutex

dispatch:
	for batchStart := 0; batchStart < len(sources); batchStart += batchSize {
		batch := sources[batchStart:min(batchStart+batchSize, len(sources))]

		var g errgroup.Group
		g.SetLimit(maxConcurrent)
		for _, src := range batch {
			// Past the budget: stop dispatching, let in-flight work drain.
			if time.Now().After(deadline) || ctx.Err() != nil {
				summary.State = RunAborted
				g.Wait()
				break dispatch
			}
			if err := limiter.Wait(ctx); err != nil {
				summary.State = RunAborted
				g.Wait()
				break dispatch
			}

			g.Go(func() error {
				outcome := r.processCity(ctx, src)
				mu.Lock()
				summary.Outcomes = append(summary.Outcomes, outcome)
				if outcome.OK {
					summary.Succeeded++
				} else {
					summary.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
	}

	summary.Duration = time.Since(start).Round(time.Millisecond).String()
	zap.L().Info("scheduler: batch run finished",
		zap.String("state", string(summary.State)),
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.String("duration", summary.Duration))
	return summary
}

// processCity computes one city under its own timeout, persists the fresh
// record, then drops the city's stale cache entries. Invalidation runs only
// after the fresh write has landed.
func (r *BatchRunner) processCity(ctx context.Context, src Source) Outcome {
	outcome := Outcome{City: src.City, Year: src.Year}

	itemTimeout := time.Duration(r.batch.ItemTimeoutSecs) * time.Second
	if itemTimeout <= 0 {
		itemTimeout = 10 * time.Minute
	}
	itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	req, err := r.coverageRequest(src)
	if err != nil {
		outcome.Error = err.Error()
		zap.L().Warn("scheduler: city skipped", zap.String("city", src.City), zap.Error(err))
		return outcome
	}

	result, hit, err := r.orch.Coverage(itemCtx, *req, func(ctx context.Context) (*model.CoverageResult, error) {
		return resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*model.CoverageResult, error) {
			res, err := r.analyzer.Compute(ctx, coverage.Request{
				City:         src.City,
				BoundaryPath: src.BoundaryPath,
				RasterPath:   src.RasterPath,
				Year:         src.Year,
				DataSource:   "batch",
			})
			return res, err
		})
	})
	if err != nil {
		outcome.Error = err.Error()
		zap.L().Warn("scheduler: city failed", zap.String("city", src.City), zap.Error(err))
		return outcome
	}

	if _, err := r.reg.SaveRecord(itemCtx, result.CityName, src.Year, *result); err != nil {
		outcome.Error = err.Error()
		zap.L().Warn("scheduler: record write failed", zap.String("city", src.City), zap.Error(err))
		return outcome
	}

	freshKey := r.orch.CoverageKey(*req)
	if _, err := r.orch.InvalidateStale(ctx, result.CityName, cache.CalcSatellite, freshKey); err != nil {
		zap.L().Warn("scheduler: stale invalidation failed", zap.String("city", src.City), zap.Error(err))
	}
	// Aggregate stats span cities and carry no city name, so drop them all.
	if _, err := r.orch.Invalidate(ctx, "", cache.CalcStats); err != nil {
		zap.L().Warn("scheduler: stats invalidation failed", zap.String("city", src.City), zap.Error(err))
	}

	outcome.OK = true
	outcome.Cached = hit
	outcome.Coverage = result.CoveragePercentage
	return outcome
}

// coverageRequest derives the cache request for a source, keyed on input
// file content so a re-uploaded boundary or scene misses the old entry.
func (r *BatchRunner) coverageRequest(src Source) (*cache.Request, error) {
	boundaryHash, err := cache.FileHash(src.BoundaryPath)
	if err != nil {
		return nil, err
	}
	rasterHash, err := cache.FileHash(src.RasterPath)
	if err != nil {
		return nil, err
	}
	return &cache.Request{
		Type: cache.CalcSatellite,
		Params: map[string]any{
			"city":          src.City,
			"year":          src.Year,
			"threshold":     r.ndvi,
			"boundary_hash": boundaryHash,
			"raster_hash":   rasterHash,
		},
		CityName: src.City,
	}, nil
}

func filterCities(cities []model.City, name string) []model.City {
	slug := Slug(name)
	for _, c := range cities {
		if Slug(c.Name) == slug {
			return []model.City{c}
		}
	}
	return nil
}

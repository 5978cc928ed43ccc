package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/cache"
	"github.com/parkscope/greencover/internal/coverage"
	"github.com/parkscope/greencover/internal/model"
	"github.com/parkscope/greencover/internal/scheduler"
)

var (
	analyzeBoundary string
	analyzeRaster   string
	analyzeYear     int
	analyzeNDVI     float64
	analyzeSource   string
	analyzeNoCache  bool
	analyzeNoSave   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <city>",
	Short: "Compute green coverage for a single city",
	Long:  "Loads the city boundary and satellite raster, computes NDVI-based vegetation coverage, and persists the result. Paths default to discovery under the configured data directories.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		src, err := resolveSource(args[0])
		if err != nil {
			return err
		}

		var threshold *float64
		if cmd.Flags().Changed("threshold") {
			t := analyzeNDVI
			threshold = &t
		}

		result, hit, err := computeCoverage(ctx, env, src, threshold, analyzeSource, !analyzeNoCache)
		if err != nil {
			var mismatch *coverage.SpatialMismatchError
			if eris.As(err, &mismatch) {
				fmt.Fprintln(os.Stderr, mismatch.Hint())
			}
			return err
		}

		if !analyzeNoSave {
			if _, err := env.Registry.SaveRecord(ctx, result.CityName, src.Year, *result); err != nil {
				return eris.Wrap(err, "save record")
			}
		}

		if hit {
			fmt.Fprintln(os.Stderr, "(served from cache)")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeBoundary, "boundary", "", "boundary file path (.shp, .geojson)")
	analyzeCmd.Flags().StringVar(&analyzeRaster, "raster", "", "satellite raster path (.dat, .bsq, .img)")
	analyzeCmd.Flags().IntVar(&analyzeYear, "year", 0, "scene year (default from raster file name)")
	analyzeCmd.Flags().Float64Var(&analyzeNDVI, "threshold", 0, "NDVI vegetation threshold (default from config)")
	analyzeCmd.Flags().StringVar(&analyzeSource, "source", "manual", "data source label stored with the result")
	analyzeCmd.Flags().BoolVar(&analyzeNoCache, "no-cache", false, "bypass the cache and force a fresh computation")
	analyzeCmd.Flags().BoolVar(&analyzeNoSave, "no-save", false, "skip writing the result to the registry")
	rootCmd.AddCommand(analyzeCmd)
}

// resolveSource fills boundary and raster paths from flags, falling back to
// discovery in the configured data directories.
func resolveSource(city string) (scheduler.Source, error) {
	src := scheduler.Source{
		City:         city,
		BoundaryPath: analyzeBoundary,
		RasterPath:   analyzeRaster,
		Year:         analyzeYear,
	}
	if src.BoundaryPath != "" && src.RasterPath != "" {
		return src, nil
	}

	found := scheduler.DiscoverSources(cfg.Data, []model.City{{Name: city}})
	if len(found) == 0 {
		return src, eris.Errorf("no data files found for %q under %s and %s; pass --boundary and --raster", city, cfg.Data.BoundaryDir, cfg.Data.SatelliteDir)
	}
	if src.BoundaryPath == "" {
		src.BoundaryPath = found[0].BoundaryPath
	}
	if src.RasterPath == "" {
		src.RasterPath = found[0].RasterPath
		if src.Year == 0 {
			src.Year = found[0].Year
		}
	}
	return src, nil
}

// computeCoverage runs the analysis through the cache orchestrator, or
// directly when useCache is false. The cache key includes file content
// hashes, matching what batch runs write.
func computeCoverage(ctx context.Context, env *appEnv, src scheduler.Source, reqThreshold *float64, dataSource string, useCache bool) (*model.CoverageResult, bool, error) {
	req := coverage.Request{
		City:         src.City,
		BoundaryPath: src.BoundaryPath,
		RasterPath:   src.RasterPath,
		Year:         src.Year,
		Threshold:    reqThreshold,
		DataSource:   dataSource,
	}

	if !useCache {
		result, err := env.Analyzer.Compute(ctx, req)
		return result, false, err
	}

	threshold := cfg.Analysis.NDVIThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	boundaryHash, err := cache.FileHash(src.BoundaryPath)
	if err != nil {
		return nil, false, eris.Wrap(err, "hash boundary")
	}
	rasterHash, err := cache.FileHash(src.RasterPath)
	if err != nil {
		return nil, false, eris.Wrap(err, "hash raster")
	}

	cacheReq := cache.Request{
		Type: cache.CalcSatellite,
		Params: map[string]any{
			"city":          src.City,
			"year":          src.Year,
			"threshold":     threshold,
			"boundary_hash": boundaryHash,
			"raster_hash":   rasterHash,
		},
		CityName: src.City,
	}

	result, hit, err := env.Orch.Coverage(ctx, cacheReq, func(ctx context.Context) (*model.CoverageResult, error) {
		return env.Analyzer.Compute(ctx, req)
	})
	if err != nil {
		return nil, false, err
	}
	if !hit {
		zap.L().Info("coverage computed",
			zap.String("city", result.CityName),
			zap.Float64("coverage_pct", result.CoveragePercentage))
	}
	return result, hit, nil
}

package scheduler

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/config"
	"github.com/parkscope/greencover/internal/model"
)

// Source pairs a registered city with its on-disk boundary and imagery.
type Source struct {
	City         string
	BoundaryPath string
	RasterPath   string
	Year         int
}

var boundaryExts = []string{".shp", ".geojson", ".json"}
var rasterExts = []string{".dat", ".bsq", ".img"}

// DiscoverSources maps registered cities to their data files. Boundaries
// are looked up as <slug>.<ext> in the boundary directory; imagery as
// <slug>_<year>.<ext> (newest year wins) or <slug>.<ext> in the satellite
// directory. Cities missing either file are skipped, not failed.
func DiscoverSources(cfg config.DataConfig, cities []model.City) []Source {
	var sources []Source
	for _, city := range cities {
		slug := Slug(city.Name)

		boundary := findBoundary(cfg.BoundaryDir, slug)
		if boundary == "" {
			zap.L().Debug("scheduler: no boundary file", zap.String("city", city.Name))
			continue
		}
		rasterPath, year := findRaster(cfg.SatelliteDir, slug)
		if rasterPath == "" {
			zap.L().Debug("scheduler: no imagery", zap.String("city", city.Name))
			continue
		}

		sources = append(sources, Source{
			City:         city.Name,
			BoundaryPath: boundary,
			RasterPath:   rasterPath,
			Year:         year,
		})
	}
	return sources
}

// Slug normalizes a city name for file lookups: lowercase with
// underscores for spaces.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func findBoundary(dir, slug string) string {
	for _, ext := range boundaryExts {
		path := filepath.Join(dir, slug+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// findRaster prefers year-tagged scenes, newest first.
func findRaster(dir, slug string) (string, int) {
	type candidate struct {
		path string
		year int
	}
	var candidates []candidate

	for _, ext := range rasterExts {
		matches, _ := filepath.Glob(filepath.Join(dir, slug+"_*"+ext))
		for _, m := range matches {
			base := strings.TrimSuffix(filepath.Base(m), ext)
			yearStr := strings.TrimPrefix(base, slug+"_")
			year, err := strconv.Atoi(yearStr)
			if err != nil {
				continue
			}
			candidates = append(candidates, candidate{path: m, year: year})
		}
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].year > candidates[j].year })
		return candidates[0].path, candidates[0].year
	}

	for _, ext := range rasterExts {
		path := filepath.Join(dir, slug+ext)
		if _, err := os.Stat(path); err == nil {
			return path, 0
		}
	}
	return "", 0
}

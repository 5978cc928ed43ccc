package coverage

import (
	"context"
	"errors"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/config"
	"github.com/parkscope/greencover/internal/geo"
	"github.com/parkscope/greencover/internal/model"
	"github.com/parkscope/greencover/internal/raster"
)

// meters per degree of latitude on the WGS84 sphere, used to express
// pixel areas of geographic rasters in square meters.
const metersPerDegree = 111319.49079327358

// Analyzer computes green coverage for a city boundary over a satellite
// raster. Pixels stream through in row tiles, so memory stays flat
// regardless of raster size.
type Analyzer struct {
	threshold float64
	redBand   int
	nirBand   int
	tileRows  int
}

// NewAnalyzer builds an analyzer from analysis configuration.
func NewAnalyzer(cfg config.AnalysisConfig) *Analyzer {
	a := &Analyzer{
		threshold: cfg.NDVIThreshold,
		redBand:   cfg.RedBand,
		nirBand:   cfg.NIRBand,
		tileRows:  cfg.TileRows,
	}
	if a.tileRows <= 0 {
		a.tileRows = 256
	}
	return a
}

// Request names the inputs of one coverage computation. A nil Threshold
// falls back to the analyzer default.
type Request struct {
	City         string
	BoundaryPath string
	RasterPath   string
	Year         int
	Threshold    *float64
	DataSource   string
}

// Compute loads the boundary and raster files, matches the city, and runs
// the analysis.
func (a *Analyzer) Compute(ctx context.Context, req Request) (*model.CoverageResult, error) {
	boundaries, err := geo.LoadBoundaries(req.BoundaryPath)
	if err != nil {
		return nil, err
	}
	feature, err := MatchFeature(boundaries, req.City)
	if err != nil {
		return nil, err
	}

	r, err := raster.Open(req.RasterPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	threshold := a.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	result, err := a.AnalyzeGeometry(ctx, feature.Name, feature.Geometry, boundaries.CRS, r, threshold)
	if err != nil {
		return nil, err
	}
	result.Year = req.Year
	result.DataSource = req.DataSource
	result.BoundaryPath = req.BoundaryPath
	result.RasterPath = req.RasterPath
	return result, nil
}

// AnalyzeGeometry clips the raster to the boundary geometry and classifies
// every valid pixel by NDVI threshold.
func (a *Analyzer) AnalyzeGeometry(ctx context.Context, city string, mp *geom.MultiPolygon, geomCRS geo.CRS, r raster.Raster, threshold float64) (*model.CoverageResult, error) {
	if threshold < -1 || threshold > 1 {
		return nil, eris.Errorf("coverage: NDVI threshold %v outside [-1, 1]", threshold)
	}
	if a.redBand >= r.Bands() || a.nirBand >= r.Bands() {
		return nil, eris.Errorf("coverage: raster has %d bands, need red=%d nir=%d", r.Bands(), a.redBand, a.nirBand)
	}

	rec := geo.Reconcile(mp, geomCRS, r.CRS())
	if rec.Status == geo.Incompatible {
		return nil, &SpatialMismatchError{GeometryCRS: geomCRS, RasterCRS: r.CRS()}
	}
	if rec.Warning != "" {
		zap.L().Warn("coverage: coordinate systems differ",
			zap.String("city", city),
			zap.String("detail", rec.Warning))
	}
	clip := rec.Geometry

	x0, y0, x1, y1, err := clipWindow(clip, r)
	if err != nil {
		return nil, err
	}

	gt := r.Transform()
	noData, hasNoData := r.NoData()

	var (
		total, green int64
		mean, m2     float64
		minN, maxN   = math.Inf(1), math.Inf(-1)
	)

	for ty := y0; ty < y1; ty += a.tileRows {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, eris.Wrapf(ErrComputeTimeout, "coverage: %s", city)
			}
			return nil, eris.Wrap(err, "coverage: canceled")
		}

		h := min(a.tileRows, y1-ty)
		w := x1 - x0
		red, err := r.ReadBlock(a.redBand, x0, ty, w, h)
		if err != nil {
			return nil, err
		}
		nir, err := r.ReadBlock(a.nirBand, x0, ty, w, h)
		if err != nil {
			return nil, err
		}

		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				px, py := gt.PixelToMap(float64(x0+col)+0.5, float64(ty+row)+0.5)
				if !geo.ContainsPoint(clip, px, py) {
					continue
				}

				rv, nv := red[row*w+col], nir[row*w+col]
				if math.IsNaN(rv) || math.IsNaN(nv) {
					continue
				}
				if hasNoData && (rv == noData || nv == noData) {
					continue
				}
				denom := nv + rv
				if denom == 0 {
					continue
				}

				ndvi := (nv - rv) / denom
				if ndvi > 1 {
					ndvi = 1
				} else if ndvi < -1 {
					ndvi = -1
				}

				total++
				if ndvi >= threshold {
					green++
				}
				// Welford running mean and variance.
				delta := ndvi - mean
				mean += delta / float64(total)
				m2 += delta * (ndvi - mean)
				minN = math.Min(minN, ndvi)
				maxN = math.Max(maxN, ndvi)
			}
		}
	}

	if total == 0 {
		return nil, eris.Wrapf(ErrNoValidPixels, "coverage: %s", city)
	}

	areaM2 := pixelAreaM2(r, clip)
	res := &model.CoverageResult{
		CityName:           city,
		CoveragePercentage: 100 * float64(green) / float64(total),
		TotalPixels:        total,
		GreenPixels:        green,
		TotalAreaM2:        float64(total) * areaM2,
		GreenAreaM2:        float64(green) * areaM2,
		NDVIThreshold:      threshold,
		MeanNDVI:           mean,
		StdNDVI:            math.Sqrt(m2 / float64(total)),
		MinNDVI:            minN,
		MaxNDVI:            maxN,
		CoordinateSystem:   r.CRS().String(),
		MeasurementMethod:  "ndvi-threshold",
	}
	res.TotalAreaKm2 = res.TotalAreaM2 / 1e6
	res.GreenAreaKm2 = res.GreenAreaM2 / 1e6
	return res, nil
}

// clipWindow maps the geometry bounds into pixel space and clamps them to
// the raster extent. An empty intersection means no valid pixels.
func clipWindow(mp *geom.MultiPolygon, r raster.Raster) (x0, y0, x1, y1 int, err error) {
	b := mp.Bounds()
	gt := r.Transform()

	cols := make([]float64, 0, 4)
	rows := make([]float64, 0, 4)
	for _, x := range []float64{b.Min(0), b.Max(0)} {
		for _, y := range []float64{b.Min(1), b.Max(1)} {
			c, rw, merr := gt.MapToPixel(x, y)
			if merr != nil {
				return 0, 0, 0, 0, merr
			}
			cols = append(cols, c)
			rows = append(rows, rw)
		}
	}

	x0 = clampInt(int(math.Floor(slices.Min(cols))), 0, r.Width())
	x1 = clampInt(int(math.Ceil(slices.Max(cols))), 0, r.Width())
	y0 = clampInt(int(math.Floor(slices.Min(rows))), 0, r.Height())
	y1 = clampInt(int(math.Ceil(slices.Max(rows))), 0, r.Height())

	if x0 >= x1 || y0 >= y1 {
		return 0, 0, 0, 0, eris.Wrap(ErrNoValidPixels, "coverage: boundary outside raster extent")
	}
	return x0, y0, x1, y1, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// pixelAreaM2 returns one pixel's area in square meters. Projected rasters
// carry linear units directly; geographic rasters are scaled from square
// degrees at the geometry's center latitude.
func pixelAreaM2(r raster.Raster, mp *geom.MultiPolygon) float64 {
	area := r.Transform().PixelArea()
	if r.CRS().Kind() != geo.KindGeographic {
		return area
	}
	b := mp.Bounds()
	centerLat := (b.Min(1) + b.Max(1)) / 2
	return area * metersPerDegree * metersPerDegree * math.Cos(centerLat*math.Pi/180)
}

package coverage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/parkscope/greencover/internal/config"
	"github.com/parkscope/greencover/internal/geo"
	"github.com/parkscope/greencover/internal/raster"
)

func testAnalyzer() *Analyzer {
	return NewAnalyzer(config.AnalysisConfig{
		NDVIThreshold: 0.3,
		RedBand:       0,
		NIRBand:       1,
		TileRows:      4,
	})
}

func square(minX, minY, maxX, maxY float64) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY)
	poly := geom.NewPolygon(geom.XY)
	_, err := poly.SetCoords([][]geom.Coord{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
	if err != nil {
		panic(err)
	}
	if err := mp.Push(poly); err != nil {
		panic(err)
	}
	return mp
}

// testRaster builds a 10x10 two-band raster in EPSG:32633 where the first
// greenPixels pixels (row-major) read as dense vegetation (NDVI 0.6) and
// the rest as bare ground (NDVI 0).
func testRaster(t *testing.T, greenPixels int) *raster.MemoryRaster {
	t.Helper()
	red := make([]float64, 100)
	nir := make([]float64, 100)
	for i := 0; i < 100; i++ {
		red[i] = 1
		if i < greenPixels {
			nir[i] = 4
		} else {
			nir[i] = 1
		}
	}
	r, err := raster.NewMemory(10, 10, 2, geo.CRS{Code: 32633},
		raster.GeoTransform{0, 1, 0, 10, 0, -1}, append(red, nir...))
	require.NoError(t, err)
	return r
}

func TestAnalyzeGeometrySixtyPercent(t *testing.T) {
	a := testAnalyzer()
	r := testRaster(t, 60)
	mp := square(0, 0, 10, 10)

	res, err := a.AnalyzeGeometry(context.Background(), "Testville", mp, geo.CRS{Code: 32633}, r, 0.3)
	require.NoError(t, err)

	assert.Equal(t, "Testville", res.CityName)
	assert.InDelta(t, 60.0, res.CoveragePercentage, 1e-9)
	assert.Equal(t, int64(100), res.TotalPixels)
	assert.Equal(t, int64(60), res.GreenPixels)
	assert.InDelta(t, 100.0, res.TotalAreaM2, 1e-9)
	assert.InDelta(t, 60.0, res.GreenAreaM2, 1e-9)
	assert.InDelta(t, 0.36, res.MeanNDVI, 1e-9)
	assert.InDelta(t, math.Sqrt(0.0864), res.StdNDVI, 1e-9)
	assert.InDelta(t, 0.0, res.MinNDVI, 1e-9)
	assert.InDelta(t, 0.6, res.MaxNDVI, 1e-9)
	assert.Equal(t, "EPSG:32633", res.CoordinateSystem)
}

func TestAnalyzeGeometryDeterministic(t *testing.T) {
	a := testAnalyzer()
	r := testRaster(t, 37)
	mp := square(0, 0, 10, 10)

	first, err := a.AnalyzeGeometry(context.Background(), "Testville", mp, geo.CRS{Code: 32633}, r, 0.3)
	require.NoError(t, err)
	second, err := a.AnalyzeGeometry(context.Background(), "Testville", mp, geo.CRS{Code: 32633}, r, 0.3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnalyzeGeometryThresholdExtremes(t *testing.T) {
	a := testAnalyzer()
	r := testRaster(t, 60)
	mp := square(0, 0, 10, 10)

	res, err := a.AnalyzeGeometry(context.Background(), "Testville", mp, geo.CRS{Code: 32633}, r, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.GreenPixels)

	res, err = a.AnalyzeGeometry(context.Background(), "Testville", mp, geo.CRS{Code: 32633}, r, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.GreenPixels)
	assert.Equal(t, 0.0, res.CoveragePercentage)

	_, err = a.AnalyzeGeometry(context.Background(), "Testville", mp, geo.CRS{Code: 32633}, r, 1.5)
	assert.Error(t, err)
}

func TestAnalyzeGeometryExcludesInvalidPixels(t *testing.T) {
	a := testAnalyzer()
	r := testRaster(t, 60)
	mp := square(0, 0, 10, 10)

	// Clip to the top-left quarter: rows 0-4 map to y in (5, 10).
	res, err := a.AnalyzeGeometry(context.Background(), "Testville", square(0, 5, 5, 10), geo.CRS{Code: 32633}, r, 0.3)
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.TotalPixels)

	// Nodata and zero-denominator pixels shrink the denominator instead of
	// counting as non-green.
	red := make([]float64, 100)
	nir := make([]float64, 100)
	for i := 0; i < 100; i++ {
		red[i], nir[i] = 1, 4
	}
	red[0], nir[0] = -9999, -9999
	red[1], nir[1] = 0, 0
	red[2], nir[2] = 2, -2
	rm, err := raster.NewMemory(10, 10, 2, geo.CRS{Code: 32633},
		raster.GeoTransform{0, 1, 0, 10, 0, -1}, append(red, nir...))
	require.NoError(t, err)
	rm.SetNoData(-9999)

	res, err = a.AnalyzeGeometry(context.Background(), "Testville", mp, geo.CRS{Code: 32633}, rm, 0.3)
	require.NoError(t, err)
	assert.Equal(t, int64(97), res.TotalPixels)
	assert.InDelta(t, 100.0, res.CoveragePercentage, 1e-9)
}

func TestAnalyzeGeometryNoValidPixels(t *testing.T) {
	a := testAnalyzer()
	r := testRaster(t, 60)

	// Boundary entirely outside the raster extent.
	_, err := a.AnalyzeGeometry(context.Background(), "Nowhere", square(100, 100, 110, 110), geo.CRS{Code: 32633}, r, 0.3)
	assert.ErrorIs(t, err, ErrNoValidPixels)

	// Boundary overlaps but every pixel is nodata.
	data := make([]float64, 200)
	for i := range data {
		data[i] = -9999
	}
	rm, err := raster.NewMemory(10, 10, 2, geo.CRS{Code: 32633},
		raster.GeoTransform{0, 1, 0, 10, 0, -1}, data)
	require.NoError(t, err)
	rm.SetNoData(-9999)

	_, err = a.AnalyzeGeometry(context.Background(), "Nowhere", square(0, 0, 10, 10), geo.CRS{Code: 32633}, rm, 0.3)
	assert.ErrorIs(t, err, ErrNoValidPixels)
}

func TestAnalyzeGeometrySpatialMismatch(t *testing.T) {
	a := testAnalyzer()
	r := testRaster(t, 60)

	_, err := a.AnalyzeGeometry(context.Background(), "Testville", square(0, 0, 10, 10), geo.CRS{Code: 4326}, r, 0.3)
	require.Error(t, err)

	var sm *SpatialMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, geo.CRS{Code: 4326}, sm.GeometryCRS)
	assert.Equal(t, geo.CRS{Code: 32633}, sm.RasterCRS)
	assert.Contains(t, sm.Hint(), "EPSG:32633")
}

func TestAnalyzeGeometryTimeout(t *testing.T) {
	a := testAnalyzer()
	r := testRaster(t, 60)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := a.AnalyzeGeometry(ctx, "Testville", square(0, 0, 10, 10), geo.CRS{Code: 32633}, r, 0.3)
	assert.ErrorIs(t, err, ErrComputeTimeout)
}

// writeGeoENVI writes a little-endian float32 BSQ raster with a geographic
// header for the end to end Compute test.
func writeGeoENVI(t *testing.T, dir string, width, height int, red, nir []float64) string {
	t.Helper()
	values := append(append([]float64{}, red...), nir...)
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	dataPath := filepath.Join(dir, "scene.dat")
	require.NoError(t, os.WriteFile(dataPath, buf, 0o644))

	hdr := fmt.Sprintf("ENVI\nsamples = %d\nlines = %d\nbands = 2\ndata type = 4\ninterleave = bsq\nbyte order = 0\nmap info = {Geographic Lat/Lon, 1.0, 1.0, 0.0, 0.04, 0.01, 0.01, WGS-84}\n",
		width, height)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.hdr"), []byte(hdr), 0o644))
	return dataPath
}

func TestComputeFromFiles(t *testing.T) {
	dir := t.TempDir()

	boundary := filepath.Join(dir, "cities.geojson")
	gj := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"NAME":"Testville"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[0.04,0],[0.04,0.04],[0,0.04],[0,0]]]}}]}`
	require.NoError(t, os.WriteFile(boundary, []byte(gj), 0o644))

	red := make([]float64, 16)
	nir := make([]float64, 16)
	for i := range red {
		red[i], nir[i] = 1, 4
	}
	rasterPath := writeGeoENVI(t, dir, 4, 4, red, nir)

	a := testAnalyzer()
	res, err := a.Compute(context.Background(), Request{
		City:         "testville",
		BoundaryPath: boundary,
		RasterPath:   rasterPath,
		Year:         2024,
		DataSource:   "sentinel-2",
	})
	require.NoError(t, err)

	assert.Equal(t, "Testville", res.CityName)
	assert.Equal(t, int64(16), res.TotalPixels)
	assert.InDelta(t, 100.0, res.CoveragePercentage, 1e-9)
	assert.Equal(t, 2024, res.Year)
	assert.Equal(t, "sentinel-2", res.DataSource)
	assert.Equal(t, "EPSG:4326", res.CoordinateSystem)
	// One pixel of 0.01 degrees squared near the equator is about 1.24 km2.
	assert.InDelta(t, 1.239, res.TotalAreaKm2/16, 0.01)
}

func TestComputeCityNotFound(t *testing.T) {
	dir := t.TempDir()
	boundary := filepath.Join(dir, "cities.geojson")
	gj := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"NAME":"Testville"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}]}`
	require.NoError(t, os.WriteFile(boundary, []byte(gj), 0o644))

	a := testAnalyzer()
	_, err := a.Compute(context.Background(), Request{
		City:         "Atlantis",
		BoundaryPath: boundary,
		RasterPath:   filepath.Join(dir, "missing.dat"),
	})
	assert.ErrorIs(t, err, ErrCityNotFound)
}

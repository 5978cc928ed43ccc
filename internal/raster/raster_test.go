package raster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkscope/greencover/internal/geo"
)

func TestGeoTransformRoundTrip(t *testing.T) {
	gt := GeoTransform{500000, 30, 0, 4650000, 0, -30}

	x, y := gt.PixelToMap(0, 0)
	assert.Equal(t, 500000.0, x)
	assert.Equal(t, 4650000.0, y)

	x, y = gt.PixelToMap(10, 20)
	assert.Equal(t, 500300.0, x)
	assert.Equal(t, 4649400.0, y)

	col, row, err := gt.MapToPixel(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, col, 1e-9)
	assert.InDelta(t, 20.0, row, 1e-9)
}

func TestGeoTransformDegenerate(t *testing.T) {
	gt := GeoTransform{0, 0, 0, 0, 0, 0}
	_, _, err := gt.MapToPixel(1, 1)
	assert.Error(t, err)
}

func TestGeoTransformPixelArea(t *testing.T) {
	gt := GeoTransform{0, 30, 0, 0, 0, -30}
	assert.Equal(t, 900.0, gt.PixelArea())
}

func TestOpenUnsupportedExtension(t *testing.T) {
	_, err := Open("scene.tif")
	assert.ErrorIs(t, err, geo.ErrUnsupportedFormat)
}

func TestMemoryRasterReadBlock(t *testing.T) {
	data := make([]float64, 2*4*4)
	for i := range data {
		data[i] = float64(i)
	}
	r, err := NewMemory(4, 4, 2, geo.CRS{Code: 4326}, GeoTransform{0, 1, 0, 0, 0, -1}, data)
	require.NoError(t, err)

	block, err := r.ReadBlock(1, 1, 2, 2, 1)
	require.NoError(t, err)
	// band 1 starts at offset 16; row 2 col 1..2 are 25 and 26.
	assert.Equal(t, []float64{25, 26}, block)

	_, err = r.ReadBlock(2, 0, 0, 1, 1)
	assert.Error(t, err)
	_, err = r.ReadBlock(0, 3, 3, 2, 2)
	assert.Error(t, err)
}

func TestNewMemoryLengthMismatch(t *testing.T) {
	_, err := NewMemory(4, 4, 1, geo.CRS{}, GeoTransform{}, make([]float64, 15))
	assert.Error(t, err)
}

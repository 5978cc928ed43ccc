package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkscope/greencover/internal/geo"
)

// writeENVI writes a little-endian float32 BSQ raster plus its header.
func writeENVI(t *testing.T, dir, name, hdrExtra string, width, height, bands int, values []float64) string {
	t.Helper()
	require.Len(t, values, width*height*bands)

	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	dataPath := filepath.Join(dir, name+".dat")
	require.NoError(t, os.WriteFile(dataPath, buf, 0o644))

	hdr := fmt.Sprintf("ENVI\nsamples = %d\nlines = %d\nbands = %d\ndata type = 4\ninterleave = bsq\nbyte order = 0\n%s",
		width, height, bands, hdrExtra)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".hdr"), []byte(hdr), 0o644))
	return dataPath
}

func TestOpenENVIBasic(t *testing.T) {
	dir := t.TempDir()
	values := []float64{
		1, 2, 3,
		4, 5, 6,
		10, 20, 30,
		40, 50, 60,
	}
	extra := "map info = {UTM, 1.0, 1.0, 500000.0, 4650000.0, 30.0, 30.0, 33, North, WGS-84}\n" +
		"data ignore value = -9999\n"
	path := writeENVI(t, dir, "scene", extra, 3, 2, 2, values)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 3, r.Width())
	assert.Equal(t, 2, r.Height())
	assert.Equal(t, 2, r.Bands())
	assert.Equal(t, geo.CRS{Code: 32633}, r.CRS())

	nd, ok := r.NoData()
	require.True(t, ok)
	assert.Equal(t, -9999.0, nd)

	gt := r.Transform()
	assert.Equal(t, GeoTransform{500000, 30, 0, 4650000, 0, -30}, gt)

	full, err := r.ReadBlock(0, 0, 0, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, full)

	window, err := r.ReadBlock(1, 1, 1, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 60}, window)
}

func TestOpenENVIGeographic(t *testing.T) {
	dir := t.TempDir()
	extra := "map info = {Geographic Lat/Lon, 1.0, 1.0, 13.0, 52.6, 0.01, 0.01, WGS-84}\n"
	path := writeENVI(t, dir, "geo", extra, 2, 2, 1, []float64{1, 2, 3, 4})

	r, err := OpenENVI(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, geo.CRS{Code: 4326}, r.CRS())
	gt := r.Transform()
	assert.InDelta(t, 13.0, gt[0], 1e-12)
	assert.InDelta(t, 52.6, gt[3], 1e-12)
	assert.InDelta(t, 0.01, gt[1], 1e-12)
	assert.InDelta(t, -0.01, gt[5], 1e-12)

	_, ok := r.NoData()
	assert.False(t, ok)
}

func TestOpenENVIRejectsInterleave(t *testing.T) {
	dir := t.TempDir()
	path := writeENVI(t, dir, "bil", "interleave = bil\n", 2, 2, 1, []float64{1, 2, 3, 4})
	// second interleave line overrides the bsq default written by the helper
	_, err := OpenENVI(path)
	assert.ErrorIs(t, err, geo.ErrUnsupportedFormat)
}

func TestOpenENVIMissingHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orphan.dat")
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 0, 0}, 0o644))
	_, err := OpenENVI(path)
	assert.Error(t, err)
}

func TestReadBlockBounds(t *testing.T) {
	dir := t.TempDir()
	path := writeENVI(t, dir, "small", "", 2, 2, 1, []float64{1, 2, 3, 4})

	r, err := OpenENVI(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadBlock(0, 1, 1, 2, 2)
	assert.Error(t, err)
	_, err = r.ReadBlock(1, 0, 0, 1, 1)
	assert.Error(t, err)
}

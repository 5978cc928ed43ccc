package raster

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/parkscope/greencover/internal/geo"
)

// GeoTransform is the GDAL-style affine mapping from pixel to map space:
//
//	x = t[0] + col*t[1] + row*t[2]
//	y = t[3] + col*t[4] + row*t[5]
//
// t[0], t[3] locate the outer corner of the top-left pixel.
type GeoTransform [6]float64

// PixelToMap converts fractional pixel coordinates to map coordinates.
func (t GeoTransform) PixelToMap(col, row float64) (float64, float64) {
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// MapToPixel converts map coordinates to fractional pixel coordinates by
// inverting the affine transform. Returns an error for degenerate
// (zero-determinant) transforms.
func (t GeoTransform) MapToPixel(x, y float64) (float64, float64, error) {
	det := t[1]*t[5] - t[2]*t[4]
	if det == 0 {
		return 0, 0, eris.New("raster: degenerate geotransform")
	}
	dx, dy := x-t[0], y-t[3]
	col := (dx*t[5] - dy*t[2]) / det
	row := (dy*t[1] - dx*t[4]) / det
	return col, row, nil
}

// PixelArea returns the area covered by one pixel in CRS units squared.
func (t GeoTransform) PixelArea() float64 {
	area := t[1]*t[5] - t[2]*t[4]
	if area < 0 {
		area = -area
	}
	return area
}

// Raster is a read-only multi-band grid of numeric reflectance values.
// Implementations stream pixel blocks so callers never need the whole
// grid in memory at once.
type Raster interface {
	Width() int
	Height() int
	Bands() int
	CRS() geo.CRS
	Transform() GeoTransform
	// NoData returns the sentinel value marking invalid pixels, if any.
	NoData() (float64, bool)
	// ReadBlock reads a w×h window of one band (0-based) into a row-major
	// float64 slice of length w*h. The window must lie inside the raster.
	ReadBlock(band, x, y, w, h int) ([]float64, error)
	Close() error
}

// Open opens a raster file by extension. ENVI flat-binary rasters
// (.dat/.bsq/.img with a .hdr sidecar) are the supported on-disk format.
func Open(path string) (Raster, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dat", ".bsq", ".img":
		return OpenENVI(path)
	default:
		return nil, eris.Wrapf(geo.ErrUnsupportedFormat, "raster: %s", path)
	}
}

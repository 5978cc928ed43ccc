package raster

import (
	"github.com/rotisserie/eris"

	"github.com/parkscope/greencover/internal/geo"
)

// MemoryRaster holds all band data in memory, band-sequential. It backs
// synthetic inputs in tests and small derived products.
type MemoryRaster struct {
	width, height, bands int
	crs                  geo.CRS
	transform            GeoTransform
	noData               float64
	hasNoData            bool
	data                 []float64
}

// NewMemory wraps band-sequential pixel data as a Raster. The data slice
// must hold exactly bands*height*width values.
func NewMemory(width, height, bands int, crs geo.CRS, transform GeoTransform, data []float64) (*MemoryRaster, error) {
	if width <= 0 || height <= 0 || bands <= 0 {
		return nil, eris.Errorf("invalid raster dimensions %dx%dx%d", width, height, bands)
	}
	if len(data) != width*height*bands {
		return nil, eris.Errorf("data length %d does not match %dx%dx%d", len(data), width, height, bands)
	}
	return &MemoryRaster{
		width:     width,
		height:    height,
		bands:     bands,
		crs:       crs,
		transform: transform,
		data:      data,
	}, nil
}

// SetNoData marks a sentinel value as missing data.
func (r *MemoryRaster) SetNoData(v float64) {
	r.noData = v
	r.hasNoData = true
}

func (r *MemoryRaster) Width() int              { return r.width }
func (r *MemoryRaster) Height() int             { return r.height }
func (r *MemoryRaster) Bands() int              { return r.bands }
func (r *MemoryRaster) CRS() geo.CRS            { return r.crs }
func (r *MemoryRaster) Transform() GeoTransform { return r.transform }
func (r *MemoryRaster) NoData() (float64, bool) { return r.noData, r.hasNoData }
func (r *MemoryRaster) Close() error            { return nil }

func (r *MemoryRaster) ReadBlock(band, x, y, w, h int) ([]float64, error) {
	if band < 0 || band >= r.bands {
		return nil, eris.Errorf("band %d out of range [0,%d)", band, r.bands)
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > r.width || y+h > r.height {
		return nil, eris.Errorf("block %d,%d %dx%d outside raster %dx%d", x, y, w, h, r.width, r.height)
	}
	out := make([]float64, w*h)
	base := band * r.width * r.height
	for row := 0; row < h; row++ {
		src := base + (y+row)*r.width + x
		copy(out[row*w:(row+1)*w], r.data[src:src+w])
	}
	return out, nil
}

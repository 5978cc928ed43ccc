package raster

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/parkscope/greencover/internal/geo"
)

// ENVIRaster reads band-sequential (BSQ) flat-binary rasters with an ENVI
// text header sidecar. Blocks are read on demand through an os.File, so a
// raster of tens of millions of pixels costs one row buffer at a time.
type ENVIRaster struct {
	f         *os.File
	width     int
	height    int
	bands     int
	dataType  int
	byteOrder binary.ByteOrder
	offset    int64
	crs       geo.CRS
	transform GeoTransform
	noData    float64
	hasNoData bool
}

// bytes per element for the ENVI data type codes we accept.
var enviTypeSize = map[int]int{
	1:  1, // uint8
	2:  2, // int16
	3:  4, // int32
	4:  4, // float32
	5:  8, // float64
	12: 2, // uint16
}

// OpenENVI opens an ENVI raster. The header is the same path with a .hdr
// extension (either replacing the data extension or appended to it).
func OpenENVI(path string) (*ENVIRaster, error) {
	hdr, err := findHeader(path)
	if err != nil {
		return nil, err
	}
	fields, err := parseHeader(hdr)
	if err != nil {
		return nil, err
	}

	r := &ENVIRaster{byteOrder: binary.LittleEndian}

	if r.width, err = intField(fields, "samples"); err != nil {
		return nil, err
	}
	if r.height, err = intField(fields, "lines"); err != nil {
		return nil, err
	}
	if r.bands, err = intField(fields, "bands"); err != nil {
		return nil, err
	}
	if r.dataType, err = intField(fields, "data type"); err != nil {
		return nil, err
	}
	if _, ok := enviTypeSize[r.dataType]; !ok {
		return nil, eris.Wrapf(geo.ErrUnsupportedFormat, "raster: ENVI data type %d", r.dataType)
	}

	if il, ok := fields["interleave"]; ok && !strings.EqualFold(il, "bsq") {
		return nil, eris.Wrapf(geo.ErrUnsupportedFormat, "raster: ENVI interleave %q (only bsq)", il)
	}
	if bo, ok := fields["byte order"]; ok && strings.TrimSpace(bo) == "1" {
		r.byteOrder = binary.BigEndian
	}
	if off, ok := fields["header offset"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(off))
		if err != nil {
			return nil, eris.Errorf("raster: bad header offset %q", off)
		}
		r.offset = int64(n)
	}
	if nd, ok := fields["data ignore value"]; ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(nd), 64)
		if err != nil {
			return nil, eris.Errorf("raster: bad data ignore value %q", nd)
		}
		r.noData, r.hasNoData = v, true
	}

	if mi, ok := fields["map info"]; ok {
		if r.transform, err = parseMapInfo(mi); err != nil {
			return nil, err
		}
	} else {
		// Pixel space fallback: unit pixels, north-up.
		r.transform = GeoTransform{0, 1, 0, 0, 0, -1}
	}

	r.crs = headerCRS(fields)

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	r.f = f
	return r, nil
}

func (r *ENVIRaster) Width() int              { return r.width }
func (r *ENVIRaster) Height() int             { return r.height }
func (r *ENVIRaster) Bands() int              { return r.bands }
func (r *ENVIRaster) CRS() geo.CRS            { return r.crs }
func (r *ENVIRaster) Transform() GeoTransform { return r.transform }
func (r *ENVIRaster) NoData() (float64, bool) { return r.noData, r.hasNoData }
func (r *ENVIRaster) Close() error            { return r.f.Close() }

// ReadBlock reads a window of one band, one raster row per pread.
func (r *ENVIRaster) ReadBlock(band, x, y, w, h int) ([]float64, error) {
	if band < 0 || band >= r.bands {
		return nil, eris.Errorf("raster: band %d out of range [0,%d)", band, r.bands)
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > r.width || y+h > r.height {
		return nil, eris.Errorf("raster: window %dx%d+%d+%d outside %dx%d", w, h, x, y, r.width, r.height)
	}

	size := enviTypeSize[r.dataType]
	out := make([]float64, 0, w*h)
	buf := make([]byte, w*size)
	bandBase := r.offset + int64(band)*int64(r.height)*int64(r.width)*int64(size)

	for row := y; row < y+h; row++ {
		off := bandBase + (int64(row)*int64(r.width)+int64(x))*int64(size)
		if _, err := r.f.ReadAt(buf, off); err != nil {
			return nil, eris.Wrapf(err, "raster: read row %d", row)
		}
		for i := 0; i < w; i++ {
			out = append(out, r.decode(buf[i*size:(i+1)*size]))
		}
	}
	return out, nil
}

func (r *ENVIRaster) decode(b []byte) float64 {
	switch r.dataType {
	case 1:
		return float64(b[0])
	case 2:
		return float64(int16(r.byteOrder.Uint16(b)))
	case 3:
		return float64(int32(r.byteOrder.Uint32(b)))
	case 4:
		return float64(math.Float32frombits(r.byteOrder.Uint32(b)))
	case 5:
		return math.Float64frombits(r.byteOrder.Uint64(b))
	case 12:
		return float64(r.byteOrder.Uint16(b))
	}
	return math.NaN()
}

// findHeader locates the .hdr sidecar: data.hdr next to data.dat, or the
// appended form data.dat.hdr.
func findHeader(path string) (string, error) {
	replaced := strings.TrimSuffix(path, filepath.Ext(path)) + ".hdr"
	if _, err := os.Stat(replaced); err == nil {
		return replaced, nil
	}
	appended := path + ".hdr"
	if _, err := os.Stat(appended); err == nil {
		return appended, nil
	}
	return "", eris.Errorf("raster: no ENVI header for %s", path)
}

// parseHeader reads "key = value" pairs; brace-enclosed values may span
// multiple lines.
func parseHeader(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: read header %s", path)
	}
	text := string(data)
	if !strings.HasPrefix(strings.TrimSpace(text), "ENVI") {
		return nil, eris.Wrapf(geo.ErrUnsupportedFormat, "raster: %s is not an ENVI header", path)
	}

	fields := make(map[string]string)
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:eq]))
		val := strings.TrimSpace(line[eq+1:])

		if strings.HasPrefix(val, "{") {
			for !strings.Contains(val, "}") && i+1 < len(lines) {
				i++
				val += " " + strings.TrimSpace(lines[i])
			}
			val = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(val, "{"), "}"))
		}
		fields[key] = val
	}
	return fields, nil
}

func intField(fields map[string]string, key string) (int, error) {
	v, ok := fields[key]
	if !ok {
		return 0, eris.Errorf("raster: ENVI header missing %q", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, eris.Errorf("raster: bad ENVI %s value %q", key, v)
	}
	return n, nil
}

// parseMapInfo builds the geotransform from an ENVI map info field:
// {projection, ref col, ref row, easting, northing, xres, yres, ...}
// where the reference pixel is 1-based.
func parseMapInfo(mi string) (GeoTransform, error) {
	parts := strings.Split(mi, ",")
	if len(parts) < 7 {
		return GeoTransform{}, eris.Errorf("raster: short map info %q", mi)
	}
	nums := make([]float64, 6)
	for i := 1; i <= 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return GeoTransform{}, eris.Errorf("raster: bad map info field %q", parts[i])
		}
		nums[i-1] = v
	}
	refCol, refRow := nums[0], nums[1]
	easting, northing := nums[2], nums[3]
	xres, yres := nums[4], nums[5]

	originX := easting - (refCol-1)*xres
	originY := northing + (refRow-1)*yres
	return GeoTransform{originX, xres, 0, originY, 0, -yres}, nil
}

// headerCRS resolves the raster CRS from the coordinate system WKT when
// present, else from the map info projection name.
func headerCRS(fields map[string]string) geo.CRS {
	if wkt, ok := fields["coordinate system string"]; ok {
		if crs, found := geo.CRSFromWKT(wkt); found {
			return crs
		}
	}
	mi, ok := fields["map info"]
	if !ok {
		return geo.CRS{}
	}
	parts := strings.Split(mi, ",")
	proj := strings.TrimSpace(parts[0])
	switch {
	case strings.EqualFold(proj, "Geographic Lat/Lon"):
		return geo.CRS{Code: 4326}
	case strings.EqualFold(proj, "UTM") && len(parts) >= 9:
		zone, err := strconv.Atoi(strings.TrimSpace(parts[7]))
		if err != nil || zone < 1 || zone > 60 {
			return geo.CRS{}
		}
		if strings.EqualFold(strings.TrimSpace(parts[8]), "South") {
			return geo.CRS{Code: 32700 + zone}
		}
		return geo.CRS{Code: 32600 + zone}
	}
	return geo.CRS{}
}

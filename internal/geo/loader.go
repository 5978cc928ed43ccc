package geo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// ErrUnsupportedFormat is returned before any processing when an input file
// extension is not one of the recognized geometry or raster formats.
var ErrUnsupportedFormat = eris.New("unsupported file format")

// Feature is one named boundary polygon from a geometry source.
type Feature struct {
	Name     string
	Geometry *geom.MultiPolygon
}

// BoundaryCollection holds the named polygon features of one boundary file
// together with its coordinate reference system. Immutable once loaded.
type BoundaryCollection struct {
	Path     string
	CRS      CRS
	Features []Feature
}

// Bounds returns the envelope of all features as (minX, minY, maxX, maxY).
func (c *BoundaryCollection) Bounds() (float64, float64, float64, float64) {
	b := geom.NewBounds(geom.XY)
	for _, f := range c.Features {
		b.Extend(f.Geometry)
	}
	return b.Min(0), b.Min(1), b.Max(0), b.Max(1)
}

// Names returns the feature names in file order.
func (c *BoundaryCollection) Names() []string {
	names := make([]string, len(c.Features))
	for i, f := range c.Features {
		names[i] = f.Name
	}
	return names
}

// LoadBoundaries reads a boundary file into a BoundaryCollection.
// Supported formats: ESRI shapefile (.shp, with optional .prj sidecar) and
// GeoJSON (.geojson/.json, assumed WGS84 per RFC 7946).
func LoadBoundaries(path string) (*BoundaryCollection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return loadShapefile(path)
	case ".geojson", ".json":
		return loadGeoJSON(path)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "geo: %s", path)
	}
}

func loadShapefile(path string) (*BoundaryCollection, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := nameFieldIndex(reader.Fields())

	col := &BoundaryCollection{Path: path, CRS: sidecarCRS(path)}
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := shpPolygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		var name string
		if nameIdx >= 0 {
			name = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}
		col.Features = append(col.Features, Feature{Name: name, Geometry: mp})
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped non-polygon shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(col.Features) == 0 {
		return nil, eris.Errorf("geo: no polygon features in %s", path)
	}
	return col, nil
}

func loadGeoJSON(path string) (*BoundaryCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "geo: parse geojson %s", path)
	}

	// RFC 7946 fixes the GeoJSON CRS to WGS84.
	col := &BoundaryCollection{Path: path, CRS: CRS{Code: epsgWGS84}}

	for _, f := range fc.Features {
		var mp *geom.MultiPolygon
		switch g := f.Geometry.(type) {
		case *geom.Polygon:
			mp = polygonToMultiPolygon(g)
		case *geom.MultiPolygon:
			mp = cloneMultiPolygon(g)
		default:
			continue
		}
		col.Features = append(col.Features, Feature{Name: featureName(f.Properties), Geometry: forceXY(mp)})
	}

	if len(col.Features) == 0 {
		return nil, eris.Errorf("geo: no polygon features in %s", path)
	}
	return col, nil
}

// nameFieldIndex locates the attribute column holding feature names:
// an exact "NAME" field wins, otherwise the first field containing "name".
func nameFieldIndex(fields []shp.Field) int {
	contains := -1
	for i, f := range fields {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		if name == "name" {
			return i
		}
		if contains < 0 && strings.Contains(name, "name") {
			contains = i
		}
	}
	return contains
}

func featureName(props map[string]any) string {
	for _, key := range []string{"NAME", "name", "Name"} {
		if v, ok := props[key]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// sidecarCRS reads the .prj next to a shapefile. Missing or unparseable
// sidecars fall back to WGS84, the convention of the source data we ingest.
func sidecarCRS(shpPath string) CRS {
	prjPath := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
	data, err := os.ReadFile(prjPath)
	if err != nil {
		return CRS{Code: epsgWGS84}
	}
	wkt := string(data)
	if crs, ok := CRSFromWKT(wkt); ok {
		return crs
	}
	// No AUTHORITY clause; recognize plain WGS84 geographic definitions.
	if strings.HasPrefix(strings.TrimSpace(wkt), "GEOGCS") && strings.Contains(wkt, "WGS") {
		return CRS{Code: epsgWGS84}
	}
	zap.L().Warn("geo: could not determine CRS from .prj, treating as unknown",
		zap.String("path", prjPath))
	return CRS{}
}

// shpPolygonToMultiPolygon converts a shapefile polygon record. Every part
// becomes a single-ring polygon; ring orientation is ignored because the
// clipping stage uses the even-odd rule, which handles holes either way.
func shpPolygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("geo: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geo: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func polygonToMultiPolygon(p *geom.Polygon) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(p.Layout())
	flat := make([]float64, len(p.FlatCoords()))
	copy(flat, p.FlatCoords())
	ends := make([]int, len(p.Ends()))
	copy(ends, p.Ends())
	_ = mp.Push(geom.NewPolygonFlat(p.Layout(), flat, ends))
	return mp
}

// forceXY drops Z and M dimensions so clipping and reconciliation can rely
// on two-value positions. GeoJSON permits [lon, lat, z] vertices.
func forceXY(mp *geom.MultiPolygon) *geom.MultiPolygon {
	layout := mp.Layout()
	if layout == geom.XY {
		return mp
	}
	stride := layout.Stride()

	src := mp.FlatCoords()
	flat := make([]float64, 0, len(src)/stride*2)
	for i := 0; i+1 < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}

	endss := make([][]int, len(mp.Endss()))
	for i, ends := range mp.Endss() {
		endss[i] = make([]int, len(ends))
		for j, end := range ends {
			endss[i][j] = end / stride * 2
		}
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}

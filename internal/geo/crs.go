package geo

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Kind classifies a coordinate reference system by its geometric model.
type Kind int

const (
	KindUnknown Kind = iota
	KindGeographic
	KindProjected
)

func (k Kind) String() string {
	switch k {
	case KindGeographic:
		return "geographic"
	case KindProjected:
		return "projected"
	default:
		return "unknown"
	}
}

// CRS identifies a coordinate reference system by EPSG code.
type CRS struct {
	Code int
}

func (c CRS) String() string {
	if c.Code == 0 {
		return "unknown"
	}
	return fmt.Sprintf("EPSG:%d", c.Code)
}

// Kind reports whether the CRS is geographic (degrees) or projected
// (linear units). EPSG reserves the 4000–4999 block for geographic
// systems; everything else we recognize is projected.
func (c CRS) Kind() Kind {
	switch {
	case c.Code == 0:
		return KindUnknown
	case c.Code >= 4000 && c.Code < 5000:
		return KindGeographic
	default:
		return KindProjected
	}
}

const (
	epsgWGS84       = 4326
	epsgWebMercator = 3857
)

// ParseCRS parses identifiers like "EPSG:4326", "epsg:3857" or a bare code.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, eris.New("geo: empty CRS identifier")
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if !strings.EqualFold(s[:i], "EPSG") {
			return CRS{}, eris.Errorf("geo: unsupported CRS authority %q", s[:i])
		}
		s = s[i+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return CRS{}, eris.Errorf("geo: invalid EPSG code %q", s)
	}
	return CRS{Code: code}, nil
}

var wktAuthority = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)

// CRSFromWKT extracts the EPSG code from a WKT definition (shapefile .prj
// sidecars, ENVI coordinate system strings). The last AUTHORITY clause is
// the one describing the whole CRS rather than a nested datum or unit.
func CRSFromWKT(wkt string) (CRS, bool) {
	matches := wktAuthority.FindAllStringSubmatch(wkt, -1)
	if len(matches) == 0 {
		return CRS{}, false
	}
	code, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return CRS{}, false
	}
	return CRS{Code: code}, true
}

// Compatibility is the outcome of comparing a geometry CRS with a raster CRS.
type Compatibility int

const (
	Incompatible Compatibility = iota
	ReprojectionRecommended
	Compatible
)

func (c Compatibility) String() string {
	switch c {
	case Compatible:
		return "compatible"
	case ReprojectionRecommended:
		return "reprojection-recommended"
	default:
		return "incompatible"
	}
}

// Reconciliation carries the compatibility verdict and, unless incompatible,
// a copy of the geometry expressed in the raster's coordinate space.
type Reconciliation struct {
	Status   Compatibility
	Geometry *geom.MultiPolygon
	Warning  string
}

// Reconcile compares the geometry and raster coordinate systems and returns
// the geometry ready for clipping in raster space. Inputs are never mutated;
// the returned geometry is always a copy. Policy:
//   - identical EPSG codes: compatible, identity copy
//   - WGS84 ↔ Web Mercator: compatible, closed-form transform applied
//   - both geographic or both projected but different codes: analysis may
//     proceed on the untransformed copy, flagged reprojection-recommended
//   - geographic vs projected with no available transform: incompatible
func Reconcile(g *geom.MultiPolygon, geomCRS, rasterCRS CRS) Reconciliation {
	if geomCRS.Code == rasterCRS.Code && geomCRS.Code != 0 {
		return Reconciliation{Status: Compatible, Geometry: cloneMultiPolygon(g)}
	}

	if geomCRS.Code == epsgWGS84 && rasterCRS.Code == epsgWebMercator {
		return Reconciliation{Status: Compatible, Geometry: transformMultiPolygon(g, lonLatToMercator)}
	}
	if geomCRS.Code == epsgWebMercator && rasterCRS.Code == epsgWGS84 {
		return Reconciliation{Status: Compatible, Geometry: transformMultiPolygon(g, mercatorToLonLat)}
	}

	gk, rk := geomCRS.Kind(), rasterCRS.Kind()
	if gk == KindUnknown || rk == KindUnknown {
		return Reconciliation{
			Status:   ReprojectionRecommended,
			Geometry: cloneMultiPolygon(g),
			Warning:  fmt.Sprintf("unrecognized CRS pair %s / %s, proceeding without transform", geomCRS, rasterCRS),
		}
	}
	if gk == rk {
		return Reconciliation{
			Status:   ReprojectionRecommended,
			Geometry: cloneMultiPolygon(g),
			Warning:  fmt.Sprintf("both %s but %s != %s, consider reprojecting to a common CRS", gk, geomCRS, rasterCRS),
		}
	}

	return Reconciliation{Status: Incompatible}
}

const earthRadiusM = 6378137.0

// lonLatToMercator projects WGS84 degrees onto spherical Web Mercator meters.
func lonLatToMercator(lon, lat float64) (float64, float64) {
	// Clamp to the Mercator latitude limit to keep tan finite.
	if lat > 85.06 {
		lat = 85.06
	}
	if lat < -85.06 {
		lat = -85.06
	}
	x := earthRadiusM * lon * math.Pi / 180
	y := earthRadiusM * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

// mercatorToLonLat is the inverse of lonLatToMercator.
func mercatorToLonLat(x, y float64) (float64, float64) {
	lon := x / earthRadiusM * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/earthRadiusM)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

func cloneMultiPolygon(g *geom.MultiPolygon) *geom.MultiPolygon {
	flat := make([]float64, len(g.FlatCoords()))
	copy(flat, g.FlatCoords())
	return geom.NewMultiPolygonFlat(g.Layout(), flat, cloneEndss(g.Endss()))
}

func transformMultiPolygon(g *geom.MultiPolygon, fn func(x, y float64) (float64, float64)) *geom.MultiPolygon {
	stride := g.Layout().Stride()
	src := g.FlatCoords()
	flat := make([]float64, len(src))
	copy(flat, src)
	for i := 0; i+1 < len(flat); i += stride {
		flat[i], flat[i+1] = fn(flat[i], flat[i+1])
	}
	return geom.NewMultiPolygonFlat(g.Layout(), flat, cloneEndss(g.Endss()))
}

func cloneEndss(endss [][]int) [][]int {
	out := make([][]int, len(endss))
	for i, ends := range endss {
		out[i] = make([]int, len(ends))
		copy(out[i], ends)
	}
	return out
}

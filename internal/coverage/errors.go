package coverage

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/parkscope/greencover/internal/geo"
)

var (
	// ErrCityNotFound means no boundary feature matched the requested city.
	ErrCityNotFound = eris.New("city not found in boundary data")

	// ErrAmbiguousCity means a partial city name matched more than one
	// boundary feature. Callers must disambiguate rather than guess.
	ErrAmbiguousCity = eris.New("city name matches multiple boundaries")

	// ErrNoValidPixels means the clipped boundary contained no usable
	// pixels. This is distinct from a result of 0% coverage.
	ErrNoValidPixels = eris.New("no valid pixels within city boundary")

	// ErrComputeTimeout means an analysis exceeded its per-item deadline.
	ErrComputeTimeout = eris.New("coverage computation timed out")
)

// SpatialMismatchError reports boundary and raster coordinate systems that
// cannot be reconciled. The hint tells the operator what to fix.
type SpatialMismatchError struct {
	GeometryCRS geo.CRS
	RasterCRS   geo.CRS
}

func (e *SpatialMismatchError) Error() string {
	return fmt.Sprintf("incompatible coordinate systems: boundary %s vs raster %s", e.GeometryCRS, e.RasterCRS)
}

// Hint suggests a remediation for the mismatch.
func (e *SpatialMismatchError) Hint() string {
	return fmt.Sprintf("reproject the boundary data to %s, or the raster to %s, before analysis", e.RasterCRS, e.GeometryCRS)
}

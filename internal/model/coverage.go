package model

// CoverageResult is the output of one NDVI coverage analysis for a city.
// Percentages are in [0, 100]; NDVI values are in [-1, 1]. Pixel counts
// cover only valid pixels inside the clipped boundary — nodata pixels and
// zero-denominator pixels are excluded, not zeroed.
type CoverageResult struct {
	CityName           string  `json:"city_name"`
	CoveragePercentage float64 `json:"green_coverage_percentage"`
	TotalPixels        int64   `json:"total_pixels"`
	GreenPixels        int64   `json:"green_pixels"`
	TotalAreaM2        float64 `json:"total_area_m2"`
	GreenAreaM2        float64 `json:"green_area_m2"`
	TotalAreaKm2       float64 `json:"total_area_km2"`
	GreenAreaKm2       float64 `json:"green_area_km2"`
	NDVIThreshold      float64 `json:"ndvi_threshold"`
	MeanNDVI           float64 `json:"mean_ndvi"`
	StdNDVI            float64 `json:"std_ndvi"`
	MinNDVI            float64 `json:"min_ndvi"`
	MaxNDVI            float64 `json:"max_ndvi"`
	CoordinateSystem   string  `json:"coordinate_system"`
	Year               int     `json:"year"`
	DataSource         string  `json:"data_source,omitempty"`
	MeasurementMethod  string  `json:"measurement_method,omitempty"`
	BoundaryPath       string  `json:"boundary_path,omitempty"`
	RasterPath         string  `json:"raster_path,omitempty"`
}

package geo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// writeTestShapefile creates a shapefile with named square features.
func writeTestShapefile(t *testing.T, dir string, names []string) string {
	t.Helper()
	path := filepath.Join(dir, "cities.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 50)}))

	for n, name := range names {
		off := float64(n * 20)
		pl := shp.NewPolyLine([][]shp.Point{{
			{X: off, Y: 0}, {X: off + 10, Y: 0}, {X: off + 10, Y: 10}, {X: off, Y: 10}, {X: off, Y: 0},
		}})
		poly := shp.Polygon(*pl)
		w.Write(&poly)
		require.NoError(t, w.WriteAttribute(n, 0, name))
	}
	w.Close()
	return path
}

const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`

func TestLoadBoundaries_Shapefile(t *testing.T) {
	dir := t.TempDir()
	path := writeTestShapefile(t, dir, []string{"Alpha", "Beta"})
	prj := filepath.Join(dir, "cities.prj")
	require.NoError(t, os.WriteFile(prj, []byte(wgs84PRJ), 0o644))

	col, err := LoadBoundaries(path)
	require.NoError(t, err)

	assert.Equal(t, 4326, col.CRS.Code)
	require.Len(t, col.Features, 2)
	assert.Equal(t, []string{"Alpha", "Beta"}, col.Names())

	minX, minY, maxX, maxY := col.Bounds()
	assert.Equal(t, 0.0, minX)
	assert.Equal(t, 0.0, minY)
	assert.Equal(t, 30.0, maxX)
	assert.Equal(t, 10.0, maxY)

	assert.True(t, ContainsPoint(col.Features[0].Geometry, 5, 5))
	assert.False(t, ContainsPoint(col.Features[0].Geometry, 25, 5))
	assert.True(t, ContainsPoint(col.Features[1].Geometry, 25, 5))
}

func TestLoadBoundaries_Shapefile_NoPrj(t *testing.T) {
	dir := t.TempDir()
	path := writeTestShapefile(t, dir, []string{"Alpha"})

	col, err := LoadBoundaries(path)
	require.NoError(t, err)
	assert.Equal(t, 4326, col.CRS.Code, "defaults to WGS84 without a .prj")
}

func TestLoadBoundaries_GeoJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cities.geojson")
	doc := `{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature",
				"properties": {"name": "Alpha"},
				"geometry": {
					"type": "Polygon",
					"coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]
				}
			},
			{
				"type": "Feature",
				"properties": {"NAME": "Beta"},
				"geometry": {
					"type": "MultiPolygon",
					"coordinates": [[[[20,0],[30,0],[30,10],[20,10],[20,0]]]]
				}
			}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	col, err := LoadBoundaries(path)
	require.NoError(t, err)

	assert.Equal(t, 4326, col.CRS.Code)
	require.Len(t, col.Features, 2)
	assert.Equal(t, "Alpha", col.Features[0].Name)
	assert.Equal(t, "Beta", col.Features[1].Name)
	assert.True(t, ContainsPoint(col.Features[1].Geometry, 25, 5))
}

func TestLoadBoundaries_GeoJSON_3DPositions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cities.geojson")
	doc := `{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature",
				"properties": {"name": "Alpha"},
				"geometry": {
					"type": "Polygon",
					"coordinates": [[[0,0,5],[10,0,5],[10,10,5],[0,10,5],[0,0,5]]]
				}
			},
			{
				"type": "Feature",
				"properties": {"name": "Beta"},
				"geometry": {
					"type": "MultiPolygon",
					"coordinates": [[[[20,0,5],[30,0,5],[30,10,5],[20,10,5],[20,0,5]]]]
				}
			}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	col, err := LoadBoundaries(path)
	require.NoError(t, err)
	require.Len(t, col.Features, 2)

	// Elevations are dropped on load so every consumer sees plain XY.
	for _, f := range col.Features {
		assert.Equal(t, geom.XY, f.Geometry.Layout(), f.Name)
	}
	assert.True(t, ContainsPoint(col.Features[0].Geometry, 1, 9))
	assert.True(t, ContainsPoint(col.Features[1].Geometry, 25, 5))
	assert.False(t, ContainsPoint(col.Features[0].Geometry, 15, 5))

	minX, minY, maxX, maxY := col.Bounds()
	assert.Equal(t, [4]float64{0, 0, 30, 10}, [4]float64{minX, minY, maxX, maxY})
}

func TestLoadBoundaries_UnsupportedFormat(t *testing.T) {
	_, err := LoadBoundaries("/tmp/boundaries.gpkg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadBoundaries_MissingFile(t *testing.T) {
	_, err := LoadBoundaries(filepath.Join(t.TempDir(), "absent.shp"))
	assert.Error(t, err)
}

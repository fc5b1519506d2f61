package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geohealth/access-cli/internal/config"
	"github.com/geohealth/access-cli/internal/model"
	"github.com/geohealth/access-cli/internal/store"
	"github.com/geohealth/access-cli/pkg/osrm"
)

const testBoundaryGeoJSON = `{
	"type": "FeatureCollection",
	"features": [{
		"type": "Feature",
		"properties": {"shapeName": "Golfe"},
		"geometry": {
			"type": "Polygon",
			"coordinates": [[[1.0, 6.0], [1.3, 6.0], [1.3, 6.3], [1.0, 6.3], [1.0, 6.0]]]
		}
	}]
}`

const testFacilitiesCSV = `name,type,latitude,longitude
Central Hospital,Hospital,6.15,1.15
North Clinic,Clinic,6.25,1.10
`

func writeTestInputs(t *testing.T) model.RunInput {
	t.Helper()
	dir := t.TempDir()

	boundaryPath := filepath.Join(dir, "districts.geojson")
	require.NoError(t, os.WriteFile(boundaryPath, []byte(testBoundaryGeoJSON), 0o644))

	facilityPath := filepath.Join(dir, "facilities.csv")
	require.NoError(t, os.WriteFile(facilityPath, []byte(testFacilitiesCSV), 0o644))

	return model.RunInput{
		District:     "Golfe",
		BoundaryPath: boundaryPath,
		FacilityPath: facilityPath,
		H3Resolution: 7,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Grid:    config.GridConfig{Resolution: 7},
		OSRM:    config.OSRMConfig{FallbackSpeedKmh: 30, MaxRetries: 1, BreakerThreshold: 5},
		Metrics: config.MetricsConfig{BandsKm: []float64{5, 10, 20}},
	}
}

// stubEngine returns a fixed road route for every request.
type stubEngine struct{}

func (stubEngine) Route(ctx context.Context, from, to osrm.Point) (*osrm.Route, error) {
	return &osrm.Route{DistanceKm: 6.5, DurationMin: 13}, nil
}

func TestPipeline_Run_NoStoreNoEngine(t *testing.T) {
	input := writeTestInputs(t)
	p := New(testConfig(), nil, nil)

	out, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Empty(t, out.RunID)
	assert.NotEmpty(t, out.Cells)
	assert.Equal(t, len(out.Cells), out.Result.Cells)

	// Without a raster every cell is weighted equally.
	assert.Equal(t, len(out.Cells), out.Result.PopulatedCells)
	assert.Equal(t, float64(len(out.Cells)), out.Result.TotalPopulation)

	// Without an engine every routed cell uses the straight-line fallback.
	assert.Zero(t, out.Result.RoutedCells)
	assert.Equal(t, len(out.Cells), out.Result.FallbackCells)
	for i := range out.Cells {
		c := &out.Cells[i]
		require.True(t, c.Assigned())
		assert.Equal(t, model.RouteSourceFallback, c.RouteSource)
		assert.Equal(t, c.StraightKm, c.RouteKm)
		assert.InDelta(t, c.StraightKm/30*60, c.TravelTimeMin, 1e-9)
	}

	// Two facility rows plus the district total, total last.
	require.Len(t, out.Metrics, 3)
	assert.Equal(t, model.DistrictTotalName, out.Metrics[2].FacilityName)
	assert.Equal(t, "Golfe", out.Metrics[0].District)
}

func TestPipeline_Run_WithEngine(t *testing.T) {
	input := writeTestInputs(t)
	p := New(testConfig(), nil, stubEngine{})

	out, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, len(out.Cells), out.Result.RoutedCells)
	assert.Zero(t, out.Result.FallbackCells)
	for i := range out.Cells {
		assert.Equal(t, model.RouteSourceOSRM, out.Cells[i].RouteSource)
		assert.Equal(t, 6.5, out.Cells[i].RouteKm)
	}
}

func TestPipeline_Run_Persists(t *testing.T) {
	input := writeTestInputs(t)
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	p := New(testConfig(), st, nil)
	out, err := p.Run(ctx, input)
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)

	run, err := st.GetRun(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, len(out.Cells), run.Result.Cells)
	assert.NotEmpty(t, run.Result.Phases)

	cells, err := st.GetCells(ctx, out.RunID)
	require.NoError(t, err)
	assert.Len(t, cells, len(out.Cells))

	rows, err := st.GetMetrics(ctx, out.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, len(out.Metrics))
}

func TestPipeline_Run_MissingBoundaryFails(t *testing.T) {
	input := writeTestInputs(t)
	input.BoundaryPath = filepath.Join(t.TempDir(), "missing.geojson")
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	p := New(testConfig(), st, nil)
	out, err := p.Run(ctx, input)
	require.Error(t, err)
	require.NotEmpty(t, out.RunID)

	run, err := st.GetRun(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.Result)
	assert.NotEmpty(t, run.Result.Error)
}

// writeTestRaster writes a 3x3 float32 GeoTIFF covering the test district:
// 0.1 degree pixels anchored at (1.0, 6.3), nodata -99, single strip.
func writeTestRaster(t *testing.T, dir string) string {
	t.Helper()
	le := binary.LittleEndian

	pixels := []float32{
		120, 80, -99,
		200, 0, 150,
		90, 60, 30,
	}
	raw := make([]byte, len(pixels)*4)
	for i, v := range pixels {
		le.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	dataOffset := uint32(8)
	ifdOffset := dataOffset + uint32(len(raw))
	const nEntries = 12
	scaleOff := ifdOffset + 2 + nEntries*12 + 4
	tieOff := scaleOff + 3*8

	var buf bytes.Buffer
	w16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	w32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	w64f := func(v float64) { var b [8]byte; le.PutUint64(b[:], math.Float64bits(v)); buf.Write(b[:]) }
	entry := func(tag, typ uint16, count, value uint32) { w16(tag); w16(typ); w32(count); w32(value) }

	buf.WriteString("II")
	w16(42)
	w32(ifdOffset)
	buf.Write(raw)

	w16(nEntries)
	entry(256, 3, 1, 3)  // ImageWidth
	entry(257, 3, 1, 3)  // ImageLength
	entry(258, 3, 1, 32) // BitsPerSample
	entry(259, 3, 1, 1)  // Compression: none
	entry(273, 4, 1, dataOffset)
	entry(277, 3, 1, 1) // SamplesPerPixel
	entry(278, 3, 1, 3) // RowsPerStrip
	entry(279, 4, 1, uint32(len(raw)))
	entry(339, 3, 1, 3) // SampleFormat: IEEE float
	entry(33550, 12, 3, scaleOff) // ModelPixelScale
	entry(33922, 12, 6, tieOff)   // ModelTiepoint
	w16(42113) // GDAL_NODATA, 4 ASCII bytes inline
	w16(2)
	w32(4)
	buf.WriteString("-99\x00")
	w32(0) // next IFD

	for _, v := range []float64{0.1, 0.1, 0} {
		w64f(v)
	}
	for _, v := range []float64{0, 0, 0, 1.0, 6.3, 0} {
		w64f(v)
	}

	path := filepath.Join(dir, "pop.tif")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestPipeline_Run_WithRaster(t *testing.T) {
	input := writeTestInputs(t)
	input.RasterPath = writeTestRaster(t, t.TempDir())

	p := New(testConfig(), nil, nil)
	out, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	// Positive in-district pixels sum to 730; cells only miss pixels whose
	// centers fall outside every hexagon near the district edge.
	assert.Positive(t, out.Result.TotalPopulation)
	assert.LessOrEqual(t, out.Result.TotalPopulation, 730.0)
	assert.Positive(t, out.Result.PopulatedCells)

	var loadRaster *model.PhaseResult
	for i := range out.Result.Phases {
		if out.Result.Phases[i].Name == "load_raster" {
			loadRaster = &out.Result.Phases[i]
		}
	}
	require.NotNil(t, loadRaster)
	assert.Equal(t, model.PhaseStatusComplete, loadRaster.Status)
	assert.Equal(t, 3, loadRaster.Metadata["width"])
	assert.Equal(t, 3, loadRaster.Metadata["height"])
}

func TestPipeline_Run_NoFacilities(t *testing.T) {
	input := writeTestInputs(t)
	// Only unusable rows: the registry loads empty, cells stay unassigned,
	// and the report is the placeholder row rather than an error.
	require.NoError(t, os.WriteFile(input.FacilityPath,
		[]byte("name,type,latitude,longitude\nGhost Post,Clinic,95.0,1.2\n"), 0o644))

	p := New(testConfig(), nil, nil)
	out, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Zero(t, out.Result.Facilities)
	assert.Zero(t, out.Result.FallbackCells)
	for i := range out.Cells {
		assert.False(t, out.Cells[i].Assigned())
	}
	require.Len(t, out.Metrics, 1)
	assert.Equal(t, model.NoFacilitiesName, out.Metrics[0].FacilityName)
	assert.Equal(t, "Golfe", out.Metrics[0].District)
}

func TestLoadDistrict_UnsupportedFormat(t *testing.T) {
	_, err := loadDistrict("districts.gpkg", "Golfe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported boundary format")
}

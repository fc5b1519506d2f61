package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geohealth/access-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRunInput() model.RunInput {
	return model.RunInput{
		District:     "Golfe",
		BoundaryPath: "data/TGO_ADM2.geojson",
		FacilityPath: "data/facilities.csv",
		RasterPath:   "data/tgo_ppp_2020.tif",
		H3Resolution: 8,
	}
}

// --- Runs ---

func TestSQLite_CreateRun_And_GetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, "Golfe", run.Input.District)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, fetched.ID)
	assert.Equal(t, 8, fetched.Input.H3Resolution)
}

func TestSQLite_GetRun_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_UpdateRunStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	err = st.UpdateRunStatus(ctx, run.ID, model.RunStatusRouting)
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRouting, fetched.Status)
}

func TestSQLite_UpdateRunStatus_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateRunStatus(context.Background(), "nonexistent", model.RunStatusRouting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_UpdateRunResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	result := &model.RunResult{
		Cells:           1200,
		PopulatedCells:  950,
		Facilities:      14,
		TotalPopulation: 275431.5,
		RoutedCells:     940,
		FallbackCells:   10,
	}
	err = st.UpdateRunResult(ctx, run.ID, model.RunStatusComplete, result)
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, fetched.Status)
	require.NotNil(t, fetched.Result)
	assert.Equal(t, 1200, fetched.Result.Cells)
	assert.Equal(t, 275431.5, fetched.Result.TotalPopulation)
}

func TestSQLite_UpdateRunResult_Failed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	err = st.UpdateRunResult(ctx, run.ID, model.RunStatusFailed,
		&model.RunResult{Error: "routing engine unreachable"})
	require.NoError(t, err)

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, fetched.Status)
	assert.Equal(t, "routing engine unreachable", fetched.Result.Error)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)
	other := testRunInput()
	other.District = "Lacs"
	_, err = st.CreateRun(ctx, other)
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLite_ListRuns_FilterByDistrict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)
	other := testRunInput()
	other.District = "Lacs"
	_, err = st.CreateRun(ctx, other)
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{District: "Golfe", Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestSQLite_ListRuns_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)
	err = st.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete)
	require.NoError(t, err)

	_, err = st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

// --- Phases ---

func TestSQLite_CreatePhase_And_CompletePhase(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	phase, err := st.CreatePhase(ctx, run.ID, "tiling")
	require.NoError(t, err)
	assert.NotEmpty(t, phase.ID)
	assert.Equal(t, "tiling", phase.Name)
	assert.Equal(t, model.PhaseStatusRunning, phase.Status)

	err = st.CompletePhase(ctx, phase.ID, &model.PhaseResult{
		Name:   "tiling",
		Status: model.PhaseStatusComplete,
		Metadata: map[string]any{
			"cells": 1200,
		},
	})
	require.NoError(t, err)
}

// --- Cells ---

func testCells() []model.GridCell {
	return []model.GridCell{
		{
			HexID: "881f1d489bfffff", CentroidLat: 6.21, CentroidLng: 1.31,
			AreaKm2: 0.74, Population: 812.4,
			FacilityID: 2, FacilityName: "Central Hospital",
			FacilityLat: 6.19, FacilityLng: 1.28, StraightKm: 4.1,
			RouteKm: 5.6, TravelTimeMin: 11.2, RouteSource: model.RouteSourceOSRM,
		},
		{
			HexID: "881f1d489ffffff", CentroidLat: 6.24, CentroidLng: 1.35,
			AreaKm2: 0.74, Population: 0,
		},
	}
}

func TestSQLite_SaveCells_And_GetCells(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	require.NoError(t, st.SaveCells(ctx, run.ID, testCells()))

	cells, err := st.GetCells(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "881f1d489bfffff", cells[0].HexID)
	assert.Equal(t, "Central Hospital", cells[0].FacilityName)
	assert.Equal(t, model.RouteSourceOSRM, cells[0].RouteSource)
	assert.Equal(t, 812.4, cells[0].Population)
}

func TestSQLite_SaveCells_ReplacesExisting(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	require.NoError(t, st.SaveCells(ctx, run.ID, testCells()))

	// Saving again with updated routing results replaces, not appends.
	updated := testCells()
	updated[0].RouteKm = 7.2
	require.NoError(t, st.SaveCells(ctx, run.ID, updated))

	cells, err := st.GetCells(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, 7.2, cells[0].RouteKm)
}

// --- Metrics ---

func testMetrics() []model.FacilityMetrics {
	return []model.FacilityMetrics{
		{
			District: "Golfe", FacilityName: "Central Hospital",
			CellsServed: 420, PopulationServed: 88000,
			MeanDistanceKm: 3.4, MedianDistanceKm: 3.1,
			MinDistanceKm: 0.2, MaxDistanceKm: 9.8,
			PopWeightedDistanceKm: 3.9, PopWeightedTimeMin: 8.1,
			PopWithinBands: []float64{61000, 85000, 88000},
			PctWithinBands: []float64{69.3, 96.6, 100},
		},
		{
			District: "Golfe", FacilityName: model.DistrictTotalName,
			CellsServed: 950, PopulationServed: 275431.5,
			MeanDistanceKm: 4.8, MedianDistanceKm: 4.2,
			MinDistanceKm: 0.2, MaxDistanceKm: 18.4,
			PopWeightedDistanceKm: 5.2, PopWeightedTimeMin: 10.9,
			PopWithinBands: []float64{150000, 240000, 275431.5},
			PctWithinBands: []float64{54.5, 87.1, 100},
		},
	}
}

func TestSQLite_SaveMetrics_And_GetMetrics(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	require.NoError(t, st.SaveMetrics(ctx, run.ID, testMetrics()))

	rows, err := st.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Facility rows sort by name with the district total last.
	assert.Equal(t, "Central Hospital", rows[0].FacilityName)
	assert.Equal(t, model.DistrictTotalName, rows[1].FacilityName)
	assert.Equal(t, []float64{61000, 85000, 88000}, rows[0].PopWithinBands)
	assert.Equal(t, 275431.5, rows[1].PopulationServed)
}

func TestSQLite_SaveMetrics_Upserts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, testRunInput())
	require.NoError(t, err)

	require.NoError(t, st.SaveMetrics(ctx, run.ID, testMetrics()))

	updated := testMetrics()
	updated[0].PopulationServed = 90000
	require.NoError(t, st.SaveMetrics(ctx, run.ID, updated))

	rows, err := st.GetMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, float64(90000), rows[0].PopulationServed)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.Migrate(context.Background())
	require.NoError(t, err)
}

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geohealth/access-cli/internal/model"
)

func sampleCells() []model.GridCell {
	return []model.GridCell{
		{HexID: "a1", FacilityName: "A", Population: 100, RouteKm: 2, TravelTimeMin: 4},
		{HexID: "a2", FacilityName: "A", Population: 300, RouteKm: 6, TravelTimeMin: 12},
		{HexID: "b1", FacilityName: "B", Population: 100, RouteKm: 12, TravelTimeMin: 24},
		{HexID: "empty", FacilityName: "A", Population: 0, RouteKm: 50},
		{HexID: "unassigned", Population: 80},
	}
}

func TestAggregate(t *testing.T) {
	rows, err := Aggregate("Golfe", sampleCells(), []float64{5, 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Unweighted statistics cover every assigned cell, including the
	// zero-population one; population only enters the weighted figures.
	a := rows[0]
	assert.Equal(t, "A", a.FacilityName)
	assert.Equal(t, "Golfe", a.District)
	assert.Equal(t, 3, a.CellsServed)
	assert.Equal(t, 400.0, a.PopulationServed)
	assert.InDelta(t, 58.0/3, a.MeanDistanceKm, 1e-9) // (2+6+50)/3
	assert.InDelta(t, 6.0, a.MedianDistanceKm, 1e-9)
	assert.InDelta(t, 2.0, a.MinDistanceKm, 1e-9)
	assert.InDelta(t, 50.0, a.MaxDistanceKm, 1e-9)
	assert.InDelta(t, 5.0, a.PopWeightedDistanceKm, 1e-9) // (100*2+300*6)/400
	assert.InDelta(t, 10.0, a.PopWeightedTimeMin, 1e-9)
	require.Len(t, a.PopWithinBands, 2)
	assert.InDelta(t, 100.0, a.PopWithinBands[0], 1e-9)
	assert.InDelta(t, 25.0, a.PctWithinBands[0], 1e-9)
	assert.InDelta(t, 400.0, a.PopWithinBands[1], 1e-9)
	assert.InDelta(t, 100.0, a.PctWithinBands[1], 1e-9)

	b := rows[1]
	assert.Equal(t, "B", b.FacilityName)
	assert.Equal(t, 1, b.CellsServed)
	assert.Zero(t, b.PopWithinBands[0])
	assert.Zero(t, b.PopWithinBands[1])

	total := rows[2]
	assert.Equal(t, model.DistrictTotalName, total.FacilityName)
	assert.Equal(t, 4, total.CellsServed)
	assert.Equal(t, 500.0, total.PopulationServed)
	assert.InDelta(t, 17.5, total.MeanDistanceKm, 1e-9) // (2+6+12+50)/4
	assert.InDelta(t, 6.4, total.PopWeightedDistanceKm, 1e-9) // (200+1800+1200)/500
	assert.InDelta(t, 50.0, total.MaxDistanceKm, 1e-9)
	assert.InDelta(t, 20.0, total.PctWithinBands[0], 1e-9)
	assert.InDelta(t, 80.0, total.PctWithinBands[1], 1e-9)
}

func TestAggregate_DefaultBands(t *testing.T) {
	rows, err := Aggregate("Golfe", sampleCells(), nil)
	require.NoError(t, err)
	assert.Len(t, rows[0].PopWithinBands, len(DefaultBandsKm))
}

func TestAggregate_NoAssignedCells(t *testing.T) {
	cells := []model.GridCell{
		{HexID: "x", Population: 10},
		{HexID: "y", Population: 20},
	}

	rows, err := Aggregate("Golfe", cells, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.NoFacilitiesName, rows[0].FacilityName)
	assert.Equal(t, "Golfe", rows[0].District)
	assert.Zero(t, rows[0].CellsServed)
	assert.Zero(t, rows[0].PopulationServed)
	assert.Len(t, rows[0].PopWithinBands, len(DefaultBandsKm))
}

func TestAggregate_EmptyInput(t *testing.T) {
	rows, err := Aggregate("Golfe", nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.NoFacilitiesName, rows[0].FacilityName)
}

func TestAggregate_ZeroPopulationGroup(t *testing.T) {
	cells := []model.GridCell{
		{HexID: "x", FacilityName: "A", Population: 0, RouteKm: 4, TravelTimeMin: 8},
		{HexID: "y", FacilityName: "A", Population: 0, RouteKm: 6, TravelTimeMin: 12},
	}

	rows, err := Aggregate("Golfe", cells, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Weighted figures fall back to unweighted means when the group's
	// population is zero.
	a := rows[0]
	assert.Equal(t, 2, a.CellsServed)
	assert.Zero(t, a.PopulationServed)
	assert.InDelta(t, 5.0, a.MeanDistanceKm, 1e-9)
	assert.InDelta(t, 5.0, a.PopWeightedDistanceKm, 1e-9)
	assert.InDelta(t, 10.0, a.PopWeightedTimeMin, 1e-9)
	assert.Zero(t, a.PctWithinBands[0])
}

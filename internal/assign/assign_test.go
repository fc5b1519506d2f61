package assign

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geohealth/access-cli/internal/model"
)

func TestHaversineKm(t *testing.T) {
	// Paris to London.
	d := HaversineKm(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 343.5, d, 1.0)

	// Same point.
	assert.Zero(t, HaversineKm(6.1, 1.2, 6.1, 1.2))

	// One degree of latitude is ~111.2 km anywhere.
	assert.InDelta(t, 111.2, HaversineKm(6.0, 1.2, 7.0, 1.2), 0.1)
}

func TestNewIndex_Empty(t *testing.T) {
	_, err := NewIndex(nil)
	assert.Error(t, err)
}

func TestNearest(t *testing.T) {
	facilities := []model.Facility{
		{ID: 0, Name: "West", Latitude: 6.10, Longitude: 1.00},
		{ID: 1, Name: "Center", Latitude: 6.10, Longitude: 1.20},
		{ID: 2, Name: "East", Latitude: 6.10, Longitude: 1.40},
	}

	ix, err := NewIndex(facilities)
	require.NoError(t, err)

	f, d := ix.Nearest(6.10, 1.19)
	assert.Equal(t, "Center", f.Name)
	assert.InDelta(t, 1.1, d, 0.05) // ~0.01° of longitude near the equator

	f, _ = ix.Nearest(6.12, 1.02)
	assert.Equal(t, "West", f.Name)

	f, _ = ix.Nearest(6.05, 1.39)
	assert.Equal(t, "East", f.Name)
}

// Tree search must agree with brute force over random points.
func TestNearest_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	facilities := make([]model.Facility, 50)
	for i := range facilities {
		facilities[i] = model.Facility{
			ID:        i,
			Name:      "F",
			Latitude:  6.0 + rng.Float64(),
			Longitude: 1.0 + rng.Float64(),
		}
	}

	ix, err := NewIndex(facilities)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		lat := 6.0 + rng.Float64()
		lng := 1.0 + rng.Float64()

		got, _ := ix.Nearest(lat, lng)

		best, bestD := -1, 0.0
		for j, f := range facilities {
			d := HaversineKm(lat, lng, f.Latitude, f.Longitude)
			if best < 0 || d < bestD {
				best, bestD = j, d
			}
		}
		assert.Equal(t, best, got.ID, "point (%f, %f)", lat, lng)
	}
}

func TestAssign(t *testing.T) {
	facilities := []model.Facility{
		{ID: 0, Name: "North", Latitude: 6.30, Longitude: 1.20},
		{ID: 1, Name: "South", Latitude: 6.00, Longitude: 1.20},
	}
	cells := []model.GridCell{
		{HexID: "a", CentroidLat: 6.28, CentroidLng: 1.21},
		{HexID: "b", CentroidLat: 6.02, CentroidLng: 1.18},
	}

	require.NoError(t, Assign(cells, facilities))

	assert.Equal(t, "North", cells[0].FacilityName)
	assert.Equal(t, 0, cells[0].FacilityID)
	assert.Equal(t, "South", cells[1].FacilityName)
	assert.Positive(t, cells[0].StraightKm)
	assert.True(t, cells[0].Assigned())
}

func TestAssign_NoFacilities(t *testing.T) {
	cells := []model.GridCell{
		{HexID: "a", CentroidLat: 6.28, CentroidLng: 1.21},
	}

	// An empty registry is a valid input: cells stay unassigned and the
	// aggregation reports a placeholder instead of failing the run.
	require.NoError(t, Assign(cells, nil))
	assert.False(t, cells[0].Assigned())
}

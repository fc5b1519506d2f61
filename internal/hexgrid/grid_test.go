package hexgrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/geohealth/access-cli/internal/model"
)

func squareDistrict(name string, minLng, minLat, maxLng, maxLat float64) model.District {
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		minLng, minLat,
		maxLng, minLat,
		maxLng, maxLat,
		minLng, maxLat,
		minLng, minLat,
	}, []int{10}).SetSRID(4326)

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	if err := mp.Push(poly); err != nil {
		panic(err)
	}
	return model.District{Name: name, Geometry: mp}
}

func TestGenerate(t *testing.T) {
	district := squareDistrict("Golfe", 1.0, 6.0, 1.3, 6.3)

	cells, err := Generate(district, 7)
	require.NoError(t, err)
	require.NotEmpty(t, cells)

	seen := make(map[string]struct{})
	for _, c := range cells {
		assert.NotEmpty(t, c.HexID)
		_, dup := seen[c.HexID]
		assert.False(t, dup, "duplicate cell %s", c.HexID)
		seen[c.HexID] = struct{}{}

		// Centroids stay close to the district (boundary cells can
		// poke slightly past the edge).
		assert.InDelta(t, 6.15, c.CentroidLat, 0.25)
		assert.InDelta(t, 1.15, c.CentroidLng, 0.25)
		assert.Positive(t, c.AreaKm2)

		require.NotNil(t, c.Boundary)
		flat := c.Boundary.LinearRing(0).FlatCoords()
		require.GreaterOrEqual(t, len(flat), 14) // hexagon ring, closed
		assert.Equal(t, flat[0], flat[len(flat)-2])
		assert.Equal(t, flat[1], flat[len(flat)-1])
	}

	// Resolution 8 hexagons are ~0.74 km²; a ~33x33 km square should tile
	// into far more cells at res 8 than res 7.
	cells8, err := Generate(district, 8)
	require.NoError(t, err)
	assert.Greater(t, len(cells8), len(cells))
}

func TestGenerate_SliverDistrictFallsBack(t *testing.T) {
	// Far smaller than one hexagon at res 6.
	district := squareDistrict("Sliver", 1.200, 6.200, 1.201, 6.201)

	cells, err := Generate(district, 6)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.NotEmpty(t, cells[0].HexID)
}

func TestGenerate_InvalidInputs(t *testing.T) {
	district := squareDistrict("Golfe", 1.0, 6.0, 1.3, 6.3)

	_, err := Generate(district, -1)
	assert.Error(t, err)
	_, err = Generate(district, 16)
	assert.Error(t, err)

	_, err = Generate(model.District{Name: "empty"}, 8)
	assert.Error(t, err)
}

func TestCellFromID(t *testing.T) {
	district := squareDistrict("Golfe", 1.0, 6.0, 1.1, 6.1)
	cells, err := Generate(district, 8)
	require.NoError(t, err)
	require.NotEmpty(t, cells)

	c, err := CellFromID(cells[0].HexID)
	require.NoError(t, err)
	assert.Equal(t, cells[0].HexID, c.String())

	_, err = CellFromID("not-a-hex-id")
	assert.Error(t, err)
}

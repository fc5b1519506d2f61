package route

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geohealth/access-cli/internal/model"
	"github.com/geohealth/access-cli/internal/resilience"
	"github.com/geohealth/access-cli/pkg/osrm"
)

// fakeClient scripts OSRM responses per call.
type fakeClient struct {
	calls atomic.Int64
	fn    func(from, to osrm.Point) (*osrm.Route, error)
}

func (f *fakeClient) Route(ctx context.Context, from, to osrm.Point) (*osrm.Route, error) {
	f.calls.Add(1)
	return f.fn(from, to)
}

func testCells(n int) []model.GridCell {
	cells := make([]model.GridCell, n)
	for i := range cells {
		cells[i] = model.GridCell{
			HexID:        "cell",
			CentroidLat:  6.1,
			CentroidLng:  1.2,
			Population:   100,
			FacilityName: "Hopital",
			FacilityLat:  6.2,
			FacilityLng:  1.3,
			StraightKm:   15.0,
		}
	}
	return cells
}

func TestRouteCells(t *testing.T) {
	client := &fakeClient{fn: func(from, to osrm.Point) (*osrm.Route, error) {
		return &osrm.Route{DistanceKm: 18.4, DurationMin: 31.0}, nil
	}}

	cells := testCells(3)
	r := NewRouter(client, Options{})
	res, err := r.RouteCells(context.Background(), cells)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Routed)
	assert.Zero(t, res.Fallback)
	for _, c := range cells {
		assert.Equal(t, model.RouteSourceOSRM, c.RouteSource)
		assert.InDelta(t, 18.4, c.RouteKm, 1e-9)
		assert.InDelta(t, 31.0, c.TravelTimeMin, 1e-9)
	}
	assert.Zero(t, r.DLQ().Len())
}

func TestRouteCells_SkipsOnlyUnassigned(t *testing.T) {
	client := &fakeClient{fn: func(from, to osrm.Point) (*osrm.Route, error) {
		return &osrm.Route{DistanceKm: 1, DurationMin: 1}, nil
	}}

	cells := testCells(1)
	cells = append(cells,
		model.GridCell{HexID: "empty", FacilityName: "Hopital", Population: 0},
		model.GridCell{HexID: "unassigned", Population: 50},
	)

	res, err := NewRouter(client, Options{}).RouteCells(context.Background(), cells)
	require.NoError(t, err)

	// Zero-population cells are still routed: they count in the unweighted
	// aggregation even though they carry no weight.
	assert.Equal(t, 2, res.Routed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, model.RouteSourceOSRM, cells[1].RouteSource)
	assert.Empty(t, cells[2].RouteSource)
}

func TestRouteCells_NoRouteFallsBack(t *testing.T) {
	client := &fakeClient{fn: func(from, to osrm.Point) (*osrm.Route, error) {
		return nil, osrm.ErrNoRoute
	}}

	cells := testCells(2)
	r := NewRouter(client, Options{FallbackSpeedKmh: 30, MaxRetries: 3})
	res, err := r.RouteCells(context.Background(), cells)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Fallback)
	for _, c := range cells {
		assert.Equal(t, model.RouteSourceFallback, c.RouteSource)
		assert.InDelta(t, 15.0, c.RouteKm, 1e-9)
		assert.InDelta(t, 30.0, c.TravelTimeMin, 1e-9) // 15 km at 30 km/h
	}

	// No-route is permanent: one call per cell, no retries.
	assert.Equal(t, int64(2), client.calls.Load())
	assert.Equal(t, 2, r.DLQ().Len())
}

func TestRouteCells_BreakerShortCircuits(t *testing.T) {
	client := &fakeClient{fn: func(from, to osrm.Point) (*osrm.Route, error) {
		return nil, errors.New("engine down")
	}}

	cells := testCells(20)
	r := NewRouter(client, Options{BreakerThreshold: 1, MaxRetries: 1})
	res, err := r.RouteCells(context.Background(), cells)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Fallback)
	// After the first failures trip the breaker, remaining cells are
	// rejected without reaching the engine.
	assert.Less(t, client.calls.Load(), int64(20))
	assert.Equal(t, resilience.CircuitOpen, breakerState(r))

	for _, c := range cells {
		assert.Equal(t, model.RouteSourceFallback, c.RouteSource)
	}
}

func breakerState(r *Router) resilience.CircuitState { return r.breaker.State() }

func TestFallbackAll_CoversAllAssigned(t *testing.T) {
	cells := []model.GridCell{
		{HexID: "a", Population: 10, FacilityName: "F", StraightKm: 5},
		{HexID: "b", Population: 0, FacilityName: "F", StraightKm: 5},
		{HexID: "c", Population: 10},
	}

	n := FallbackAll(cells, 0) // zero speed uses the 30 km/h default
	assert.Equal(t, 2, n)
	assert.Equal(t, model.RouteSourceFallback, cells[0].RouteSource)
	assert.InDelta(t, 10.0, cells[0].TravelTimeMin, 1e-9)
	assert.Equal(t, model.RouteSourceFallback, cells[1].RouteSource)
	assert.Empty(t, string(cells[2].RouteSource))
}

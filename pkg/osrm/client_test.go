package osrm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/route/v1/driving/")
		assert.Equal(t, "false", r.URL.Query().Get("overview"))
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":12500.0,"duration":1080.0}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	route, err := c.Route(context.Background(), Point{Lat: 6.1, Lng: 1.2}, Point{Lat: 6.2, Lng: 1.3})
	require.NoError(t, err)

	assert.InDelta(t, 12.5, route.DistanceKm, 1e-9)
	assert.InDelta(t, 18.0, route.DurationMin, 1e-9)
}

func TestRoute_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"NoRoute","message":"Impossible route between points"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Route(context.Background(), Point{Lat: 6.1, Lng: 1.2}, Point{Lat: 50.0, Lng: -170.0})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRoute_EmptyRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Route(context.Background(), Point{}, Point{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRoute_EngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"InvalidQuery"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Route(context.Background(), Point{}, Point{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidQuery")
}

func TestRoute_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Route(context.Background(), Point{}, Point{})
	assert.Error(t, err)
}

func TestRoute_Profile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/route/v1/walking/")
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":1000,"duration":720}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithProfile("walking"))
	_, err := c.Route(context.Background(), Point{}, Point{})
	require.NoError(t, err)
}

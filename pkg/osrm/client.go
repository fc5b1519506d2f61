// Package osrm provides a client for the OSRM HTTP routing engine.
package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrNoRoute is returned when the engine cannot connect the two points over
// the road network. Callers fall back to straight-line estimates.
var ErrNoRoute = errors.New("osrm: no route found")

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

// Route is one road-network route between two points.
type Route struct {
	// DistanceKm is the driving distance in kilometers.
	DistanceKm float64
	// DurationMin is the driving time in minutes.
	DurationMin float64
}

// Client routes point pairs over a road network.
type Client interface {
	// Route computes the fastest route from one point to another.
	Route(ctx context.Context, from, to Point) (*Route, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit against the engine.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithProfile sets the routing profile (default "driving").
func WithProfile(profile string) Option {
	return func(c *client) {
		c.profile = profile
	}
}

type client struct {
	baseURL    string
	profile    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client against an OSRM instance, e.g.
// http://localhost:5000.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    baseURL,
		profile:    "driving",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(100, 100), // local instances handle this easily
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// routeResponse is the JSON response from the OSRM route service.
type routeResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
	} `json:"routes"`
}

func (c *client) Route(ctx context.Context, from, to Point) (*Route, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "osrm: rate limit")
	}

	// OSRM takes lon,lat pairs.
	reqURL := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?overview=false",
		c.baseURL, c.profile, from.Lng, from.Lat, to.Lng, to.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "osrm: read body")
	}

	// OSRM reports routing errors with 400 and a code field; treat both
	// transport and engine codes uniformly.
	var routeResp routeResponse
	if err := json.Unmarshal(body, &routeResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, eris.Errorf("osrm: status %d", resp.StatusCode)
		}
		return nil, eris.Wrap(err, "osrm: parse response")
	}

	switch routeResp.Code {
	case "Ok":
	case "NoRoute", "NoSegment":
		return nil, ErrNoRoute
	default:
		return nil, eris.Errorf("osrm: engine returned code %q", routeResp.Code)
	}

	if len(routeResp.Routes) == 0 {
		return nil, ErrNoRoute
	}

	r := routeResp.Routes[0]
	return &Route{
		DistanceKm:  r.Distance / 1000,
		DurationMin: r.Duration / 60,
	}, nil
}

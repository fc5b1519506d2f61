// Package route computes road-network travel distance and time for grid
// cells against an OSRM instance, falling back to straight-line estimates
// when the engine cannot serve a cell.
package route

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geohealth/access-cli/internal/model"
	"github.com/geohealth/access-cli/internal/resilience"
	"github.com/geohealth/access-cli/pkg/osrm"
)

// routeWorkers bounds in-flight OSRM requests; the client's rate limiter
// controls the request rate.
const routeWorkers = 8

// Options configures the router.
type Options struct {
	// FallbackSpeedKmh converts straight-line distance to travel time when
	// a cell falls back. Default 30, a conservative average over mixed
	// rural road conditions.
	FallbackSpeedKmh float64
	// MaxRetries is the attempt count per cell against the engine.
	MaxRetries int
	// BreakerThreshold opens the circuit after this many consecutive
	// engine failures, sending all remaining cells to fallback without
	// waiting out timeouts.
	BreakerThreshold int
}

// Router routes cells to their assigned facilities.
type Router struct {
	client  osrm.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	dlq     *resilience.DLQ
	speed   float64
}

// Result summarizes a routing pass.
type Result struct {
	Routed   int
	Fallback int
	Skipped  int
}

// NewRouter creates a Router over an OSRM client.
func NewRouter(client osrm.Client, opts Options) *Router {
	if opts.FallbackSpeedKmh <= 0 {
		opts.FallbackSpeedKmh = 30
	}

	retry := resilience.FromConfig(opts.MaxRetries, 0)
	// ErrNoRoute is a property of the network graph, not an outage.
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, osrm.ErrNoRoute) && resilience.IsTransient(err)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: opts.BreakerThreshold,
		ShouldTrip: func(err error) bool {
			return err != nil && !errors.Is(err, osrm.ErrNoRoute)
		},
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("route: OSRM circuit state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Router{
		client:  client,
		retry:   retry,
		breaker: breaker,
		dlq:     resilience.NewDLQ(),
		speed:   opts.FallbackSpeedKmh,
	}
}

// DLQ returns the dead letter queue of cells that fell back, for audit.
func (r *Router) DLQ() *resilience.DLQ { return r.dlq }

// RouteCells fills RouteKm, TravelTimeMin, and RouteSource for every
// assigned cell, so each one leaves the phase with finite route figures;
// only unassigned cells are skipped. Routing failures never fail the pass;
// the cell gets the straight-line fallback and an entry in the DLQ.
func (r *Router) RouteCells(ctx context.Context, cells []model.GridCell) (Result, error) {
	start := time.Now()
	var routed, fellBack, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(routeWorkers)

	for i := range cells {
		c := &cells[i]
		if !c.Assigned() {
			skipped.Add(1)
			continue
		}

		g.Go(func() error {
			route, err := r.routeOne(gctx, c)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.dlq.Add("osrm", c.HexID, err)
				r.applyFallback(c)
				fellBack.Add(1)
				return nil
			}

			c.RouteKm = route.DistanceKm
			c.TravelTimeMin = route.DurationMin
			c.RouteSource = model.RouteSourceOSRM
			routed.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		Routed:   int(routed.Load()),
		Fallback: int(fellBack.Load()),
		Skipped:  int(skipped.Load()),
	}
	zap.L().Info("route: routing pass complete",
		zap.Int("routed", res.Routed),
		zap.Int("fallback", res.Fallback),
		zap.Int("skipped", res.Skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (r *Router) routeOne(ctx context.Context, c *model.GridCell) (*osrm.Route, error) {
	return resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*osrm.Route, error) {
		return resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*osrm.Route, error) {
			return r.client.Route(ctx,
				osrm.Point{Lat: c.CentroidLat, Lng: c.CentroidLng},
				osrm.Point{Lat: c.FacilityLat, Lng: c.FacilityLng},
			)
		})
	})
}

// applyFallback estimates the route from the straight-line distance at the
// configured speed.
func (r *Router) applyFallback(c *model.GridCell) {
	c.RouteKm = c.StraightKm
	c.TravelTimeMin = c.StraightKm / r.speed * 60
	c.RouteSource = model.RouteSourceFallback
}

// FallbackAll applies the straight-line fallback to every assigned cell
// without consulting an engine. Used when no routing engine is configured.
// Returns the number of cells touched.
func FallbackAll(cells []model.GridCell, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = 30
	}
	var n int
	for i := range cells {
		c := &cells[i]
		if !c.Assigned() {
			continue
		}
		c.RouteKm = c.StraightKm
		c.TravelTimeMin = c.StraightKm / speedKmh * 60
		c.RouteSource = model.RouteSourceFallback
		n++
	}
	return n
}

// Package pipeline orchestrates the accessibility analysis phases: tiling,
// population extraction, facility assignment, routing, and aggregation.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geohealth/access-cli/internal/assign"
	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/config"
	"github.com/geohealth/access-cli/internal/facility"
	"github.com/geohealth/access-cli/internal/hexgrid"
	"github.com/geohealth/access-cli/internal/metrics"
	"github.com/geohealth/access-cli/internal/model"
	"github.com/geohealth/access-cli/internal/raster"
	"github.com/geohealth/access-cli/internal/route"
	"github.com/geohealth/access-cli/internal/store"
	"github.com/geohealth/access-cli/pkg/osrm"
)

// Pipeline runs the full accessibility analysis for one district.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	osrm  osrm.Client
}

// Output collects everything a run produces, for callers that export files
// or serve results over the API.
type Output struct {
	RunID   string
	Cells   []model.GridCell
	Metrics []model.FacilityMetrics
	Result  model.RunResult
}

// New creates a Pipeline. st may be nil (persistence disabled) and client may
// be nil (no routing engine; every cell gets the straight-line fallback).
func New(cfg *config.Config, st store.Store, client osrm.Client) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, osrm: client}
}

// Run executes the pipeline for the given input.
func (p *Pipeline) Run(ctx context.Context, input model.RunInput) (*Output, error) {
	log := zap.L().With(zap.String("district", input.District))
	log.Info("pipeline: starting analysis")

	if input.H3Resolution == 0 {
		input.H3Resolution = p.cfg.Grid.Resolution
	}

	out := &Output{}
	result := &model.RunResult{}

	var runID string
	if p.store != nil {
		run, err := p.store.CreateRun(ctx, input)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		runID = run.ID
		out.RunID = runID
	}

	setStatus := func(status model.RunStatus) {
		if p.store == nil {
			return
		}
		if statusErr := p.store.UpdateRunStatus(ctx, runID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	// Phase tracking helper with mutex for concurrent access.
	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		var phase *model.RunPhase
		if p.store != nil {
			var phaseErr error
			phase, phaseErr = p.store.CreatePhase(ctx, runID, name)
			if phaseErr != nil {
				log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
			}
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			_ = p.store.CompletePhase(ctx, phase.ID, phaseResult)
		}
		phasesMu.Lock()
		result.Phases = append(result.Phases, *phaseResult)
		phasesMu.Unlock()
		return fnErr
	}

	fail := func(err error) (*Output, error) {
		result.Error = err.Error()
		if p.store != nil {
			if saveErr := p.store.UpdateRunResult(ctx, runID, model.RunStatusFailed, result); saveErr != nil {
				log.Warn("pipeline: failed to save run result", zap.Error(saveErr))
			}
		}
		out.Result = *result
		return out, err
	}

	// ===== Load inputs: boundary, facilities, raster in parallel =====
	var district model.District
	var facilities []model.Facility
	var pop *raster.Raster

	var g errgroup.Group
	g.Go(func() error {
		return trackPhase("load_boundary", func() (*model.PhaseResult, error) {
			d, loadErr := loadDistrict(input.BoundaryPath, input.District)
			if loadErr != nil {
				return nil, loadErr
			}
			district = d
			return &model.PhaseResult{
				Metadata: map[string]any{"district": d.Name},
			}, nil
		})
	})
	g.Go(func() error {
		return trackPhase("load_facilities", func() (*model.PhaseResult, error) {
			fs, loadErr := facility.Load(input.FacilityPath, facility.Options{
				Type:    input.FacilityType,
				UTMZone: p.cfg.Region.UTMZone,
			})
			if loadErr != nil {
				return nil, loadErr
			}
			if checkErr := facility.CheckRegion(fs, p.cfg.Region.BBox, p.cfg.Region.Name); checkErr != nil {
				return nil, checkErr
			}
			facilities = fs
			return &model.PhaseResult{
				Metadata: map[string]any{"facilities": len(fs)},
			}, nil
		})
	})
	if input.RasterPath != "" {
		g.Go(func() error {
			return trackPhase("load_raster", func() (*model.PhaseResult, error) {
				r, openErr := raster.OpenGeoTIFF(input.RasterPath)
				if openErr != nil {
					return nil, openErr
				}
				pop = r
				return &model.PhaseResult{
					Metadata: map[string]any{"width": r.Width, "height": r.Height},
				}, nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	// ===== Tiling =====
	setStatus(model.RunStatusTiling)
	var cells []model.GridCell

	err := trackPhase("tiling", func() (*model.PhaseResult, error) {
		grid, genErr := hexgrid.Generate(district, input.H3Resolution)
		if genErr != nil {
			return nil, genErr
		}
		cells = grid
		return &model.PhaseResult{
			Metadata: map[string]any{"cells": len(grid), "resolution": input.H3Resolution},
		}, nil
	})
	if err != nil {
		return fail(err)
	}
	result.Cells = len(cells)

	// ===== Population extraction =====
	if pop != nil {
		setStatus(model.RunStatusExtracting)
		err = trackPhase("extracting", func() (*model.PhaseResult, error) {
			total, populated, popErr := raster.Populate(pop, cells)
			if popErr != nil {
				return nil, popErr
			}
			result.TotalPopulation = total
			result.PopulatedCells = populated
			return &model.PhaseResult{
				Metadata: map[string]any{
					"total_population": total,
					"populated_cells":  populated,
				},
			}, nil
		})
		if err != nil {
			return fail(err)
		}
	} else {
		// No raster: weight every cell equally so assignment and routing
		// still produce coverage statistics.
		for i := range cells {
			cells[i].Population = 1
		}
		result.TotalPopulation = float64(len(cells))
		result.PopulatedCells = len(cells)
	}

	// ===== Facility assignment =====
	setStatus(model.RunStatusAssigning)
	err = trackPhase("assigning", func() (*model.PhaseResult, error) {
		return nil, assign.Assign(cells, facilities)
	})
	if err != nil {
		return fail(err)
	}
	result.Facilities = len(facilities)

	// ===== Routing =====
	setStatus(model.RunStatusRouting)
	err = trackPhase("routing", func() (*model.PhaseResult, error) {
		if p.osrm == nil {
			n := route.FallbackAll(cells, p.cfg.OSRM.FallbackSpeedKmh)
			result.FallbackCells = n
			return &model.PhaseResult{
				Metadata: map[string]any{"fallback": n, "engine": "none"},
			}, nil
		}

		router := route.NewRouter(p.osrm, route.Options{
			FallbackSpeedKmh: p.cfg.OSRM.FallbackSpeedKmh,
			MaxRetries:       p.cfg.OSRM.MaxRetries,
			BreakerThreshold: p.cfg.OSRM.BreakerThreshold,
		})
		res, routeErr := router.RouteCells(ctx, cells)
		if routeErr != nil {
			return nil, routeErr
		}
		result.RoutedCells = res.Routed
		result.FallbackCells = res.Fallback
		return &model.PhaseResult{
			Metadata: map[string]any{
				"routed":   res.Routed,
				"fallback": res.Fallback,
				"skipped":  res.Skipped,
			},
		}, nil
	})
	if err != nil {
		return fail(err)
	}

	if p.store != nil {
		if saveErr := p.store.SaveCells(ctx, runID, cells); saveErr != nil {
			log.Warn("pipeline: failed to save cells", zap.Error(saveErr))
		}
	}

	// ===== Aggregation =====
	setStatus(model.RunStatusAggregating)
	var rows []model.FacilityMetrics

	err = trackPhase("aggregating", func() (*model.PhaseResult, error) {
		bands := p.bandsFor(input.FacilityType)
		agg, aggErr := metrics.Aggregate(district.Name, cells, bands)
		if aggErr != nil {
			return nil, aggErr
		}
		rows = agg
		return &model.PhaseResult{
			Metadata: map[string]any{"facilities": len(agg) - 1, "bands_km": bands},
		}, nil
	})
	if err != nil {
		return fail(err)
	}

	if p.store != nil {
		if saveErr := p.store.SaveMetrics(ctx, runID, rows); saveErr != nil {
			log.Warn("pipeline: failed to save metrics", zap.Error(saveErr))
		}
		if saveErr := p.store.UpdateRunResult(ctx, runID, model.RunStatusComplete, result); saveErr != nil {
			log.Warn("pipeline: failed to save run result", zap.Error(saveErr))
		}
	}

	out.Cells = cells
	out.Metrics = rows
	out.Result = *result

	log.Info("pipeline: analysis complete",
		zap.String("run_id", runID),
		zap.Int("cells", result.Cells),
		zap.Int("populated_cells", result.PopulatedCells),
		zap.Int("facilities", result.Facilities),
		zap.Int("routed", result.RoutedCells),
		zap.Int("fallback", result.FallbackCells),
	)
	return out, nil
}

// bandsFor resolves the distance bands for a facility type from the profile
// file when configured, then the static config, then the defaults.
func (p *Pipeline) bandsFor(facilityType string) []float64 {
	if p.cfg.Metrics.ProfilesPath != "" {
		profiles, err := metrics.LoadProfiles(p.cfg.Metrics.ProfilesPath)
		if err != nil {
			zap.L().Warn("pipeline: failed to load metric profiles", zap.Error(err))
		} else {
			return profiles.BandsFor(facilityType)
		}
	}
	if len(p.cfg.Metrics.BandsKm) > 0 {
		return p.cfg.Metrics.BandsKm
	}
	return metrics.DefaultBandsKm
}

// loadDistrict reads the boundary file (GeoJSON or shapefile) and selects
// the named district.
func loadDistrict(path, name string) (model.District, error) {
	var districts []model.District
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		districts, err = boundary.ReadDistrictGeoJSON(path)
	case ".shp":
		districts, err = boundary.LoadShapefile(path)
	default:
		return model.District{}, eris.Errorf("pipeline: unsupported boundary format %q", filepath.Ext(path))
	}
	if err != nil {
		return model.District{}, err
	}
	return boundary.Select(districts, name)
}

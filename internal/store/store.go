// Package store persists accessibility runs, grid cells, and metric reports.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/geohealth/access-cli/internal/config"
	"github.com/geohealth/access-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	District string          `json:"district,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the accessibility pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, input model.RunInput) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Grid cells
	SaveCells(ctx context.Context, runID string, cells []model.GridCell) error
	GetCells(ctx context.Context, runID string) ([]model.GridCell, error)

	// Facility metrics
	SaveMetrics(ctx context.Context, runID string, rows []model.FacilityMetrics) error
	GetMetrics(ctx context.Context, runID string) ([]model.FacilityMetrics, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs a Store from configuration. Driver "none" returns a nil
// Store; callers treat that as persistence disabled.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

var cellColumns = []string{
	"run_id", "hex_id", "centroid_lat", "centroid_lng", "area_km2", "population",
	"facility_id", "facility_name", "facility_lat", "facility_lng",
	"straight_km", "route_km", "travel_time_min", "route_source",
}

var metricColumns = []string{
	"run_id", "district", "facility_name", "cells_served", "population_served",
	"mean_distance_km", "median_distance_km", "min_distance_km", "max_distance_km",
	"pop_weighted_distance_km", "pop_weighted_time_min", "bands",
}

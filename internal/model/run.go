package model

import "time"

// RunStatus represents the current state of an accessibility run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusTiling      RunStatus = "tiling"
	RunStatusExtracting  RunStatus = "extracting"
	RunStatusAssigning   RunStatus = "assigning"
	RunStatusRouting     RunStatus = "routing"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// RunInput captures the inputs a run was started with.
type RunInput struct {
	District      string `json:"district"`
	BoundaryPath  string `json:"boundary_path"`
	FacilityPath  string `json:"facility_path"`
	RasterPath    string `json:"raster_path,omitempty"`
	FacilityType  string `json:"facility_type,omitempty"`
	H3Resolution  int    `json:"h3_resolution"`
	RoutingTarget string `json:"routing_target,omitempty"`
}

// Run represents a single accessibility analysis run for a district.
type Run struct {
	ID        string     `json:"id"`
	Input     RunInput   `json:"input"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Cells           int           `json:"cells"`
	PopulatedCells  int           `json:"populated_cells"`
	Facilities      int           `json:"facilities"`
	TotalPopulation float64       `json:"total_population"`
	RoutedCells     int           `json:"routed_cells"`
	FallbackCells   int           `json:"fallback_cells"`
	Phases          []PhaseResult `json:"phases"`
	Error           string        `json:"error,omitempty"`
}

// PhaseStatus represents the state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseResult is the recorded outcome of a single phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

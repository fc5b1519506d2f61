package model

// FacilityMetrics holds population-weighted accessibility statistics for one
// facility's catchment, or for the whole district when FacilityName is
// DistrictTotalName. The csv tags drive the exported report columns.
type FacilityMetrics struct {
	District         string  `json:"district" csv:"district"`
	FacilityName     string  `json:"facility_name" csv:"facility_name"`
	CellsServed      int     `json:"total_grids_served" csv:"total_grids_served"`
	PopulationServed float64 `json:"population_served" csv:"population_served"`

	MeanDistanceKm   float64 `json:"mean_distance_km" csv:"mean_distance_km"`
	MedianDistanceKm float64 `json:"median_distance_km" csv:"median_distance_km"`
	MinDistanceKm    float64 `json:"min_distance_km" csv:"min_distance_km"`
	MaxDistanceKm    float64 `json:"max_distance_km" csv:"max_distance_km"`

	PopWeightedDistanceKm float64 `json:"pop_weighted_distance_km" csv:"pop_weighted_distance_km"`
	PopWeightedTimeMin    float64 `json:"pop_weighted_time_min" csv:"pop_weighted_time_min"`

	// Population within the configured distance bands, in band order, and
	// the corresponding percentage of PopulationServed.
	PopWithinBands []float64 `json:"pop_within_bands" csv:"-"`
	PctWithinBands []float64 `json:"pct_within_bands" csv:"-"`
}

// DistrictTotalName is the pseudo-facility name used for the district
// summary row in metric reports.
const DistrictTotalName = "DISTRICT_TOTAL"

// NoFacilitiesName is the placeholder row emitted when a run had nothing to
// aggregate: an empty facility registry or no assigned cells.
const NoFacilitiesName = "No facilities"

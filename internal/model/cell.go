package model

import "github.com/twpayne/go-geom"

// RouteSource identifies how a cell's travel distance was obtained.
type RouteSource string

const (
	// RouteSourceOSRM means the routing engine returned a road-network route.
	RouteSourceOSRM RouteSource = "osrm"
	// RouteSourceFallback means the straight-line estimate was substituted.
	RouteSourceFallback RouteSource = "fallback"
)

// GridCell is one hexagonal cell of the analysis grid. Fields are filled in
// progressively as the pipeline advances: geometry and centroid at grid
// generation, population at extraction, the rest at assignment and routing.
type GridCell struct {
	HexID       string  `json:"hex_id" csv:"hex_id"`
	CentroidLat float64 `json:"centroid_lat" csv:"centroid_lat"`
	CentroidLng float64 `json:"centroid_lng" csv:"centroid_lng"`
	AreaKm2     float64 `json:"area_km2" csv:"area_km2"`
	Population  float64 `json:"population" csv:"population"`

	// Assignment results.
	FacilityID   int     `json:"facility_id" csv:"facility_id"`
	FacilityName string  `json:"facility_name,omitempty" csv:"facility_name"`
	FacilityLat  float64 `json:"facility_lat,omitempty" csv:"facility_lat"`
	FacilityLng  float64 `json:"facility_lng,omitempty" csv:"facility_lng"`
	StraightKm   float64 `json:"straight_line_distance_km" csv:"straight_line_distance_km"`

	// Routing results.
	RouteKm       float64     `json:"route_distance_km" csv:"route_distance_km"`
	TravelTimeMin float64     `json:"travel_time_min" csv:"travel_time_min"`
	RouteSource   RouteSource `json:"route_source,omitempty" csv:"route_source"`

	// Boundary is the hexagon outline in WGS84. Not serialized to JSON
	// directly; GeoJSON encoding handles geometry separately.
	Boundary *geom.Polygon `json:"-" csv:"-"`
}

// Assigned reports whether the cell has a facility assignment.
func (c *GridCell) Assigned() bool { return c.FacilityName != "" }

// District is the administrative area under analysis.
type District struct {
	Name     string             `json:"name"`
	Geometry *geom.MultiPolygon `json:"-"`
}

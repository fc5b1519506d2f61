// Package model defines the core types shared across the accessibility pipeline.
package model

import "math"

// Facility is a point of service (clinic, hospital, school) that grid cells
// are assigned to.
type Facility struct {
	ID        int     `json:"id" csv:"id"`
	Name      string  `json:"name" csv:"name"`
	Type      string  `json:"type,omitempty" csv:"type,omitempty"`
	Latitude  float64 `json:"latitude" csv:"latitude"`
	Longitude float64 `json:"longitude" csv:"longitude"`
}

// ValidCoordinates reports whether lat/lng form a usable WGS84 coordinate.
// Rejects NaN, Inf, out-of-range values, and exact 0,0 (a common placeholder
// that lands in the Gulf of Guinea).
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	if lat < -90 || lat > 90 {
		return false
	}
	if lng < -180 || lng > 180 {
		return false
	}
	if lat == 0 && lng == 0 {
		return false
	}
	return true
}

// BBox is a geographic bounding box in WGS84.
type BBox struct {
	MinLng float64 `json:"min_lng" mapstructure:"min_lng"`
	MinLat float64 `json:"min_lat" mapstructure:"min_lat"`
	MaxLng float64 `json:"max_lng" mapstructure:"max_lng"`
	MaxLat float64 `json:"max_lat" mapstructure:"max_lat"`
}

// IsZero reports whether the box is unset.
func (b BBox) IsZero() bool {
	return b.MinLng == 0 && b.MinLat == 0 && b.MaxLng == 0 && b.MaxLat == 0
}

// Contains reports whether the point lies within the box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

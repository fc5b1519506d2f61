package boundary

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/geohealth/access-cli/internal/model"
)

// ReadDistrictGeoJSON reads districts from a GeoJSON FeatureCollection.
// Polygon geometries are promoted to single-part MultiPolygons.
func ReadDistrictGeoJSON(path string) ([]model.District, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "boundary: parse %s", path)
	}

	var districts []model.District
	for _, f := range fc.Features {
		mp := asMultiPolygon(f.Geometry)
		if mp == nil {
			continue
		}
		districts = append(districts, model.District{
			Name:     featureName(f),
			Geometry: mp,
		})
	}
	if len(districts) == 0 {
		return nil, eris.Errorf("boundary: no polygon features in %s", path)
	}
	return districts, nil
}

// WriteCellsGeoJSON writes grid cells as a GeoJSON FeatureCollection, one
// feature per cell with all accessibility properties attached. This is the
// handoff format between pipeline stages.
func WriteCellsGeoJSON(path string, cells []model.GridCell) error {
	data, err := MarshalCellsGeoJSON(cells)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "boundary: write %s", path)
	}
	return nil
}

// MarshalCellsGeoJSON encodes grid cells as a GeoJSON FeatureCollection.
func MarshalCellsGeoJSON(cells []model.GridCell) ([]byte, error) {
	fc := geojson.FeatureCollection{}
	for i := range cells {
		c := &cells[i]
		props := map[string]any{
			"hex_id":       c.HexID,
			"centroid_lat": c.CentroidLat,
			"centroid_lon": c.CentroidLng,
			"area_km2":     c.AreaKm2,
			"population":   c.Population,
		}
		if c.Assigned() {
			props["assigned_facility"] = c.FacilityName
			props["assigned_facility_id"] = c.FacilityID
			props["assigned_facility_lat"] = c.FacilityLat
			props["assigned_facility_lon"] = c.FacilityLng
			props["straight_line_distance_km"] = c.StraightKm
		}
		if c.RouteSource != "" {
			props["route_distance_km"] = c.RouteKm
			props["travel_time_min"] = c.TravelTimeMin
			props["route_source"] = string(c.RouteSource)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         c.HexID,
			Geometry:   c.Boundary,
			Properties: props,
		})
	}

	data, err := json.Marshal(&fc)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: marshal cells")
	}
	return data, nil
}

// ReadCellsGeoJSON reads grid cells previously written by WriteCellsGeoJSON.
func ReadCellsGeoJSON(path string) ([]model.GridCell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "boundary: parse %s", path)
	}

	cells := make([]model.GridCell, 0, len(fc.Features))
	for _, f := range fc.Features {
		c := model.GridCell{
			HexID:         propString(f.Properties, "hex_id"),
			CentroidLat:   propFloat(f.Properties, "centroid_lat"),
			CentroidLng:   propFloat(f.Properties, "centroid_lon"),
			AreaKm2:       propFloat(f.Properties, "area_km2"),
			Population:    propFloat(f.Properties, "population"),
			FacilityID:    int(propFloat(f.Properties, "assigned_facility_id")),
			FacilityName:  propString(f.Properties, "assigned_facility"),
			FacilityLat:   propFloat(f.Properties, "assigned_facility_lat"),
			FacilityLng:   propFloat(f.Properties, "assigned_facility_lon"),
			StraightKm:    propFloat(f.Properties, "straight_line_distance_km"),
			RouteKm:       propFloat(f.Properties, "route_distance_km"),
			TravelTimeMin: propFloat(f.Properties, "travel_time_min"),
			RouteSource:   model.RouteSource(propString(f.Properties, "route_source")),
		}
		if c.HexID == "" && f.ID != "" {
			c.HexID = f.ID
		}
		if poly, ok := f.Geometry.(*geom.Polygon); ok {
			c.Boundary = poly
		}
		cells = append(cells, c)
	}
	return cells, nil
}

// asMultiPolygon converts Polygon or MultiPolygon geometries to a
// MultiPolygon; other geometry types yield nil.
func asMultiPolygon(g geom.T) *geom.MultiPolygon {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(t.SRID())
		if err := mp.Push(t); err != nil {
			return nil
		}
		return mp
	default:
		return nil
	}
}

// featureName pulls a display name out of feature properties.
func featureName(f *geojson.Feature) string {
	for _, key := range []string{"shapeName", "name", "NAME", "ADM2_NAME", "district"} {
		if v, ok := f.Properties[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return f.ID
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func propFloat(props map[string]any, key string) float64 {
	if v, ok := props[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case json.Number:
			f, _ := n.Float64()
			return f
		}
	}
	return 0
}

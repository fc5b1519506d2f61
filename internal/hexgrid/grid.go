// Package hexgrid tiles district polygons into uniform H3 hexagonal cells.
package hexgrid

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	h3 "github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/model"
)

// DefaultResolution is H3 resolution 8 (~0.74 km² hexagons), fine enough to
// resolve intra-district access differences without exploding cell counts.
const DefaultResolution = 8

// Generate tiles the district with H3 cells at the given resolution and
// returns one GridCell per hexagon, with boundary polygon, centroid, and
// area filled in. Cells are deduplicated across multi-part polygons.
//
// H3 polyfill keeps cells whose center falls inside the polygon, so a
// district smaller than a single hexagon can come back empty; in that case
// the cell containing the district's bounding-box center is used.
func Generate(district model.District, resolution int) ([]model.GridCell, error) {
	if resolution < 0 || resolution > 15 {
		return nil, eris.Errorf("hexgrid: invalid H3 resolution %d", resolution)
	}
	if district.Geometry == nil || district.Geometry.NumPolygons() == 0 {
		return nil, eris.New("hexgrid: district has no geometry")
	}

	seen := make(map[h3.Cell]struct{})
	var cells []h3.Cell

	for i := 0; i < district.Geometry.NumPolygons(); i++ {
		poly := district.Geometry.Polygon(i)
		gp := toGeoPolygon(poly)
		if len(gp.GeoLoop) < 3 {
			continue
		}
		for _, c := range h3.PolygonToCells(gp, resolution) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cells = append(cells, c)
		}
	}

	if len(cells) == 0 {
		// Sliver district: fall back to the single cell under its center.
		b := district.Geometry.Bounds()
		center := h3.NewLatLng((b.Min(1)+b.Max(1))/2, (b.Min(0)+b.Max(0))/2)
		cells = append(cells, h3.LatLngToCell(center, resolution))
		zap.L().Warn("hexgrid: polyfill returned no cells, using center cell",
			zap.String("district", district.Name),
		)
	}

	grid := make([]model.GridCell, 0, len(cells))
	for _, c := range cells {
		center := h3.CellToLatLng(c)
		grid = append(grid, model.GridCell{
			HexID:       c.String(),
			CentroidLat: center.Lat,
			CentroidLng: center.Lng,
			AreaKm2:     h3.CellAreaKm2(c),
			Boundary:    cellPolygon(c),
		})
	}

	zap.L().Info("hexgrid: generated grid",
		zap.String("district", district.Name),
		zap.Int("resolution", resolution),
		zap.Int("cells", len(grid)),
	)
	return grid, nil
}

// toGeoPolygon converts a go-geom polygon (exterior ring + holes) into the
// H3 loop representation.
func toGeoPolygon(poly *geom.Polygon) h3.GeoPolygon {
	gp := h3.GeoPolygon{}
	for r := 0; r < poly.NumLinearRings(); r++ {
		loop := ringToLoop(poly.LinearRing(r))
		if r == 0 {
			gp.GeoLoop = loop
		} else {
			gp.Holes = append(gp.Holes, loop)
		}
	}
	return gp
}

func ringToLoop(ring *geom.LinearRing) h3.GeoLoop {
	coords := ring.FlatCoords()
	stride := ring.Stride()
	loop := make(h3.GeoLoop, 0, len(coords)/stride)
	for i := 0; i+1 < len(coords); i += stride {
		loop = append(loop, h3.NewLatLng(coords[i+1], coords[i]))
	}
	return loop
}

// cellPolygon builds the closed hexagon outline as a WGS84 polygon.
func cellPolygon(c h3.Cell) *geom.Polygon {
	boundary := h3.CellToBoundary(c)
	flat := make([]float64, 0, (len(boundary)+1)*2)
	for _, v := range boundary {
		flat = append(flat, v.Lng, v.Lat)
	}
	// Close the ring.
	if len(boundary) > 0 {
		flat = append(flat, boundary[0].Lng, boundary[0].Lat)
	}
	poly := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	return poly.SetSRID(4326)
}

// CellFromID parses an H3 index string back into a cell, validating it.
func CellFromID(id string) (h3.Cell, error) {
	c := h3.Cell(h3.IndexFromString(id))
	if !c.IsValid() {
		return 0, eris.Errorf("hexgrid: invalid H3 index %q", id)
	}
	return c, nil
}

// CellBoundary rebuilds the hexagon outline for a stored H3 index. Cells
// persisted to the database carry no geometry; exports regenerate it from
// the index.
func CellBoundary(id string) (*geom.Polygon, error) {
	c, err := CellFromID(id)
	if err != nil {
		return nil, err
	}
	return cellPolygon(c), nil
}

// Package boundary reads administrative boundaries from shapefiles and
// GeoJSON, and moves grid cells between pipeline stages as GeoJSON
// FeatureCollections.
package boundary

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/model"
)

// nameFields are the attribute names tried, in order, when looking for a
// district name column. geoBoundaries uses shapeName; TIGER and GADM exports
// use the others.
var nameFields = []string{"shapename", "name", "adm2_name", "adm1_name", "nam", "district"}

// LoadShapefile reads all polygon records from a shapefile and returns them
// as districts in WGS84. Records without a usable polygon are skipped.
func LoadShapefile(path string) ([]model.District, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	nameIdx := -1
	for _, cand := range nameFields {
		if i, ok := fieldIdx[cand]; ok {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		zap.L().Warn("boundary: no name attribute found in shapefile",
			zap.String("path", path),
		)
	}

	var districts []model.District
	var skipped int

	for reader.Next() {
		n, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}

		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		name := ""
		if nameIdx >= 0 {
			name = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}
		if name == "" {
			name = "feature_" + strconv.Itoa(n)
		}

		districts = append(districts, model.District{Name: name, Geometry: mp})
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(districts) == 0 {
		return nil, eris.Errorf("boundary: no polygon records in %s", path)
	}

	return districts, nil
}

// Select returns the district matching name (case-insensitive), or the first
// district with a warning when name is empty or unmatched.
func Select(districts []model.District, name string) (model.District, error) {
	if len(districts) == 0 {
		return model.District{}, eris.New("boundary: no districts loaded")
	}
	if name == "" {
		return districts[0], nil
	}
	for _, d := range districts {
		if strings.EqualFold(strings.TrimSpace(d.Name), strings.TrimSpace(name)) {
			return d, nil
		}
	}
	zap.L().Warn("boundary: district not found, using first feature",
		zap.String("requested", name),
		zap.String("using", districts[0].Name),
	)
	return districts[0], nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Shapefile ring winding determines nesting: clockwise rings open a new
// polygon, counter-clockwise rings are holes in the preceding polygon.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var current *geom.Polygon

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if len(flat) < 8 { // ring needs at least 4 points
			continue
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if ringIsClockwise(flat) || current == nil {
			if current != nil {
				if err := mp.Push(current); err != nil {
					zap.L().Debug("boundary: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
				}
			}
			current = geom.NewPolygon(geom.XY)
			if err := current.Push(ring); err != nil {
				zap.L().Debug("boundary: skipping malformed outer ring", zap.Int32("part", i), zap.Error(err))
				current = nil
			}
			continue
		}

		// Counter-clockwise: hole in the current polygon.
		if err := current.Push(ring); err != nil {
			zap.L().Debug("boundary: skipping malformed hole ring", zap.Int32("part", i), zap.Error(err))
		}
	}

	if current != nil {
		if err := mp.Push(current); err != nil {
			zap.L().Debug("boundary: skipping malformed final polygon", zap.Error(err))
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// ringIsClockwise reports ring orientation from the signed shoelace area of
// flat XY coordinates. Shapefile outer rings are clockwise.
func ringIsClockwise(flat []float64) bool {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		x1, y1 := flat[2*i], flat[2*i+1]
		j := (i + 1) % n
		x2, y2 := flat[2*j], flat[2*j+1]
		sum += (x2 - x1) * (y2 + y1)
	}
	return sum > 0
}

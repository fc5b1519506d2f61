package raster

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/model"
)

// SumWithin sums the positive, non-nodata pixel values whose centers fall
// inside the polygon. Population rasters encode people per pixel, so the sum
// is the population of the zone. Negative values (some WorldPop tiles use -99
// instead of a declared nodata) are skipped along with NaN.
func SumWithin(r *Raster, poly *geom.Polygon) (float64, error) {
	if poly == nil {
		return 0, eris.New("raster: nil polygon")
	}

	b := poly.Bounds()
	c0, r0 := r.GeoToPixel(b.Min(0), b.Max(1))
	c1, r1 := r.GeoToPixel(b.Max(0), b.Min(1))

	colMin := clamp(int(math.Floor(c0)), 0, r.Width-1)
	colMax := clamp(int(math.Ceil(c1)), 0, r.Width-1)
	rowMin := clamp(int(math.Floor(r0)), 0, r.Height-1)
	rowMax := clamp(int(math.Ceil(r1)), 0, r.Height-1)
	if colMin > colMax || rowMin > rowMax {
		return 0, nil // polygon entirely outside the raster
	}

	exterior := poly.LinearRing(0).FlatCoords()
	var holes [][]float64
	for i := 1; i < poly.NumLinearRings(); i++ {
		holes = append(holes, poly.LinearRing(i).FlatCoords())
	}

	var sum float64
	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			x, y := r.PixelCenter(col, row)
			if !containsPoint(exterior, holes, x, y) {
				continue
			}
			v, err := r.Sample(col, row)
			if err != nil {
				return 0, err
			}
			if math.IsNaN(v) || v <= 0 {
				continue
			}
			sum += v
		}
	}
	return sum, nil
}

// Populate fills in Population for each grid cell from the raster and
// returns the district total and the count of populated cells.
func Populate(r *Raster, cells []model.GridCell) (total float64, populated int, err error) {
	for i := range cells {
		if cells[i].Boundary == nil {
			return 0, 0, eris.Errorf("raster: cell %s has no boundary polygon", cells[i].HexID)
		}
		pop, err := SumWithin(r, cells[i].Boundary)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "raster: cell %s", cells[i].HexID)
		}
		cells[i].Population = pop
		total += pop
		if pop > 0 {
			populated++
		}
	}

	zap.L().Info("raster: population extracted",
		zap.Int("cells", len(cells)),
		zap.Int("populated_cells", populated),
		zap.Float64("total_population", total),
	)
	return total, populated, nil
}

func containsPoint(exterior []float64, holes [][]float64, x, y float64) bool {
	pt := geom.Coord{x, y}
	if !xy.IsPointInRing(geom.XY, pt, exterior) {
		return false
	}
	for _, h := range holes {
		if xy.IsPointInRing(geom.XY, pt, h) {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package assign maps each grid cell to its nearest health facility using a
// k-d tree over locally projected facility coordinates.
package assign

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/geohealth/access-cli/internal/model"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two WGS84 points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// facilityPoint is a facility projected onto a local equirectangular plane.
// Within a single district the projection error is far below hexagon size,
// so plain Euclidean nearest-neighbor search finds the right facility; the
// reported distance is recomputed with haversine afterwards.
type facilityPoint struct {
	x, y float64
	idx  int
}

func (p facilityPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(facilityPoint)
	switch d {
	case 0:
		return p.x - q.x
	default:
		return p.y - q.y
	}
}

func (p facilityPoint) Dims() int { return 2 }

func (p facilityPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(facilityPoint)
	dx, dy := p.x-q.x, p.y-q.y
	return dx*dx + dy*dy
}

// facilityPoints implements kdtree.Interface.
type facilityPoints []facilityPoint

func (p facilityPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p facilityPoints) Len() int                      { return len(p) }
func (p facilityPoints) Pivot(d kdtree.Dim) int {
	return plane{Dim: d, facilityPoints: p}.Pivot()
}
func (p facilityPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type plane struct {
	kdtree.Dim
	facilityPoints
}

func (p plane) Less(i, j int) bool {
	return p.facilityPoints[i].Compare(p.facilityPoints[j], p.Dim) < 0
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.facilityPoints = p.facilityPoints[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.facilityPoints[i], p.facilityPoints[j] = p.facilityPoints[j], p.facilityPoints[i]
}

// Index is a nearest-facility lookup built once per run.
type Index struct {
	tree       *kdtree.Tree
	facilities []model.Facility
	cosMidLat  float64
}

// NewIndex builds the lookup from the facility list.
func NewIndex(facilities []model.Facility) (*Index, error) {
	if len(facilities) == 0 {
		return nil, eris.New("assign: no facilities to index")
	}

	var sumLat float64
	for _, f := range facilities {
		sumLat += f.Latitude
	}
	cosMid := math.Cos(sumLat / float64(len(facilities)) * math.Pi / 180)

	pts := make(facilityPoints, len(facilities))
	for i, f := range facilities {
		pts[i] = facilityPoint{
			x:   f.Longitude * cosMid,
			y:   f.Latitude,
			idx: i,
		}
	}

	return &Index{
		tree:       kdtree.New(pts, false),
		facilities: facilities,
		cosMidLat:  cosMid,
	}, nil
}

// Nearest returns the facility closest to the point and the haversine
// distance to it in kilometers.
func (ix *Index) Nearest(lat, lng float64) (model.Facility, float64) {
	q := facilityPoint{x: lng * ix.cosMidLat, y: lat}
	got, _ := ix.tree.Nearest(q)
	f := ix.facilities[got.(facilityPoint).idx]
	return f, HaversineKm(lat, lng, f.Latitude, f.Longitude)
}

// Assign fills each cell's facility fields from its nearest facility. An
// empty facility list leaves every cell unassigned; aggregation then emits
// a placeholder report instead of statistics.
func Assign(cells []model.GridCell, facilities []model.Facility) error {
	if len(facilities) == 0 {
		zap.L().Warn("assign: no facilities, cells left unassigned")
		return nil
	}

	ix, err := NewIndex(facilities)
	if err != nil {
		return err
	}

	for i := range cells {
		f, distKm := ix.Nearest(cells[i].CentroidLat, cells[i].CentroidLng)
		cells[i].FacilityID = f.ID
		cells[i].FacilityName = f.Name
		cells[i].FacilityLat = f.Latitude
		cells[i].FacilityLng = f.Longitude
		cells[i].StraightKm = distKm
	}

	zap.L().Info("assign: cells assigned to nearest facility",
		zap.Int("cells", len(cells)),
		zap.Int("facilities", len(facilities)),
	)
	return nil
}

// Package metrics aggregates per-cell accessibility results into
// population-weighted statistics per facility and for the district.
package metrics

import (
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/geohealth/access-cli/internal/model"
)

// DefaultBandsKm are the distance bands reported when none are configured.
var DefaultBandsKm = []float64{5, 10, 20}

// Aggregate computes one metrics row per facility, plus a DISTRICT_TOTAL
// row over all assigned cells. Unweighted statistics cover every assigned
// cell; population enters only as the weight of the weighted statistics.
// Rows are sorted by facility name with the total last. With nothing to
// aggregate the report is a single placeholder row, not an error.
func Aggregate(district string, cells []model.GridCell, bandsKm []float64) ([]model.FacilityMetrics, error) {
	if len(bandsKm) == 0 {
		bandsKm = DefaultBandsKm
	}

	assigned := make([]model.GridCell, 0, len(cells))
	for _, c := range cells {
		if c.Assigned() {
			assigned = append(assigned, c)
		}
	}
	if len(assigned) == 0 {
		zap.L().Warn("metrics: no assigned cells, report is a placeholder",
			zap.String("district", district),
		)
		return []model.FacilityMetrics{{
			District:       district,
			FacilityName:   model.NoFacilitiesName,
			PopWithinBands: make([]float64, len(bandsKm)),
			PctWithinBands: make([]float64, len(bandsKm)),
		}}, nil
	}

	byFacility := make(map[string][]model.GridCell)
	for _, c := range assigned {
		byFacility[c.FacilityName] = append(byFacility[c.FacilityName], c)
	}

	names := make([]string, 0, len(byFacility))
	for name := range byFacility {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]model.FacilityMetrics, 0, len(names)+1)
	for _, name := range names {
		rows = append(rows, summarize(district, name, byFacility[name], bandsKm))
	}
	rows = append(rows, summarize(district, model.DistrictTotalName, assigned, bandsKm))

	zap.L().Info("metrics: aggregated",
		zap.String("district", district),
		zap.Int("facilities", len(names)),
		zap.Int("assigned_cells", len(assigned)),
	)
	return rows, nil
}

func summarize(district, name string, cells []model.GridCell, bandsKm []float64) model.FacilityMetrics {
	dists := make([]float64, len(cells))
	times := make([]float64, len(cells))
	pops := make([]float64, len(cells))
	for i, c := range cells {
		dists[i] = c.RouteKm
		times[i] = c.TravelTimeMin
		pops[i] = c.Population
	}

	popServed := floats.Sum(pops)

	sorted := append([]float64(nil), dists...)
	sort.Float64s(sorted)

	m := model.FacilityMetrics{
		District:         district,
		FacilityName:     name,
		CellsServed:      len(cells),
		PopulationServed: popServed,
		MeanDistanceKm:   stat.Mean(dists, nil),
		MedianDistanceKm: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		MinDistanceKm:    floats.Min(dists),
		MaxDistanceKm:    floats.Max(dists),
	}

	if popServed > 0 {
		m.PopWeightedDistanceKm = stat.Mean(dists, pops)
		m.PopWeightedTimeMin = stat.Mean(times, pops)
	} else {
		m.PopWeightedDistanceKm = m.MeanDistanceKm
		m.PopWeightedTimeMin = stat.Mean(times, nil)
	}

	m.PopWithinBands = make([]float64, len(bandsKm))
	m.PctWithinBands = make([]float64, len(bandsKm))
	for bi, band := range bandsKm {
		var within float64
		for i, d := range dists {
			if d <= band {
				within += pops[i]
			}
		}
		m.PopWithinBands[bi] = within
		if popServed > 0 {
			m.PctWithinBands[bi] = within / popServed * 100
		}
	}

	return m
}

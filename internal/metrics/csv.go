package metrics

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/geohealth/access-cli/internal/model"
)

// WriteCSV writes metric rows to a CSV report. Band columns are named from
// the configured bands (pop_within_5km, pct_within_5km, ...), so the header
// is assembled per run rather than from struct tags.
func WriteCSV(path string, rows []model.FacilityMetrics, bandsKm []float64) error {
	if len(bandsKm) == 0 {
		bandsKm = DefaultBandsKm
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "metrics: create %s", path)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)

	header := []string{
		"district", "facility_name", "total_grids_served", "population_served",
		"mean_distance_km", "median_distance_km", "min_distance_km", "max_distance_km",
		"pop_weighted_distance_km", "pop_weighted_time_min",
	}
	for _, band := range bandsKm {
		label := strconv.FormatFloat(band, 'f', -1, 64) + "km"
		header = append(header, "pop_within_"+label, "pct_within_"+label)
	}
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "metrics: write header")
	}

	for _, m := range rows {
		rec := []string{
			m.District,
			m.FacilityName,
			strconv.Itoa(m.CellsServed),
			fmtFloat(m.PopulationServed),
			fmtFloat(m.MeanDistanceKm),
			fmtFloat(m.MedianDistanceKm),
			fmtFloat(m.MinDistanceKm),
			fmtFloat(m.MaxDistanceKm),
			fmtFloat(m.PopWeightedDistanceKm),
			fmtFloat(m.PopWeightedTimeMin),
		}
		for i := range bandsKm {
			var pop, pct float64
			if i < len(m.PopWithinBands) {
				pop = m.PopWithinBands[i]
			}
			if i < len(m.PctWithinBands) {
				pct = m.PctWithinBands[i]
			}
			rec = append(rec, fmtFloat(pop), fmtFloat(pct))
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrap(err, "metrics: write row")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "metrics: flush %s", path)
	}
	return nil
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

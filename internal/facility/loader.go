// Package facility loads health facility registries from CSV and XLSX
// exports, normalizes them, and validates their coordinates.
package facility

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/geohealth/access-cli/internal/model"
)

// Registry exports name their columns inconsistently; these are the header
// spellings accepted for each field, tried in order. Matching is
// case-insensitive after trimming.
var (
	nameHeaders  = []string{"facility_name", "name", "fosa_name", "nom", "facility"}
	typeHeaders  = []string{"facility_type", "type", "fosa_type", "categorie", "category"}
	latHeaders   = []string{"latitude", "lat", "y", "lat_dd"}
	lngHeaders   = []string{"longitude", "lon", "lng", "long", "x", "lon_dd"}
	eastHeaders  = []string{"easting", "utm_x", "x_utm"}
	northHeaders = []string{"northing", "utm_y", "y_utm"}
)

// Options controls loading.
type Options struct {
	// Sheet selects the XLSX worksheet by name; empty means the first sheet.
	Sheet string
	// UTMZone enables conversion of easting/northing columns when the file
	// has no geographic coordinates. Zero disables UTM handling.
	UTMZone  int
	Southern bool
	// Type filters facilities to one facility type (case-insensitive);
	// empty keeps all.
	Type string
}

// Load reads facilities from a CSV or XLSX file, dispatching on extension.
// Facility IDs are assigned in input order after deduplication.
func Load(path string, opts Options) ([]model.Facility, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path, opts.Sheet)
	default:
		return nil, eris.Errorf("facility: unsupported file type %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return parseRows(rows, path, opts)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "facility: open %s", path)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "facility: read %s", path)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSX(path, sheet string) ([][]string, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "facility: open %s", path)
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("facility: no sheets in %s", path)
	}

	sh := wb.Sheets[0]
	if sheet != "" {
		found, ok := wb.Sheet[sheet]
		if !ok {
			return nil, eris.Errorf("facility: sheet %q not found in %s", sheet, path)
		}
		sh = found
	}

	var rows [][]string
	for _, row := range sh.Rows {
		rec := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			rec = append(rec, cell.String())
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func parseRows(rows [][]string, path string, opts Options) ([]model.Facility, error) {
	if len(rows) < 2 {
		return nil, eris.Errorf("facility: %s has no data rows", path)
	}

	header := rows[0]
	nameIdx := findHeader(header, nameHeaders)
	typeIdx := findHeader(header, typeHeaders)
	latIdx := findHeader(header, latHeaders)
	lngIdx := findHeader(header, lngHeaders)

	utm := false
	if latIdx < 0 || lngIdx < 0 {
		eastIdx := findHeader(header, eastHeaders)
		northIdx := findHeader(header, northHeaders)
		if eastIdx >= 0 && northIdx >= 0 && opts.UTMZone > 0 {
			latIdx, lngIdx = northIdx, eastIdx
			utm = true
		} else {
			return nil, eris.Errorf("facility: %s has no recognizable coordinate columns", path)
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("facility: %s has no recognizable name column", path)
	}

	var (
		facilities []model.Facility
		badCoords  int
	)
	seen := make(map[string]struct{})

	for _, rec := range rows[1:] {
		name := strings.TrimSpace(cell(rec, nameIdx))
		if name == "" {
			continue
		}

		lat, latErr := strconv.ParseFloat(strings.TrimSpace(cell(rec, latIdx)), 64)
		lng, lngErr := strconv.ParseFloat(strings.TrimSpace(cell(rec, lngIdx)), 64)
		if latErr != nil || lngErr != nil {
			badCoords++
			continue
		}

		if utm {
			var err error
			lng, lat, err = UTMToLonLat(lng, lat, opts.UTMZone, !opts.Southern)
			if err != nil {
				badCoords++
				continue
			}
		}

		if !model.ValidCoordinates(lat, lng) {
			badCoords++
			continue
		}

		ftype := strings.TrimSpace(cell(rec, typeIdx))
		if opts.Type != "" && !strings.EqualFold(ftype, opts.Type) {
			continue
		}

		// Duplicate registry entries are common across export vintages;
		// the same normalized name at the same location counts once.
		key := dedupKey(name, lat, lng)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		facilities = append(facilities, model.Facility{
			ID:        len(facilities),
			Name:      name,
			Type:      ftype,
			Latitude:  lat,
			Longitude: lng,
		})
	}

	if badCoords > 0 {
		zap.L().Warn("facility: skipped rows with unusable coordinates",
			zap.String("path", path),
			zap.Int("skipped", badCoords),
		)
	}
	if len(facilities) == 0 {
		// Not an error: downstream phases report "no assignments" so the
		// operator sees which district had an empty registry.
		zap.L().Warn("facility: no usable facilities", zap.String("path", path))
		return facilities, nil
	}

	zap.L().Info("facility: loaded registry",
		zap.String("path", path),
		zap.Int("facilities", len(facilities)),
	)
	return facilities, nil
}

// dedupKey folds case and Unicode representation so "Hôpital" and "hôpital"
// in NFD collapse, and rounds coordinates to ~11 m so re-digitized points
// match.
func dedupKey(name string, lat, lng float64) string {
	folded := cases.Fold().String(norm.NFC.String(name))
	return fmt.Sprintf("%s|%.4f|%.4f", folded, lat, lng)
}

func findHeader(header []string, candidates []string) int {
	for _, cand := range candidates {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), cand) {
				return i
			}
		}
	}
	return -1
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// CheckRegion reports facilities falling outside the configured region
// bounding box. A few strays are a data-entry smell worth a warning; if the
// majority are outside, the file is probably in the wrong CRS and loading
// fails.
func CheckRegion(facilities []model.Facility, bbox model.BBox, region string) error {
	if bbox.IsZero() {
		return nil
	}

	var outside int
	for _, f := range facilities {
		if !bbox.Contains(f.Latitude, f.Longitude) {
			outside++
		}
	}
	if outside == 0 {
		return nil
	}
	if outside*2 > len(facilities) {
		return eris.Errorf("facility: %d of %d facilities outside %s bounds, coordinates are likely not WGS84",
			outside, len(facilities), region)
	}
	zap.L().Warn("facility: facilities outside region bounds",
		zap.String("region", region),
		zap.Int("outside", outside),
		zap.Int("total", len(facilities)),
	)
	return nil
}

package boundary

import (
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/geohealth/access-cli/internal/model"
)

// WriteCellsCSV writes grid cells as a flat CSV table, one row per cell.
// Columns come from the GridCell csv tags; geometry is omitted, the GeoJSON
// export carries it.
func WriteCellsCSV(path string, cells []model.GridCell) error {
	data, err := csvutil.Marshal(cells)
	if err != nil {
		return eris.Wrap(err, "boundary: marshal cells csv")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "boundary: write %s", path)
	}
	return nil
}

// ReadCellsCSV reads cells previously written by WriteCellsCSV. Geometry is
// not restored.
func ReadCellsCSV(path string) ([]model.GridCell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read %s", path)
	}
	var cells []model.GridCell
	if err := csvutil.Unmarshal(data, &cells); err != nil {
		return nil, eris.Wrapf(err, "boundary: parse %s", path)
	}
	return cells, nil
}

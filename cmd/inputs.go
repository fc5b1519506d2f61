package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/model"
)

// loadDistricts reads all districts from a boundary file, dispatching on the
// file extension.
func loadDistricts(path string) ([]model.District, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return boundary.ReadDistrictGeoJSON(path)
	case ".shp":
		return boundary.LoadShapefile(path)
	default:
		return nil, eris.Errorf("unsupported boundary format %q (want .geojson or .shp)", filepath.Ext(path))
	}
}

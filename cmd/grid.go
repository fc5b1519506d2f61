package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/hexgrid"
	"github.com/geohealth/access-cli/internal/model"
)

var (
	gridBoundary   string
	gridDistrict   string
	gridResolution int
	gridOut        string
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Tile a district into H3 hexagonal cells",
	RunE: func(cmd *cobra.Command, args []string) error {
		district, err := loadDistrictFile(gridBoundary, gridDistrict)
		if err != nil {
			return err
		}

		resolution := gridResolution
		if resolution == 0 {
			resolution = cfg.Grid.Resolution
		}

		cells, err := hexgrid.Generate(district, resolution)
		if err != nil {
			return err
		}

		if err := boundary.WriteCellsGeoJSON(gridOut, cells); err != nil {
			return err
		}
		zap.L().Info("grid written",
			zap.String("district", district.Name),
			zap.Int("cells", len(cells)),
			zap.String("out", gridOut),
		)
		return nil
	},
}

// loadDistrictFile reads a boundary file by extension and selects a district.
func loadDistrictFile(path, name string) (model.District, error) {
	if path == "" {
		return model.District{}, eris.New("boundary file is required")
	}
	districts, err := loadDistricts(path)
	if err != nil {
		return model.District{}, err
	}
	return boundary.Select(districts, name)
}

func init() {
	gridCmd.Flags().StringVar(&gridBoundary, "boundary", "", "district boundary file, GeoJSON or shapefile (required)")
	gridCmd.Flags().StringVar(&gridDistrict, "district", "", "district name (defaults to the first feature)")
	gridCmd.Flags().IntVar(&gridResolution, "resolution", 0, "H3 resolution 0-15 (default from config)")
	gridCmd.Flags().StringVar(&gridOut, "out", "cells.geojson", "output GeoJSON path")
	_ = gridCmd.MarkFlagRequired("boundary")
	rootCmd.AddCommand(gridCmd)
}

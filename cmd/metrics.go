package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/metrics"
	"github.com/geohealth/access-cli/internal/model"
)

var (
	metricsCells    string
	metricsDistrict string
	metricsType     string
	metricsOut      string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Aggregate population-weighted accessibility metrics",
	Long:  "Summarizes routed cells into per-facility statistics plus a district total: population served, distance distribution, and cumulative distance bands.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cells, err := loadCellsFile(metricsCells)
		if err != nil {
			return err
		}

		bands := resolveBands(metricsType)
		rows, err := metrics.Aggregate(metricsDistrict, cells, bands)
		if err != nil {
			return err
		}

		if err := metrics.WriteCSV(metricsOut, rows, bands); err != nil {
			return err
		}
		zap.L().Info("metrics written",
			zap.Int("facilities", len(rows)-1),
			zap.Float64s("bands_km", bands),
			zap.String("out", metricsOut),
		)
		return nil
	},
}

// loadCellsFile reads cells from GeoJSON or CSV, dispatching on extension.
func loadCellsFile(path string) ([]model.GridCell, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return boundary.ReadCellsGeoJSON(path)
	case ".csv":
		return boundary.ReadCellsCSV(path)
	default:
		return nil, eris.Errorf("unsupported cells format %q (want .geojson or .csv)", filepath.Ext(path))
	}
}

// resolveBands picks the distance bands for a facility type: per-type
// profiles when configured, then the configured default, then the built-in
// 5/10/20 km bands.
func resolveBands(facilityType string) []float64 {
	if cfg.Metrics.ProfilesPath != "" {
		profiles, err := metrics.LoadProfiles(cfg.Metrics.ProfilesPath)
		if err != nil {
			zap.L().Warn("failed to load metric profiles, using defaults", zap.Error(err))
		} else {
			return profiles.BandsFor(facilityType)
		}
	}
	if len(cfg.Metrics.BandsKm) > 0 {
		return cfg.Metrics.BandsKm
	}
	return metrics.DefaultBandsKm
}

func init() {
	metricsCmd.Flags().StringVar(&metricsCells, "cells", "", "routed cells, GeoJSON or CSV (required)")
	metricsCmd.Flags().StringVar(&metricsDistrict, "district", "", "district name for the report")
	metricsCmd.Flags().StringVar(&metricsType, "type", "", "facility type, selects per-type distance bands when profiles are configured")
	metricsCmd.Flags().StringVar(&metricsOut, "out", "metrics.csv", "output CSV path")
	_ = metricsCmd.MarkFlagRequired("cells")
	rootCmd.AddCommand(metricsCmd)
}

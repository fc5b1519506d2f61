package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/assign"
	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/facility"
)

var (
	assignCells      string
	assignFacilities string
	assignType       string
	assignOut        string
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign each cell to its nearest facility",
	Long:  "Builds a KD-tree over the facility coordinates and assigns every cell to the facility nearest its centroid, recording the straight-line distance.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cells, err := boundary.ReadCellsGeoJSON(assignCells)
		if err != nil {
			return err
		}

		facilities, err := facility.Load(assignFacilities, facility.Options{
			Type:    assignType,
			UTMZone: cfg.Region.UTMZone,
		})
		if err != nil {
			return err
		}
		if err := facility.CheckRegion(facilities, cfg.Region.BBox, cfg.Region.Name); err != nil {
			return err
		}

		if err := assign.Assign(cells, facilities); err != nil {
			return err
		}

		out := assignOut
		if out == "" {
			out = assignCells
		}
		if err := boundary.WriteCellsGeoJSON(out, cells); err != nil {
			return err
		}
		zap.L().Info("assignment written",
			zap.Int("cells", len(cells)),
			zap.Int("facilities", len(facilities)),
			zap.String("out", out),
		)
		return nil
	},
}

func init() {
	assignCmd.Flags().StringVar(&assignCells, "cells", "", "cells GeoJSON (required)")
	assignCmd.Flags().StringVar(&assignFacilities, "facilities", "", "facility list, CSV or XLSX (required)")
	assignCmd.Flags().StringVar(&assignType, "type", "", "only include facilities of this type")
	assignCmd.Flags().StringVar(&assignOut, "out", "", "output GeoJSON path (default: overwrite --cells)")
	_ = assignCmd.MarkFlagRequired("cells")
	_ = assignCmd.MarkFlagRequired("facilities")
	rootCmd.AddCommand(assignCmd)
}

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/raster"
)

var (
	popCells  string
	popRaster string
	popOut    string
)

var populationCmd = &cobra.Command{
	Use:   "population",
	Short: "Attribute cell population from a raster",
	Long:  "Sums positive raster pixels whose centers fall inside each hexagon and writes the population onto the cells.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cells, err := boundary.ReadCellsGeoJSON(popCells)
		if err != nil {
			return err
		}

		r, err := raster.OpenGeoTIFF(popRaster)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck

		total, populated, err := raster.Populate(r, cells)
		if err != nil {
			return err
		}

		out := popOut
		if out == "" {
			out = popCells
		}
		if err := boundary.WriteCellsGeoJSON(out, cells); err != nil {
			return err
		}
		zap.L().Info("population written",
			zap.Float64("total_population", total),
			zap.Int("populated_cells", populated),
			zap.Int("cells", len(cells)),
			zap.String("out", out),
		)
		return nil
	},
}

func init() {
	populationCmd.Flags().StringVar(&popCells, "cells", "", "cells GeoJSON from the grid step (required)")
	populationCmd.Flags().StringVar(&popRaster, "raster", "", "population GeoTIFF (required)")
	populationCmd.Flags().StringVar(&popOut, "out", "", "output GeoJSON path (default: overwrite --cells)")
	_ = populationCmd.MarkFlagRequired("cells")
	_ = populationCmd.MarkFlagRequired("raster")
	rootCmd.AddCommand(populationCmd)
}

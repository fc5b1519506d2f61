package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/metrics"
	"github.com/geohealth/access-cli/internal/model"
	"github.com/geohealth/access-cli/internal/pipeline"
)

var (
	runDistrict   string
	runBoundary   string
	runFacilities string
	runRaster     string
	runType       string
	runResolution int
	runOSRMURL    string
	runCellsOut   string
	runCSVOut     string
	runMetricsOut string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full accessibility analysis for a district",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		engine := buildEngine(runOSRMURL)
		if engine == nil {
			zap.L().Warn("no routing engine configured, all cells will use the straight-line fallback")
		}

		p := pipeline.New(cfg, st, engine)
		out, err := p.Run(ctx, model.RunInput{
			District:      runDistrict,
			BoundaryPath:  runBoundary,
			FacilityPath:  runFacilities,
			RasterPath:    runRaster,
			FacilityType:  runType,
			H3Resolution:  runResolution,
			RoutingTarget: runOSRMURL,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		if runCellsOut != "" {
			if err := boundary.WriteCellsGeoJSON(runCellsOut, out.Cells); err != nil {
				return err
			}
		}
		if runCSVOut != "" {
			if err := boundary.WriteCellsCSV(runCSVOut, out.Cells); err != nil {
				return err
			}
		}
		if runMetricsOut != "" {
			if err := metrics.WriteCSV(runMetricsOut, out.Metrics, resolveBands(runType)); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runDistrict, "district", "", "district name to analyze (defaults to the first feature)")
	runCmd.Flags().StringVar(&runBoundary, "boundary", "", "district boundary file, GeoJSON or shapefile (required)")
	runCmd.Flags().StringVar(&runFacilities, "facilities", "", "facility list, CSV or XLSX (required)")
	runCmd.Flags().StringVar(&runRaster, "raster", "", "population GeoTIFF (optional; without it cells are weighted equally)")
	runCmd.Flags().StringVar(&runType, "type", "", "only include facilities of this type")
	runCmd.Flags().IntVar(&runResolution, "resolution", 0, "H3 resolution 0-15 (default from config)")
	runCmd.Flags().StringVar(&runOSRMURL, "osrm-url", "", "OSRM base URL, or 'none' to skip routing (default from config)")
	runCmd.Flags().StringVar(&runCellsOut, "cells-geojson", "", "write per-cell results to this GeoJSON file")
	runCmd.Flags().StringVar(&runCSVOut, "cells-csv", "", "write per-cell results to this CSV file")
	runCmd.Flags().StringVar(&runMetricsOut, "metrics-csv", "", "write the facility metrics report to this CSV file")
	_ = runCmd.MarkFlagRequired("boundary")
	_ = runCmd.MarkFlagRequired("facilities")
	rootCmd.AddCommand(runCmd)
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/geohealth/access-cli/internal/facility"
	"github.com/geohealth/access-cli/internal/raster"
)

var (
	validateBoundary   string
	validateFacilities string
	validateRaster     string
	validateType       string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate input files before a run",
	Long:  "Loads the boundary, facility list, and raster, checks facility coordinates against the configured region, and prints a summary without writing anything.",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush() //nolint:errcheck

		districts, err := loadDistricts(validateBoundary)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "Boundary:\t%s (%d districts)\n", validateBoundary, len(districts))
		for _, d := range districts {
			_, _ = fmt.Fprintf(w, "  %s\n", d.Name)
		}

		if validateFacilities != "" {
			facilities, loadErr := facility.Load(validateFacilities, facility.Options{
				Type:    validateType,
				UTMZone: cfg.Region.UTMZone,
			})
			if loadErr != nil {
				return loadErr
			}
			if checkErr := facility.CheckRegion(facilities, cfg.Region.BBox, cfg.Region.Name); checkErr != nil {
				return checkErr
			}
			_, _ = fmt.Fprintf(w, "Facilities:\t%s (%d after filtering)\n", validateFacilities, len(facilities))
		}

		if validateRaster != "" {
			r, openErr := raster.OpenGeoTIFF(validateRaster)
			if openErr != nil {
				return openErr
			}
			width, height := r.Width, r.Height
			r.Close() //nolint:errcheck
			_, _ = fmt.Fprintf(w, "Raster:\t%s (%dx%d pixels)\n", validateRaster, width, height)
		}

		_, _ = fmt.Fprintln(w, "OK")
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateBoundary, "boundary", "", "district boundary file, GeoJSON or shapefile (required)")
	validateCmd.Flags().StringVar(&validateFacilities, "facilities", "", "facility list, CSV or XLSX")
	validateCmd.Flags().StringVar(&validateRaster, "raster", "", "population GeoTIFF")
	validateCmd.Flags().StringVar(&validateType, "type", "", "only include facilities of this type")
	_ = validateCmd.MarkFlagRequired("boundary")
	rootCmd.AddCommand(validateCmd)
}

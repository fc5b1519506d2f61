package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/fetcher"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download input data",
	Long:  "Commands for downloading district boundaries and population rasters into the data directory.",
}

// -- fetch boundary --

var (
	fetchBoundaryISO3 string
	fetchBoundaryADM  string
)

var fetchBoundaryCmd = &cobra.Command{
	Use:   "boundary",
	Short: "Download district boundaries from geoBoundaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f := fetcher.NewHTTPFetcher(httpFetchOptions())
		path, err := fetcher.FetchBoundary(ctx, f,
			cfg.Fetch.BoundaryAPIURL, fetchBoundaryISO3, fetchBoundaryADM, cfg.Fetch.DataDir)
		if err != nil {
			return eris.Wrap(err, "fetch boundary")
		}

		fmt.Println(path)
		return nil
	},
}

// -- fetch raster --

var (
	fetchRasterURL string
	fetchRasterOut string
)

var fetchRasterCmd = &cobra.Command{
	Use:   "raster",
	Short: "Download a population raster",
	Long:  "Downloads a GeoTIFF from an HTTP or FTP URL into the data directory. ZIP archives are extracted and the contained .tif is returned.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := fetcher.ForURL(fetchRasterURL, httpFetchOptions())
		if err != nil {
			return err
		}

		dest := fetchRasterOut
		if dest == "" {
			dest = filepath.Join(cfg.Fetch.DataDir, filepath.Base(fetchRasterURL))
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return eris.Wrapf(err, "create %s", filepath.Dir(dest))
		}

		n, err := f.DownloadToFile(ctx, fetchRasterURL, dest)
		if err != nil {
			return eris.Wrap(err, "fetch raster")
		}
		zap.L().Info("raster downloaded", zap.String("path", dest), zap.Int64("bytes", n))

		if strings.EqualFold(filepath.Ext(dest), ".zip") {
			paths, zipErr := fetcher.ExtractZIP(dest, filepath.Dir(dest))
			if zipErr != nil {
				return zipErr
			}
			dest, zipErr = fetcher.FindByExt(paths, ".tif")
			if zipErr != nil {
				return zipErr
			}
		}

		fmt.Println(dest)
		return nil
	},
}

// httpFetchOptions maps the fetch config onto the HTTP fetcher.
func httpFetchOptions() fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   5 * time.Minute,
		RateLimit: 1,
	}
}

func init() {
	fetchBoundaryCmd.Flags().StringVar(&fetchBoundaryISO3, "iso3", "TGO", "ISO3 country code")
	fetchBoundaryCmd.Flags().StringVar(&fetchBoundaryADM, "adm-level", "ADM2", "administrative level (ADM0-ADM4)")

	fetchRasterCmd.Flags().StringVar(&fetchRasterURL, "url", "", "raster URL, HTTP or FTP (required)")
	fetchRasterCmd.Flags().StringVar(&fetchRasterOut, "out", "", "output path (default: data dir + URL basename)")
	_ = fetchRasterCmd.MarkFlagRequired("url")

	fetchCmd.AddCommand(fetchBoundaryCmd)
	fetchCmd.AddCommand(fetchRasterCmd)
	rootCmd.AddCommand(fetchCmd)
}

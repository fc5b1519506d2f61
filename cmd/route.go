package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/boundary"
	"github.com/geohealth/access-cli/internal/route"
)

var (
	routeCells   string
	routeOSRMURL string
	routeOut     string
	routeDLQOut  string
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Compute road-network travel distance and time per cell",
	Long:  "Routes every assigned, populated cell to its facility through OSRM. Cells the engine cannot serve get a straight-line estimate at the configured fallback speed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cells, err := boundary.ReadCellsGeoJSON(routeCells)
		if err != nil {
			return err
		}

		engine := buildEngine(routeOSRMURL)
		if engine == nil {
			n := route.FallbackAll(cells, cfg.OSRM.FallbackSpeedKmh)
			zap.L().Warn("no routing engine configured, using the straight-line fallback",
				zap.Int("fallback", n),
			)
		} else {
			r := route.NewRouter(engine, route.Options{
				FallbackSpeedKmh: cfg.OSRM.FallbackSpeedKmh,
				MaxRetries:       cfg.OSRM.MaxRetries,
				BreakerThreshold: cfg.OSRM.BreakerThreshold,
			})
			res, routeErr := r.RouteCells(ctx, cells)
			if routeErr != nil {
				return routeErr
			}
			if routeDLQOut != "" && r.DLQ().Len() > 0 {
				if dlqErr := r.DLQ().WriteFile(routeDLQOut); dlqErr != nil {
					zap.L().Warn("failed to write DLQ", zap.Error(dlqErr))
				}
			}
			zap.L().Info("routing complete",
				zap.Int("routed", res.Routed),
				zap.Int("fallback", res.Fallback),
				zap.Int("skipped", res.Skipped),
			)
		}

		out := routeOut
		if out == "" {
			out = routeCells
		}
		return boundary.WriteCellsGeoJSON(out, cells)
	},
}

func init() {
	routeCmd.Flags().StringVar(&routeCells, "cells", "", "cells GeoJSON with assignments (required)")
	routeCmd.Flags().StringVar(&routeOSRMURL, "osrm-url", "", "OSRM base URL, or 'none' to skip routing (default from config)")
	routeCmd.Flags().StringVar(&routeOut, "out", "", "output GeoJSON path (default: overwrite --cells)")
	routeCmd.Flags().StringVar(&routeDLQOut, "dlq", "", "write cells that fell back to this JSONL file")
	_ = routeCmd.MarkFlagRequired("cells")
	rootCmd.AddCommand(routeCmd)
}

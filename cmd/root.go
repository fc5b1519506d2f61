package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geohealth/access-cli/internal/config"
	"github.com/geohealth/access-cli/internal/store"
	"github.com/geohealth/access-cli/pkg/osrm"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "access-cli",
	Short: "Healthcare accessibility analysis pipeline",
	Long:  "Tiles districts into H3 hexagonal cells, attributes population from raster data, assigns cells to their nearest facility, routes travel via OSRM, and aggregates population-weighted accessibility metrics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// initStore opens the configured store and runs migrations. Returns nil when
// the driver is "none".
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// requireStore is initStore for commands that cannot work without
// persistence.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("this command requires a store; set store.driver to sqlite or postgres")
	}
	return st, nil
}

// buildEngine constructs the OSRM client, or nil when no engine is
// configured and every cell should use the straight-line fallback.
func buildEngine(baseURL string) osrm.Client {
	if baseURL == "" {
		baseURL = cfg.OSRM.BaseURL
	}
	if baseURL == "" || baseURL == "none" {
		return nil
	}
	opts := []osrm.Option{
		osrm.WithProfile(cfg.OSRM.Profile),
		osrm.WithRateLimit(cfg.OSRM.RateLimit),
	}
	if cfg.OSRM.TimeoutSecs > 0 {
		opts = append(opts, osrm.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.OSRM.TimeoutSecs) * time.Second,
		}))
	}
	return osrm.NewClient(baseURL, opts...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

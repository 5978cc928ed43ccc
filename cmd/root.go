package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "greencover",
	Short: "Green coverage computation and caching engine",
	Long:  "Computes vegetation coverage for cities from satellite rasters and boundary polygons, caches results with per-type TTLs, and recomputes them on a schedule.",
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

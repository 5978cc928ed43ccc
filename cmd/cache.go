package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parkscope/greencover/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the coverage cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Orch.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Total entries:\t%d\n", stats.Total)
		fmt.Fprintf(w, "Valid:\t%d\n", stats.Valid)
		fmt.Fprintf(w, "Expired:\t%d\n", stats.Expired)
		for typ, n := range stats.ByType {
			fmt.Fprintf(w, "  %s:\t%d\n", typ, n)
		}
		return w.Flush()
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Orch.SweepExpired(ctx)
		if err != nil {
			return eris.Wrap(err, "cache sweep")
		}
		fmt.Printf("Removed %d expired entries.\n", n)
		return nil
	},
}

var cacheInvalidateType string

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <city>",
	Short: "Drop cached results for a city",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		calcType, err := parseCalcType(cacheInvalidateType)
		if err != nil {
			return err
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Orch.Invalidate(ctx, args[0], calcType)
		if err != nil {
			return eris.Wrap(err, "cache invalidate")
		}
		fmt.Printf("Removed %d entries for %s.\n", n, args[0])
		return nil
	},
}

func init() {
	cacheStatsCmd.Flags().Bool("json", false, "emit stats as JSON")
	cacheInvalidateCmd.Flags().StringVar(&cacheInvalidateType, "type", "all", "calculation type to drop (satellite, stats, stored, all)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

// parseCalcType maps a CLI flag value to a calculation type. The zero
// CalcType means "all types" to Invalidate.
func parseCalcType(s string) (cache.CalcType, error) {
	switch s {
	case "", "all":
		return cache.CalcType{}, nil
	case cache.CalcSatellite.String():
		return cache.CalcSatellite, nil
	case cache.CalcStats.String():
		return cache.CalcStats, nil
	case cache.CalcStored.String():
		return cache.CalcStored, nil
	default:
		return cache.CalcType{}, eris.Errorf("unknown calculation type %q", s)
	}
}

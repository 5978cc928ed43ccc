package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/parkscope/greencover/internal/cache"
	"github.com/parkscope/greencover/internal/coverage"
)

var reportYear int

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregate statistics over stored coverage records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := cachedSummary(ctx, env, reportYear)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank cities by coverage percentage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Registry.ListRecords(ctx, reportYear)
		if err != nil {
			return eris.Wrap(err, "rank")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tCITY\tCOVERAGE")
		for _, r := range coverage.Rank(records) {
			fmt.Fprintf(w, "%d\t%s\t%.2f%%\n", r.Rank, r.CityName, r.Coverage)
		}
		return w.Flush()
	},
}

var (
	compareFrom int
	compareTo   int
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare coverage between two years",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Registry.ListRecords(ctx, 0)
		if err != nil {
			return eris.Wrap(err, "compare")
		}

		changes := coverage.CompareYears(records, compareFrom, compareTo)
		if len(changes) == 0 {
			fmt.Fprintf(os.Stderr, "No cities have records for both %d and %d.\n", compareFrom, compareTo)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CITY\tFROM\tTO\tDELTA")
		for _, c := range changes {
			fmt.Fprintf(w, "%s\t%.2f%%\t%.2f%%\t%+.2f\n", c.CityName, c.From, c.To, c.Delta)
		}
		return w.Flush()
	},
}

func init() {
	summaryCmd.Flags().IntVar(&reportYear, "year", 0, "filter by scene year (0 = all)")
	rankCmd.Flags().IntVar(&reportYear, "year", 0, "filter by scene year (0 = all)")
	compareCmd.Flags().IntVar(&compareFrom, "from", 0, "baseline year")
	compareCmd.Flags().IntVar(&compareTo, "to", 0, "comparison year")
	_ = compareCmd.MarkFlagRequired("from")
	_ = compareCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(compareCmd)
}

// cachedSummary computes aggregate statistics through the cache. Batch runs
// invalidate stats entries whenever a city gets a fresh result, so a cached
// summary never outlives the records it was built from.
func cachedSummary(ctx context.Context, env *appEnv, year int) (*coverage.Summary, error) {
	req := cache.Request{
		Type:   cache.CalcStats,
		Params: map[string]any{"year": year},
	}

	payload, _, err := env.Orch.GetOrCompute(ctx, req, func(ctx context.Context) (any, error) {
		records, err := env.Registry.ListRecords(ctx, year)
		if err != nil {
			return nil, eris.Wrap(err, "list records")
		}
		return coverage.Summarize(records)
	})
	if err != nil {
		return nil, err
	}

	var summary coverage.Summary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, eris.Wrap(err, "decode cached summary")
	}
	return &summary, nil
}

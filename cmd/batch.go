package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchCity string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Recompute coverage for all registered cities",
	Long:  "Runs a bounded-concurrency batch over every registered city with discoverable data files, refreshing cache entries and stored records. Individual failures are isolated; the run stops early only on its wall-clock budget.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Runner.Run(ctx, batchCity)
		if err != nil {
			return err
		}

		zap.L().Info("batch run finished",
			zap.String("state", string(summary.State)),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchCity, "city", "", "limit the run to one registered city")
	rootCmd.AddCommand(batchCmd)
}

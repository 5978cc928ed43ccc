package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parkscope/greencover/internal/scheduler"
)

var scheduleNow bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the background scheduler",
	Long:  "Starts the weekly full-recomputation job and the daily cache sweep, then waits for SIGINT/SIGTERM. Fire times come from the schedule section of the config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Schedule.Enabled {
			return eris.New("schedule.enabled is false")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched := scheduler.New(env.Runner, env.Orch, cfg.Schedule)
		if err := sched.Start(); err != nil {
			return err
		}

		if scheduleNow {
			go func() {
				if _, err := sched.Trigger(ctx, ""); err != nil {
					zap.L().Error("initial run failed", zap.Error(err))
				}
			}()
		}

		<-ctx.Done()
		zap.L().Info("shutting down scheduler")
		sched.Stop()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "trigger a full run immediately on startup")
	rootCmd.AddCommand(scheduleCmd)
}

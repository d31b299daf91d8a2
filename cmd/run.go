package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the campaign scheduler",
	Long:  "Polls for due enrollments, claims them, and executes campaign steps until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if runOnce {
			n, err := env.Scheduler.PollDue(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("poll complete", zap.Int("claimed", n))
			return nil
		}

		zap.L().Info("scheduler starting",
			zap.Int("workers", cfg.Scheduler.Workers),
			zap.Int("poll_interval_secs", cfg.Scheduler.PollIntervalSecs),
		)
		return env.Scheduler.Run(ctx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "poll one batch and exit")
	rootCmd.AddCommand(runCmd)
}

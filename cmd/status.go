package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <campaign-id>",
	Short: "Show enrollment state counts for a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		camp, err := env.Store.GetCampaign(ctx, args[0])
		if err != nil {
			return err
		}
		counts, err := env.Store.CountEnrollments(ctx, camp.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s v%d", camp.Name, camp.Version)
		if camp.Paused {
			fmt.Print(" (paused)")
		}
		fmt.Println()

		order := []model.EnrollmentState{
			model.EnrollmentPending,
			model.EnrollmentActive,
			model.EnrollmentWaiting,
			model.EnrollmentCompleted,
			model.EnrollmentFailed,
			model.EnrollmentStopped,
		}
		total := 0
		for _, st := range order {
			if n := counts[st]; n > 0 {
				fmt.Printf("  %-10s %d\n", st, n)
				total += n
			}
		}
		fmt.Printf("  %-10s %d\n", "total", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

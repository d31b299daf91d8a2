package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/scheduler"
	"github.com/sells-group/outreach-engine/internal/store"
)

var (
	enrollCampaignID string
	listCampaignID   string
	listState        string
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <lead-id>",
	Short: "Enroll a lead in a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		enr, err := scheduler.Enroll(ctx, env.Store, args[0], enrollCampaignID, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("enrolled %s in %s (enrollment %s, due %s)\n",
			enr.LeadID, enr.CampaignID, enr.ID, enr.NextDueAt.Format(time.RFC3339))
		return nil
	},
}

var enrollmentsCmd = &cobra.Command{
	Use:   "enrollments",
	Short: "List enrollments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		filter := store.EnrollmentFilter{CampaignID: listCampaignID}
		if listState != "" {
			filter.State = model.EnrollmentState(listState)
		}
		list, err := env.Store.ListEnrollments(ctx, filter)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No enrollments")
			return nil
		}
		for _, e := range list {
			fmt.Printf("%s  lead=%s campaign=%s step=%d state=%s due=%s\n",
				e.ID, e.LeadID, e.CampaignID, e.CurrentStepIndex, e.State,
				e.NextDueAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollCampaignID, "campaign", "", "campaign ID (required)")
	_ = enrollCmd.MarkFlagRequired("campaign")
	rootCmd.AddCommand(enrollCmd)

	enrollmentsCmd.Flags().StringVar(&listCampaignID, "campaign", "", "filter by campaign ID")
	enrollmentsCmd.Flags().StringVar(&listState, "state", "", "filter by state")
	rootCmd.AddCommand(enrollmentsCmd)
}

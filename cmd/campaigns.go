package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/campaign"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Manage campaign definitions",
}

var campaignsLoadCmd = &cobra.Command{
	Use:   "load <file.yaml>",
	Short: "Load or update a campaign from a YAML definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		def, err := campaign.LoadFile(args[0])
		if err != nil {
			return err
		}

		camp, err := campaign.Register(ctx, env.Store, def)
		if err != nil {
			return err
		}

		zap.L().Info("campaign loaded",
			zap.String("id", camp.ID),
			zap.String("name", camp.Name),
			zap.Int("version", camp.Version),
			zap.Int("steps", len(camp.Steps)),
		)
		fmt.Printf("%s  %s v%d (%d steps)\n", camp.ID, camp.Name, camp.Version, len(camp.Steps))
		return nil
	},
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		campaigns, err := env.Store.ListCampaigns(ctx)
		if err != nil {
			return err
		}
		if len(campaigns) == 0 {
			fmt.Println("No campaigns registered")
			return nil
		}
		for _, c := range campaigns {
			status := "active"
			if c.Paused {
				status = "paused"
			}
			fmt.Printf("%s  %s v%d  %d steps  %s\n", c.ID, c.Name, c.Version, len(c.Steps), status)
		}
		return nil
	},
}

var campaignsPauseCmd = &cobra.Command{
	Use:   "pause <campaign-id>",
	Short: "Pause a campaign (its enrollments stop being claimed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCampaignPaused(cmd, args[0], true)
	},
}

var campaignsResumeCmd = &cobra.Command{
	Use:   "resume <campaign-id>",
	Short: "Resume a paused campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCampaignPaused(cmd, args[0], false)
	},
}

func setCampaignPaused(cmd *cobra.Command, id string, paused bool) error {
	ctx := cmd.Context()

	env, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.Store.SetCampaignPaused(ctx, id, paused); err != nil {
		return err
	}
	state := "resumed"
	if paused {
		state = "paused"
	}
	fmt.Printf("campaign %s %s\n", id, state)
	return nil
}

func init() {
	campaignsCmd.AddCommand(campaignsLoadCmd)
	campaignsCmd.AddCommand(campaignsListCmd)
	campaignsCmd.AddCommand(campaignsPauseCmd)
	campaignsCmd.AddCommand(campaignsResumeCmd)
	rootCmd.AddCommand(campaignsCmd)
}

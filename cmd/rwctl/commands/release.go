package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/rubricwatch/internal/printer"
	"github.com/dyluth/rubricwatch/internal/reconcile"
	"github.com/dyluth/rubricwatch/internal/report"
)

var releaseScenario string

var releaseCmd = &cobra.Command{
	Use:   "release SESSION GROUP",
	Short: "Release a group's checklist to its viewers",
	Long: `Open a group's release gate and broadcast its checklist.

Releasing is idempotent. The first release time is kept.

Examples:
  rwctl release chem-101 2
  rwctl release chem-101 2 --scenario "Back titration of chalk"`,
	Args: cobra.ExactArgs(2),
	RunE: runRelease,
}

func init() {
	releaseCmd.Flags().StringVar(&releaseScenario, "scenario", "", "Scenario text to record if the session has none")
	rootCmd.AddCommand(releaseCmd)
}

func runRelease(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	group, err := parseGroup(args[1])
	if err != nil {
		return err
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	snapshot, err := client.Release(context.Background(), sessionID, group, reconcile.OptimisticPayload{Scenario: releaseScenario})
	if err != nil {
		return apiError("release group", err)
	}

	printer.Success("Released group %d of session '%s'\n", group, sessionID)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", report.Summarize(snapshot))
	return nil
}

package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/rubricwatch/internal/printer"
)

var resetConfirm bool

var resetCmd = &cobra.Command{
	Use:   "reset SESSION",
	Short: "Delete everything stored for a session",
	Long: `Delete a session's criteria, progress, release gates and scenario.

This cannot be undone. Pass --yes to confirm.

Examples:
  rwctl reset chem-101 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetConfirm, "yes", "y", false, "Confirm deletion")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	if !resetConfirm {
		return printer.Error(
			"confirmation required",
			"Resetting a session deletes all of its criteria and progress.",
			[]string{"Re-run with --yes:\n  rwctl reset " + sessionID + " --yes"},
		)
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if err := client.TeardownSession(context.Background(), sessionID); err != nil {
		return apiError("reset session", err)
	}

	printer.Success("Session '%s' reset\n", sessionID)
	return nil
}

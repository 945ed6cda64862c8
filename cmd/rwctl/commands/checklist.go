package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/rubricwatch/internal/printer"
	"github.com/dyluth/rubricwatch/internal/report"
)

var checklistOutputFormat string

var checklistCmd = &cobra.Command{
	Use:   "checklist",
	Short: "Inspect group checklists",
}

var checklistShowCmd = &cobra.Command{
	Use:   "show SESSION GROUP",
	Short: "Show a group's current checklist",
	Long: `Show a group's current checklist as the server sees it.

This is a read-only resync: nothing is written or broadcast.

Output Formats:
  default - Human-readable table with status, criterion and quote
  json    - Pretty-printed snapshot JSON

Examples:
  rwctl checklist show chem-101 2
  rwctl checklist show chem-101 2 -o json | jq '.criteria[] | select(.completed)'`,
	Args: cobra.ExactArgs(2),
	RunE: runChecklistShow,
}

func init() {
	checklistShowCmd.Flags().StringVarP(&checklistOutputFormat, "output", "o", "default", "Output format (default or json)")
	checklistCmd.AddCommand(checklistShowCmd)
	rootCmd.AddCommand(checklistCmd)
}

func runChecklistShow(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	group, err := parseGroup(args[1])
	if err != nil {
		return err
	}

	if checklistOutputFormat != "default" && checklistOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", checklistOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	snapshot, err := client.GetSnapshot(context.Background(), sessionID, group)
	if err != nil {
		return apiError("fetch checklist", err)
	}

	if checklistOutputFormat == "json" {
		return report.FormatSingleJSON(cmd.OutOrStdout(), snapshot)
	}
	report.FormatTable(cmd.OutOrStdout(), snapshot, sessionID, printer.Status)
	return nil
}

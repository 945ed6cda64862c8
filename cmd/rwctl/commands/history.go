package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/rubricwatch/internal/filter"
	"github.com/dyluth/rubricwatch/internal/printer"
	"github.com/dyluth/rubricwatch/internal/report"
	"github.com/dyluth/rubricwatch/internal/timespec"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

var (
	historyOutputFormat string
	historySince        string
	historyUntil        string
	historyStatus       string
	historyCriterion    string
)

var historyCmd = &cobra.Command{
	Use:   "history SESSION GROUP",
	Short: "List recorded status transitions for a group",
	Long: `List every status transition recorded for a group, oldest first,
read directly from the progress store.

Time Filters:
  --since  - Show transitions after this time
  --until  - Show transitions before this time

Content Filters:
  --status     - Comma-separated statuses (grey, red, green)
  --criterion  - Glob on the criterion description ("*indicator*")

Output Formats:
  default - Human-readable table
  jsonl   - Line-delimited JSON, one transition per line

Examples:
  rwctl history chem-101 2
  rwctl history chem-101 2 --since 15m --status green
  rwctl history chem-101 2 -o jsonl | jq .quote`,
	Args: cobra.ExactArgs(2),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Show transitions after time (duration or RFC3339)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Show transitions before time (duration or RFC3339)")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Comma-separated statuses to include")
	historyCmd.Flags().StringVar(&historyCriterion, "criterion", "", "Filter by criterion description (glob pattern)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	group, err := parseGroup(args[1])
	if err != nil {
		return err
	}

	if historyOutputFormat != "default" && historyOutputFormat != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", historyOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	criteria, err := buildHistoryFilter(time.Now())
	if err != nil {
		return printer.Error("invalid filter", err.Error(), []string{"See: rwctl history --help"})
	}

	ctx := context.Background()
	store, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.GetCriteria(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load criteria: %w", err)
	}
	progress, err := store.GetProgress(ctx, sessionID, group)
	if err != nil {
		return fmt.Errorf("failed to load progress: %w", err)
	}

	transitions := criteria.Apply(report.BuildHistory(list, progress))

	if historyOutputFormat == "jsonl" {
		return report.FormatHistoryJSONL(cmd.OutOrStdout(), transitions)
	}
	report.FormatHistory(cmd.OutOrStdout(), transitions, sessionID, group, printer.Status)
	return nil
}

// buildHistoryFilter turns the history flags into filter criteria.
func buildHistoryFilter(now time.Time) (*filter.Criteria, error) {
	sinceMs, untilMs, err := timespec.ParseRange(historySince, historyUntil, now)
	if err != nil {
		return nil, err
	}

	var statuses []checklist.Status
	if historyStatus != "" {
		for _, part := range strings.Split(historyStatus, ",") {
			s, err := checklist.ParseStatus(part)
			if err != nil {
				return nil, fmt.Errorf("invalid --status: %w", err)
			}
			statuses = append(statuses, s)
		}
	}

	return &filter.Criteria{
		SinceTimestampMs: sinceMs,
		UntilTimestampMs: untilMs,
		Statuses:         statuses,
		DescriptionGlob:  historyCriterion,
	}, nil
}

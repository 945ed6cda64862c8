package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/rubricwatch/internal/printer"
	"github.com/dyluth/rubricwatch/internal/report"
	"github.com/dyluth/rubricwatch/internal/watch"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

var (
	watchGroup         int
	watchOutputFormat  string
	watchUntilReleased bool
	watchTimeout       time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch SESSION",
	Short: "Follow live checklist broadcasts",
	Long: `Follow the snapshots a session broadcasts as groups are evaluated
and released.

Without --group every group's broadcasts are shown (the facilitator view).
With --group only that group's room is followed.

With --until-released, wait for the group's release gate instead and exit
once it opens (requires --group).

Output Formats:
  default - One summary line per snapshot
  jsonl   - Line-delimited snapshot JSON for programmatic processing

Examples:
  rwctl watch chem-101
  rwctl watch chem-101 --group 2 -o jsonl > group2.jsonl
  rwctl watch chem-101 --group 2 --until-released --timeout 30m`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVarP(&watchGroup, "group", "g", watch.AllGroups, "Follow only this group")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or jsonl)")
	watchCmd.Flags().BoolVar(&watchUntilReleased, "until-released", false, "Wait for the group's release and exit")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", time.Hour, "Maximum wait with --until-released")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	if watchOutputFormat != "default" && watchOutputFormat != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}
	if watchGroup < watch.AllGroups {
		return printer.Error("invalid group number", fmt.Sprintf("Group must be >= 0, got %d", watchGroup), nil)
	}
	if watchUntilReleased && watchGroup == watch.AllGroups {
		return printer.Error(
			"--until-released requires --group",
			"A release gate belongs to one group.",
			[]string{"rwctl watch " + sessionID + " --group 2 --until-released"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := connectStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if watchUntilReleased {
		printer.Info("Waiting for release of group %d in session '%s'...\n", watchGroup, sessionID)
		gate, err := watch.PollForRelease(ctx, store, sessionID, watchGroup, watchTimeout)
		if err != nil {
			return printer.Error("release not observed", err.Error(), nil)
		}
		printer.Success("Group %d released at %s\n", watchGroup, time.UnixMilli(gate.ReleasedAtMs).Format(time.RFC3339))
		return nil
	}

	out := cmd.OutOrStdout()
	render := func(s *checklist.Snapshot) error {
		if watchOutputFormat == "jsonl" {
			return report.FormatJSONL(out, s)
		}
		report.FormatEvent(out, s)
		return nil
	}
	onErr := func(err error) {
		printer.Warning("Skipping malformed broadcast: %v\n", err)
	}

	return watch.StreamSnapshots(ctx, store, sessionID, watchGroup, render, onErr)
}

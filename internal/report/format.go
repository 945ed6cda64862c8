// Package report renders checklist snapshots for terminals and pipelines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// StatusFunc renders a status label. The CLI passes printer.Status for color.
type StatusFunc func(checklist.Status) string

// PlainStatus renders a status as fixed-width uppercase text.
func PlainStatus(s checklist.Status) string {
	return fmt.Sprintf("%-5s", strings.ToUpper(string(s)))
}

// Summary counts a snapshot's criteria by status.
type Summary struct {
	Total int
	Green int
	Red   int
	Grey  int
}

// Summarize counts a snapshot's criteria by status. Rows with an unknown
// status count as grey.
func Summarize(snapshot *checklist.Snapshot) Summary {
	var s Summary
	if snapshot == nil {
		return s
	}
	for _, c := range snapshot.Criteria {
		s.Total++
		switch c.Status {
		case checklist.StatusGreen:
			s.Green++
		case checklist.StatusRed:
			s.Red++
		default:
			s.Grey++
		}
	}
	return s
}

// String implements fmt.Stringer.
func (s Summary) String() string {
	return fmt.Sprintf("%d/%d verified (%d green, %d red, %d grey)", s.Green, s.Total, s.Green, s.Red, s.Grey)
}

// FormatTable writes a snapshot as a formatted table to the provided writer.
// The table includes columns: #, STATUS, CRITERION and QUOTE (truncated).
// Returns the number of criteria formatted.
func FormatTable(w io.Writer, snapshot *checklist.Snapshot, sessionID string, status StatusFunc) int {
	if status == nil {
		status = PlainStatus
	}
	if snapshot == nil || len(snapshot.Criteria) == 0 {
		fmt.Fprintf(w, "No criteria found for session '%s'\n", sessionID)
		return 0
	}

	released := "not released"
	if snapshot.IsReleased {
		released = "released"
	}
	fmt.Fprintf(w, "Checklist for session '%s', group %d (%s, updated %s):\n",
		sessionID, snapshot.GroupNumber, released, formatTimestamp(snapshot.Timestamp))
	if snapshot.Scenario != "" {
		fmt.Fprintf(w, "Scenario: %s\n", formatText(snapshot.Scenario, 70))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-3s %-6s %-40s %s\n", "#", "STATUS", "CRITERION", "QUOTE")
	fmt.Fprintf(w, "%-3s %-6s %-40s %s\n",
		"---", "------", "----------------------------------------", "----------------------------------------")

	for _, c := range snapshot.Criteria {
		fmt.Fprintf(w, "%-3d %s  %-40s %s\n",
			c.ID+1,
			status(c.Status),
			formatText(c.Description, 40),
			formatQuote(c.Quote),
		)
	}

	fmt.Fprintf(w, "\n%s\n", Summarize(snapshot))

	return len(snapshot.Criteria)
}

// FormatJSONL writes snapshots as line-delimited JSON (JSONL) to the provided writer.
// Each snapshot is written as a single JSON object on its own line.
func FormatJSONL(w io.Writer, snapshots ...*checklist.Snapshot) error {
	for _, snapshot := range snapshots {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}

	return nil
}

// FormatSingleJSON writes a single snapshot as pretty-printed JSON to the provided writer.
func FormatSingleJSON(w io.Writer, snapshot *checklist.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}

	fmt.Fprintln(w)

	return nil
}

// FormatEvent writes a one-line description of a broadcast snapshot, as used
// by the live watch stream.
func FormatEvent(w io.Writer, snapshot *checklist.Snapshot) {
	released := ""
	if snapshot.IsReleased {
		released = " [released]"
	}
	fmt.Fprintf(w, "[%s] group %d: %s%s\n",
		time.UnixMilli(snapshot.Timestamp).Format("15:04:05"),
		snapshot.GroupNumber,
		Summarize(snapshot),
		released,
	)
}

// formatText returns the first non-empty line of s, truncated to max characters.
// Empty text returns "-".
func formatText(s string, max int) string {
	var firstLine string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			firstLine = trimmed
			break
		}
	}

	if firstLine == "" {
		return "-"
	}

	runes := []rune(firstLine)
	if len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return firstLine
}

// formatQuote renders a quote in double quotes, truncated for table display.
func formatQuote(q *string) string {
	if q == nil || strings.TrimSpace(*q) == "" {
		return "-"
	}
	return fmt.Sprintf("%q", formatText(*q, 40))
}

// formatTimestamp formats Unix timestamp in milliseconds as relative time
// like "2m ago", "1h ago", etc.
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "never"
	}

	diff := time.Since(time.UnixMilli(timestampMs))

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

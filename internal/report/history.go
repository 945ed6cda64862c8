package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// Transition is one recorded status change of one criterion, flattened from
// a progress entry's history for audit output.
type Transition struct {
	Index       int              `json:"index"`
	CriterionID string           `json:"criterion_id"`
	Description string           `json:"description"`
	Status      checklist.Status `json:"status"`
	Quote       *string          `json:"quote"`
	TimestampMs int64            `json:"timestamp_ms"`
}

// BuildHistory flattens the history of every progress entry into transitions
// ordered by time, then criterion order. Entries for criteria no longer in
// the list are skipped.
func BuildHistory(criteria []checklist.Criterion, progress map[string]*checklist.ProgressEntry) []Transition {
	var out []Transition
	for _, c := range criteria {
		entry, ok := progress[c.ID]
		if !ok || entry == nil {
			continue
		}
		for _, h := range entry.History {
			out = append(out, Transition{
				Index:       c.Index,
				CriterionID: c.ID,
				Description: c.Description,
				Status:      h.Status,
				Quote:       h.Quote,
				TimestampMs: h.TimestampMs,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimestampMs != out[j].TimestampMs {
			return out[i].TimestampMs < out[j].TimestampMs
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// FormatHistory writes transitions as a table. Returns the number of rows written.
func FormatHistory(w io.Writer, transitions []Transition, sessionID string, group int, status StatusFunc) int {
	if status == nil {
		status = PlainStatus
	}
	if len(transitions) == 0 {
		fmt.Fprintf(w, "No transitions found for session '%s', group %d\n", sessionID, group)
		return 0
	}

	fmt.Fprintf(w, "History for session '%s', group %d:\n\n", sessionID, group)
	fmt.Fprintf(w, "%-19s %-3s %-6s %-40s %s\n", "TIME", "#", "STATUS", "CRITERION", "QUOTE")
	fmt.Fprintf(w, "%-19s %-3s %-6s %-40s %s\n",
		"-------------------", "---", "------", "----------------------------------------", "----------------------------------------")

	for _, tr := range transitions {
		fmt.Fprintf(w, "%-19s %-3d %s  %-40s %s\n",
			time.UnixMilli(tr.TimestampMs).Format("2006-01-02 15:04:05"),
			tr.Index+1,
			status(tr.Status),
			formatText(tr.Description, 40),
			formatQuote(tr.Quote),
		)
	}

	return len(transitions)
}

// FormatHistoryJSONL writes one transition per line.
func FormatHistoryJSONL(w io.Writer, transitions []Transition) error {
	for _, tr := range transitions {
		data, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("failed to marshal transition to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

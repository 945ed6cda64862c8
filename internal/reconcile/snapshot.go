package reconcile

import (
	"sort"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// buildRows projects criteria and their progress into snapshot rows, in
// criteria order. Criteria without progress are grey.
func buildRows(criteria []checklist.Criterion, progress map[string]*checklist.ProgressEntry) []checklist.SnapshotCriterion {
	rows := make([]checklist.SnapshotCriterion, 0, len(criteria))
	for _, c := range criteria {
		row := checklist.SnapshotCriterion{
			ID:          c.Index,
			DBID:        c.ID,
			Description: c.Description,
			Rubric:      c.Rubric,
			Status:      checklist.StatusGrey,
		}
		if entry := progress[c.ID]; entry != nil {
			row.Status = entry.Status
			row.Completed = entry.Completed
			if entry.Status != checklist.StatusGrey && entry.Quote != nil {
				q := *entry.Quote
				row.Quote = &q
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// prefers reports whether the other source's view of a criterion should
// replace the base view: when other is green, or base is still grey while
// other is not. A green base is locked and never replaced.
func prefers(base, other checklist.SnapshotCriterion) bool {
	if other.Status.Validate() != nil || base.Status == checklist.StatusGreen {
		return false
	}
	return other.Status == checklist.StatusGreen ||
		(base.Status == checklist.StatusGrey && other.Status != checklist.StatusGrey)
}

// overlay merges other into rows by the preference rule. Rows are matched by
// stable criterion ID, falling back to local index when an ID is missing.
// Rows in other that match nothing are ignored. Returns the number of rows taken from other.
func overlay(rows []checklist.SnapshotCriterion, other []checklist.SnapshotCriterion) int {
	byDBID := make(map[string]checklist.SnapshotCriterion, len(other))
	byIndex := make(map[int]checklist.SnapshotCriterion, len(other))
	for _, o := range other {
		if o.DBID != "" {
			byDBID[o.DBID] = o
		} else {
			byIndex[o.ID] = o
		}
	}

	taken := 0
	for i := range rows {
		o, ok := byDBID[rows[i].DBID]
		if !ok || rows[i].DBID == "" {
			o, ok = byIndex[rows[i].ID]
		}
		if !ok || !prefers(rows[i], o) {
			continue
		}

		rows[i].Status = o.Status
		rows[i].Completed = o.Status == checklist.StatusGreen
		rows[i].Quote = nil
		if o.Status != checklist.StatusGrey && o.Quote != nil {
			q := *o.Quote
			rows[i].Quote = &q
		}
		taken++
	}
	return taken
}

// copyRows deep-copies rows, normalizing grey rows to carry no quote.
func copyRows(rows []checklist.SnapshotCriterion) []checklist.SnapshotCriterion {
	out := make([]checklist.SnapshotCriterion, 0, len(rows))
	for _, r := range rows {
		if r.Status.Validate() != nil {
			r.Status = checklist.StatusGrey
		}
		if r.Status == checklist.StatusGrey || r.Quote == nil {
			r.Quote = nil
		} else {
			q := *r.Quote
			r.Quote = &q
		}
		r.Completed = r.Status == checklist.StatusGreen
		out = append(out, r)
	}
	return out
}

func sortRows(rows []checklist.SnapshotCriterion) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ID < rows[j].ID
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

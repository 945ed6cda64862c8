// Package progress implements the monotonic merge law for progress entries.
//
// Statuses only move forward along grey < red < green. Green is terminal: once
// an entry is green no later judgment changes its status, quote or completion
// time.
package progress

import (
	"time"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// Key identifies the entry a merge applies to. It is only consulted when no
// entry exists yet.
type Key struct {
	SessionID   string
	GroupNumber int
	CriterionID string
}

// NewEntry returns an empty grey entry for key with no history.
func NewEntry(key Key, now time.Time) *checklist.ProgressEntry {
	return &checklist.ProgressEntry{
		SessionID:   key.SessionID,
		GroupNumber: key.GroupNumber,
		CriterionID: key.CriterionID,
		Status:      checklist.StatusGrey,
		History:     []checklist.HistoryEntry{},
		UpdatedAtMs: now.UnixMilli(),
	}
}

// Merge applies a proposed judgment to an existing entry and reports whether
// anything changed. existing is never modified; when changed is false the
// returned entry is existing itself.
//
// A nil existing entry accepts any proposal. A grey proposal then yields an
// empty grey entry (changed, but with no history appended).
func Merge(key Key, existing *checklist.ProgressEntry, proposed checklist.Judgment, now time.Time) (*checklist.ProgressEntry, bool) {
	if existing == nil {
		entry := NewEntry(key, now)
		if proposed.Status() == checklist.StatusGrey {
			return entry, true
		}
		apply(entry, proposed, now)
		return entry, true
	}

	if !Accepts(existing.Status, proposed.Status()) {
		return existing, false
	}

	entry := existing.Clone()
	if entry.History == nil {
		entry.History = []checklist.HistoryEntry{}
	}
	apply(entry, proposed, now)
	return entry, true
}

// Accepts reports whether an entry at status from may move to status to.
// Only strict upgrades are accepted: red re-confirmations with a new quote are
// rejected just like downgrades.
func Accepts(from, to checklist.Status) bool {
	return to.Rank() > from.Rank()
}

func apply(entry *checklist.ProgressEntry, proposed checklist.Judgment, now time.Time) {
	ms := now.UnixMilli()
	status := proposed.Status()

	entry.Status = status
	entry.Quote = proposed.Quote()
	entry.Completed = status == checklist.StatusGreen
	entry.UpdatedAtMs = ms
	if entry.Completed && entry.CompletedAtMs == 0 {
		entry.CompletedAtMs = ms
	}
	entry.History = append(entry.History, checklist.HistoryEntry{
		Status:      status,
		Quote:       proposed.Quote(),
		TimestampMs: ms,
	})
}

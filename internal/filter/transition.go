// Package filter selects checklist history rows for rwctl.
package filter

import (
	"path/filepath"
	"strings"

	"github.com/dyluth/rubricwatch/internal/report"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// Criteria defines filtering criteria for transitions.
// All filters are ANDed together - a transition must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64              // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64              // Unix timestamp in milliseconds, 0 = no filter
	Statuses         []checklist.Status // Any of these statuses, empty = no filter
	DescriptionGlob  string             // Case-insensitive glob on the criterion description, empty = no filter
}

// Matches returns true if the transition matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(tr *report.Transition) bool {
	if c.SinceTimestampMs > 0 && tr.TimestampMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && tr.TimestampMs > c.UntilTimestampMs {
		return false
	}

	if len(c.Statuses) > 0 && !containsStatus(c.Statuses, tr.Status) {
		return false
	}

	if c.DescriptionGlob != "" {
		matched, err := filepath.Match(strings.ToLower(c.DescriptionGlob), strings.ToLower(tr.Description))
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		len(c.Statuses) > 0 ||
		c.DescriptionGlob != ""
}

// Apply returns the transitions that match, preserving order.
func (c *Criteria) Apply(transitions []report.Transition) []report.Transition {
	if !c.HasFilters() {
		return transitions
	}
	out := make([]report.Transition, 0, len(transitions))
	for i := range transitions {
		if c.Matches(&transitions[i]) {
			out = append(out, transitions[i])
		}
	}
	return out
}

func containsStatus(set []checklist.Status, s checklist.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

package checklist

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status is the verification state of one criterion for one group.
// Statuses form a lattice: grey < red < green.
type Status string

const (
	// StatusGrey means the criterion has not been addressed yet
	StatusGrey Status = "grey"

	// StatusRed means the criterion was addressed but not satisfied
	StatusRed Status = "red"

	// StatusGreen means the criterion was satisfied. Green is terminal.
	StatusGreen Status = "green"
)

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusGrey, StatusRed, StatusGreen:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// Rank returns the position of the status in the grey < red < green lattice.
// Unknown statuses rank below grey.
func (s Status) Rank() int {
	switch s {
	case StatusGrey:
		return 0
	case StatusRed:
		return 1
	case StatusGreen:
		return 2
	default:
		return -1
	}
}

// ParseStatus converts loosely formatted judge or client input to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if err := st.Validate(); err != nil {
		return "", err
	}
	return st, nil
}

// Criterion is one teacher-authored rubric item.
// Criteria are immutable once a session's list is set; replacing the list
// invalidates all progress recorded against the old one.
type Criterion struct {
	ID          string  `json:"id"`          // UUID - stable identity of the criterion
	Index       int     `json:"index"`       // Order within the session (0-based)
	Description string  `json:"description"` // What the group must say
	Rubric      string  `json:"rubric"`      // How a judge decides it was said
	Weight      float64 `json:"weight"`      // Relative weight (default 1)
}

// Validate checks if the Criterion has valid field values.
func (c *Criterion) Validate() error {
	if !isValidUUID(c.ID) {
		return fmt.Errorf("invalid criterion ID: not a valid UUID")
	}

	if c.Index < 0 {
		return fmt.Errorf("invalid index: must be >= 0, got %d", c.Index)
	}

	if c.Description == "" {
		return fmt.Errorf("criterion description cannot be empty")
	}

	if c.Weight <= 0 {
		return fmt.Errorf("invalid weight: must be > 0, got %v", c.Weight)
	}

	return nil
}

// HistoryEntry is one accepted transition in a progress entry's audit trail.
type HistoryEntry struct {
	Status      Status  `json:"status"`
	Quote       *string `json:"quote"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// ProgressEntry is the current verification state of one criterion for one group.
// Invariants: Quote is nil whenever Status is grey, Completed mirrors Status == green,
// and once green nothing about the entry changes again.
type ProgressEntry struct {
	SessionID     string         `json:"session_id"`
	GroupNumber   int            `json:"group_number"`
	CriterionID   string         `json:"criterion_id"`
	Status        Status         `json:"status"`
	Quote         *string        `json:"quote"`
	Completed     bool           `json:"completed"`
	History       []HistoryEntry `json:"history"`
	UpdatedAtMs   int64          `json:"updated_at_ms"`
	CompletedAtMs int64          `json:"completed_at_ms,omitempty"` // Set once, on first transition into green
}

// Validate checks the entry's fields and invariants.
func (p *ProgressEntry) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	if p.GroupNumber < 0 {
		return fmt.Errorf("invalid group number: must be >= 0, got %d", p.GroupNumber)
	}

	if !isValidUUID(p.CriterionID) {
		return fmt.Errorf("invalid criterion ID: not a valid UUID")
	}

	if err := p.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if p.Status == StatusGrey && p.Quote != nil {
		return fmt.Errorf("grey entry must not carry a quote")
	}

	if p.Completed != (p.Status == StatusGreen) {
		return fmt.Errorf("completed flag disagrees with status %q", p.Status)
	}

	return nil
}

// IsLocked reports whether the entry has reached its terminal state.
func (p *ProgressEntry) IsLocked() bool {
	return p != nil && p.Status == StatusGreen
}

// Clone returns a deep copy of the entry.
func (p *ProgressEntry) Clone() *ProgressEntry {
	if p == nil {
		return nil
	}
	out := *p
	out.Quote = cloneQuote(p.Quote)
	if p.History != nil {
		out.History = make([]HistoryEntry, len(p.History))
		for i, h := range p.History {
			h.Quote = cloneQuote(h.Quote)
			out.History[i] = h
		}
	}
	return &out
}

// SnapshotCriterion is one row of a checklist snapshot.
// ID is the criterion's local (0-based) index, DBID its stable identity.
type SnapshotCriterion struct {
	ID          int     `json:"id"`
	DBID        string  `json:"dbId"`
	Description string  `json:"description"`
	Rubric      string  `json:"rubric"`
	Status      Status  `json:"status"`
	Completed   bool    `json:"completed"`
	Quote       *string `json:"quote"`
}

// Snapshot is the ordered, broadcast-ready view of every criterion and its
// progress for one group. It is a projection, never a source of truth.
type Snapshot struct {
	GroupNumber int                 `json:"groupNumber"`
	Criteria    []SnapshotCriterion `json:"criteria"`
	Scenario    string              `json:"scenario"`
	IsReleased  bool                `json:"isReleased"`
	Timestamp   int64               `json:"timestamp"` // Unix milliseconds
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Criteria = make([]SnapshotCriterion, len(s.Criteria))
	for i, c := range s.Criteria {
		c.Quote = cloneQuote(c.Quote)
		out.Criteria[i] = c
	}
	return &out
}

// Gate is the per-group release flag. Once released it stays released until
// the session is torn down.
type Gate struct {
	Released     bool  `json:"released"`
	ReleasedAtMs int64 `json:"released_at_ms,omitempty"`
}

// ProgressChange records one entry that transitioned during an evaluation round.
type ProgressChange struct {
	CriterionID string  `json:"criterion_id"`
	Index       int     `json:"index"`
	From        Status  `json:"from"`
	To          Status  `json:"to"`
	Quote       *string `json:"quote"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// ChangeEvent is the lower-level "what changed this round" event published
// for audit and log consumers. Only transitions are included.
type ChangeEvent struct {
	SessionID   string           `json:"session_id"`
	GroupNumber int              `json:"group_number"`
	Changes     []ProgressChange `json:"changes"`
	TimestampMs int64            `json:"timestamp_ms"`
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func cloneQuote(q *string) *string {
	if q == nil {
		return nil
	}
	v := *q
	return &v
}

package checklist

import (
	"fmt"
	"strings"
)

// Judgment is a validated verdict about one criterion: Grey, Red(quote) or
// Green(quote). The zero value is Grey. Non-grey judgments always carry a
// non-empty quote; grey judgments never carry one.
type Judgment struct {
	status Status
	quote  string
}

// Grey returns the "not addressed" judgment.
func Grey() Judgment {
	return Judgment{status: StatusGrey}
}

// Red returns an "addressed but not satisfied" judgment backed by quote.
func Red(quote string) (Judgment, error) {
	return newQuoted(StatusRed, quote)
}

// Green returns a "satisfied" judgment backed by quote.
func Green(quote string) (Judgment, error) {
	return newQuoted(StatusGreen, quote)
}

// NewJudgment builds a judgment from a status and an optional quote.
// Grey ignores the quote; red and green require a non-empty one.
func NewJudgment(status Status, quote string) (Judgment, error) {
	switch status {
	case StatusGrey:
		return Grey(), nil
	case StatusRed, StatusGreen:
		return newQuoted(status, quote)
	default:
		return Judgment{}, fmt.Errorf("unknown status: %q", status)
	}
}

func newQuoted(status Status, quote string) (Judgment, error) {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return Judgment{}, fmt.Errorf("%s judgment requires a quote", status)
	}
	return Judgment{status: status, quote: quote}, nil
}

// Status returns the judged status.
func (j Judgment) Status() Status {
	if j.status == "" {
		return StatusGrey
	}
	return j.status
}

// Quote returns the evidence quote, or nil for grey.
func (j Judgment) Quote() *string {
	if j.Status() == StatusGrey {
		return nil
	}
	q := j.quote
	return &q
}

// String implements fmt.Stringer.
func (j Judgment) String() string {
	if j.Status() == StatusGrey {
		return string(StatusGrey)
	}
	return fmt.Sprintf("%s(%q)", j.status, j.quote)
}

// JudgmentOf returns the judgment currently held by an entry. A nil entry is grey.
func JudgmentOf(p *ProgressEntry) Judgment {
	if p == nil || p.Status == StatusGrey || p.Quote == nil {
		return Grey()
	}
	j, err := NewJudgment(p.Status, *p.Quote)
	if err != nil {
		return Grey()
	}
	return j
}

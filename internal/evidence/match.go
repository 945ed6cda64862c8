package evidence

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// RawMatch is one loosely-typed proposal as emitted by the judge.
// Fields are decoded as-is and only validated by the resolver.
type RawMatch struct {
	CriteriaIndex interface{} `json:"criteriaIndex"`
	Status        interface{} `json:"status"`
	Quote         interface{} `json:"quote"`
}

// Source records where a resolved match came from.
type Source int

const (
	// SourceJudged is a judge proposal kept on its own criterion
	SourceJudged Source = iota
	// SourceRerouted is a judge proposal moved to a better-scoring criterion
	SourceRerouted
	// SourceDemoted is a duplicate quote forced to grey
	SourceDemoted
	// SourceCarried is synthesized from the criterion's existing progress
	SourceCarried
)

// String implements fmt.Stringer.
func (s Source) String() string {
	switch s {
	case SourceJudged:
		return "judged"
	case SourceRerouted:
		return "rerouted"
	case SourceDemoted:
		return "demoted"
	case SourceCarried:
		return "carried"
	default:
		return "unknown"
	}
}

// Match is a validated judgment for one criterion.
type Match struct {
	Index       int
	CriterionID string
	Judgment    checklist.Judgment
	Source      Source
}

// ParseIndex coerces a loosely-typed criterion index to an int.
// Numbers must be integral; strings must contain an integral number.
func ParseIndex(v interface{}) (int, bool) {
	switch idx := v.(type) {
	case int:
		return idx, true
	case int64:
		return int(idx), true
	case float64:
		return floatIndex(idx)
	case json.Number:
		return ParseIndex(idx.String())
	case string:
		s := strings.TrimSpace(idx)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatIndex(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func floatIndex(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// ParseJudgment validates a raw status and quote into a Judgment.
// Grey drops any quote; red and green need a non-empty string quote.
func ParseJudgment(status, quote interface{}) (checklist.Judgment, bool) {
	s, ok := status.(string)
	if !ok {
		return checklist.Judgment{}, false
	}
	st, err := checklist.ParseStatus(s)
	if err != nil {
		return checklist.Judgment{}, false
	}
	if st == checklist.StatusGrey {
		return checklist.Grey(), true
	}

	q, ok := quote.(string)
	if !ok {
		return checklist.Judgment{}, false
	}
	j, err := checklist.NewJudgment(st, q)
	if err != nil {
		return checklist.Judgment{}, false
	}
	return j, true
}

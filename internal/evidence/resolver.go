// Package evidence attributes judge quotes to criteria.
//
// A judge round proposes loosely-typed {criteriaIndex, status, quote} matches
// that are often inconsistent: the same sentence cited for several criteria,
// or a quote filed under the wrong criterion. The Resolver validates the
// proposals, keeps each piece of evidence on the single criterion it fits
// best, re-routes clear misattributions, and completes the round so every
// criterion has exactly one match.
package evidence

import (
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// DefaultRerouteMargin is the token-overlap lead another criterion needs over
// the judged one before a quote is moved to it.
const DefaultRerouteMargin = 2

// Resolver turns raw judge proposals into one match per criterion.
// It holds no per-round state and is safe for concurrent use.
type Resolver struct {
	rerouteMargin int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRerouteMargin sets the minimum token-overlap lead for re-routing.
// Values below 1 are raised to 1 so re-routing always needs a strictly better score.
func WithRerouteMargin(margin int) Option {
	return func(r *Resolver) {
		if margin < 1 {
			margin = 1
		}
		r.rerouteMargin = margin
	}
}

// NewResolver creates a resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{rerouteMargin: DefaultRerouteMargin}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RerouteMargin returns the configured re-routing margin.
func (r *Resolver) RerouteMargin() int {
	return r.rerouteMargin
}

// Resolution is the outcome of one round.
type Resolution struct {
	// Matches holds exactly one match per criterion, in criteria order.
	Matches []Match

	// Dropped counts invalid or superseded proposals.
	Dropped int
	// Demoted counts duplicate quotes forced to grey.
	Demoted int
	// Rerouted counts proposals moved to a different criterion.
	Rerouted int
}

// candidate is a validated proposal being attributed.
type candidate struct {
	pos      int
	judgment checklist.Judgment
	norm     string
	tokens   map[string]struct{}
	source   Source
}

func (c *candidate) rank() int {
	return c.judgment.Status().Rank()
}

func (c *candidate) isGrey() bool {
	return c.judgment.Status() == checklist.StatusGrey
}

// Resolve validates, deduplicates, re-routes and completes a round's matches.
// criteria must be ordered by Index; existing holds the group's current
// progress keyed by criterion ID and backs criteria the round does not cover.
func (r *Resolver) Resolve(raw []RawMatch, criteria []checklist.Criterion, existing map[string]*checklist.ProgressEntry) *Resolution {
	res := &Resolution{}

	positions := make(map[int]int, len(criteria))
	criterionTokens := make([]map[string]struct{}, len(criteria))
	for pos, c := range criteria {
		positions[c.Index] = pos
		criterionTokens[pos] = Tokens(c.Description + " " + c.Rubric)
	}

	slots := r.normalize(raw, positions, res)
	r.dedupe(slots, criterionTokens, res)
	slots = r.reroute(slots, criterionTokens, res)

	res.Matches = make([]Match, len(criteria))
	for pos, c := range criteria {
		m := Match{Index: c.Index, CriterionID: c.ID}
		if cand := slots[pos]; cand != nil {
			m.Judgment = cand.judgment
			m.Source = cand.source
		} else {
			m.Judgment = checklist.JudgmentOf(existing[c.ID])
			m.Source = SourceCarried
		}
		res.Matches[pos] = m
	}

	return res
}

// normalize validates each proposal and keeps at most one per criterion.
// When a criterion is proposed twice the higher status wins; ties keep the first.
func (r *Resolver) normalize(raw []RawMatch, positions map[int]int, res *Resolution) []*candidate {
	slots := make([]*candidate, len(positions))

	for _, m := range raw {
		idx, ok := ParseIndex(m.CriteriaIndex)
		if !ok {
			res.Dropped++
			continue
		}
		pos, ok := positions[idx]
		if !ok {
			res.Dropped++
			continue
		}
		j, ok := ParseJudgment(m.Status, m.Quote)
		if !ok {
			res.Dropped++
			continue
		}

		cand := &candidate{pos: pos, judgment: j, source: SourceJudged}
		if q := j.Quote(); q != nil {
			cand.norm = NormalizeQuote(*q)
			cand.tokens = Tokens(*q)
		}

		if prev := slots[pos]; prev != nil {
			res.Dropped++
			if cand.rank() <= prev.rank() {
				continue
			}
		}
		slots[pos] = cand
	}

	return slots
}

// dedupe groups non-grey candidates citing the same evidence and keeps only the
// one whose own criterion overlaps the quote most. Ties prefer the higher
// status, then the lower index. The rest are demoted to grey.
func (r *Resolver) dedupe(slots []*candidate, criterionTokens []map[string]struct{}, res *Resolution) {
	var quoted []*candidate
	for _, cand := range slots {
		if cand != nil && !cand.isGrey() {
			quoted = append(quoted, cand)
		}
	}

	parent := make([]int, len(quoted))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range quoted {
		for j := i + 1; j < len(quoted); j++ {
			if sameEvidence(quoted[i].norm, quoted[j].norm) {
				parent[find(j)] = find(i)
			}
		}
	}

	clusters := make(map[int][]*candidate)
	for i, cand := range quoted {
		root := find(i)
		clusters[root] = append(clusters[root], cand)
	}

	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}

		winner := cluster[0]
		best := Overlap(winner.tokens, criterionTokens[winner.pos])
		for _, cand := range cluster[1:] {
			score := Overlap(cand.tokens, criterionTokens[cand.pos])
			if score > best || (score == best && cand.rank() > winner.rank()) {
				winner, best = cand, score
			}
		}

		for _, cand := range cluster {
			if cand == winner {
				continue
			}
			slots[cand.pos] = &candidate{pos: cand.pos, judgment: checklist.Grey(), source: SourceDemoted}
			res.Demoted++
		}
	}
}

// reroute moves each quoted candidate to the criterion its quote overlaps most
// when that criterion leads the assigned one by at least the margin.
// If the target already holds a quoted match the higher status wins and the
// incumbent keeps ties.
func (r *Resolver) reroute(slots []*candidate, criterionTokens []map[string]struct{}, res *Resolution) []*candidate {
	out := make([]*candidate, len(slots))
	type move struct {
		cand   *candidate
		target int
	}
	var moves []move

	for pos, cand := range slots {
		if cand == nil {
			continue
		}
		if cand.isGrey() {
			out[pos] = cand
			continue
		}

		own := Overlap(cand.tokens, criterionTokens[pos])
		target, best := pos, own
		for other := range criterionTokens {
			if other == pos {
				continue
			}
			if score := Overlap(cand.tokens, criterionTokens[other]); score > best {
				target, best = other, score
			}
		}

		if target != pos && best-own >= r.rerouteMargin {
			moves = append(moves, move{cand: cand, target: target})
			continue
		}
		out[pos] = cand
	}

	for _, m := range moves {
		incumbent := out[m.target]
		if incumbent != nil && !incumbent.isGrey() && m.cand.rank() <= incumbent.rank() {
			res.Dropped++
			continue
		}
		out[m.target] = &candidate{
			pos:      m.target,
			judgment: m.cand.judgment,
			norm:     m.cand.norm,
			tokens:   m.cand.tokens,
			source:   SourceRerouted,
		}
		res.Rerouted++
	}

	return out
}

package evidence

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// titrationCriteria returns a six-criterion rubric for an acid/base titration lab.
func titrationCriteria() []checklist.Criterion {
	texts := []struct{ description, rubric string }{
		{"States the aim of the experiment", "Mentions finding the concentration of the acid"},
		{"Identifies the indicator", "Names phenolphthalein or methyl orange as the indicator"},
		{"Reads the burette correctly", "Burette readings recorded to 0.1 cm3 at eye level"},
		{"Explains back titration", "Says excess acid is added and the excess titrated because CaCO3 is insoluble"},
		{"Repeats for concordant results", "Repeats titration until readings within 0.1 of each other"},
		{"Describes the end point", "Indicator colour change is permanent and the flask is swirled"},
	}

	criteria := make([]checklist.Criterion, len(texts))
	for i, tx := range texts {
		criteria[i] = checklist.Criterion{
			ID:          uuid.New().String(),
			Index:       i,
			Description: tx.description,
			Rubric:      tx.rubric,
			Weight:      1,
		}
	}
	return criteria
}

func raw(index interface{}, status interface{}, quote interface{}) RawMatch {
	return RawMatch{CriteriaIndex: index, Status: status, Quote: quote}
}

func TestResolveScenarioB(t *testing.T) {
	criteria := titrationCriteria()
	r := NewResolver()

	res := r.Resolve([]RawMatch{
		raw(float64(2), "green", "uses 0.1 cm3 burette reading"),
		raw(float64(5), "green", "uses 0.1 cm3 burette reading"),
	}, criteria, nil)

	require.Len(t, res.Matches, len(criteria))
	assert.Equal(t, checklist.StatusGreen, res.Matches[2].Judgment.Status())
	assert.Equal(t, "uses 0.1 cm3 burette reading", *res.Matches[2].Judgment.Quote())
	assert.Equal(t, SourceJudged, res.Matches[2].Source)

	assert.Equal(t, checklist.StatusGrey, res.Matches[5].Judgment.Status())
	assert.Nil(t, res.Matches[5].Judgment.Quote())
	assert.Equal(t, SourceDemoted, res.Matches[5].Source)
	assert.Equal(t, 1, res.Demoted)
}

func TestResolveDropsInvalidProposals(t *testing.T) {
	criteria := titrationCriteria()
	r := NewResolver()

	tests := []struct {
		name  string
		match RawMatch
	}{
		{"index out of range", raw(float64(17), "green", "anything")},
		{"negative index", raw(float64(-1), "red", "anything")},
		{"fractional index", raw(1.5, "red", "anything")},
		{"non-numeric string index", raw("two", "red", "anything")},
		{"missing index", raw(nil, "red", "anything")},
		{"unknown status", raw(float64(1), "amber", "anything")},
		{"status not a string", raw(float64(1), float64(2), "anything")},
		{"empty quote on red", raw(float64(1), "red", "   ")},
		{"missing quote on green", raw(float64(1), "green", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve([]RawMatch{tt.match}, criteria, nil)
			assert.Equal(t, 1, res.Dropped)
			for _, m := range res.Matches {
				assert.Equal(t, checklist.StatusGrey, m.Judgment.Status())
				assert.Equal(t, SourceCarried, m.Source)
			}
		})
	}
}

func TestResolveCoercesLooseIndexes(t *testing.T) {
	criteria := titrationCriteria()
	r := NewResolver()

	res := r.Resolve([]RawMatch{
		raw(" 1 ", "RED", "we used phenolphthalein"),
		raw("3.0", "green", "the excess acid gets titrated because CaCO3 is insoluble"),
	}, criteria, nil)

	assert.Equal(t, 0, res.Dropped)
	assert.Equal(t, checklist.StatusRed, res.Matches[1].Judgment.Status())
	assert.Equal(t, checklist.StatusGreen, res.Matches[3].Judgment.Status())
}

func TestResolveGreyForcesNullQuote(t *testing.T) {
	criteria := titrationCriteria()
	res := NewResolver().Resolve([]RawMatch{raw(float64(0), "grey", "they talked about something")}, criteria, nil)

	assert.Equal(t, checklist.StatusGrey, res.Matches[0].Judgment.Status())
	assert.Nil(t, res.Matches[0].Judgment.Quote())
	assert.Equal(t, SourceJudged, res.Matches[0].Source)
}

func TestResolveSameCriterionTwice(t *testing.T) {
	criteria := titrationCriteria()
	r := NewResolver()

	t.Run("higher status wins", func(t *testing.T) {
		res := r.Resolve([]RawMatch{
			raw(float64(1), "red", "some indicator"),
			raw(float64(1), "green", "phenolphthalein is the indicator"),
		}, criteria, nil)
		assert.Equal(t, checklist.StatusGreen, res.Matches[1].Judgment.Status())
		assert.Equal(t, 1, res.Dropped)
	})

	t.Run("tie keeps the first", func(t *testing.T) {
		res := r.Resolve([]RawMatch{
			raw(float64(1), "red", "first indicator guess"),
			raw(float64(1), "red", "second indicator guess"),
		}, criteria, nil)
		assert.Equal(t, "first indicator guess", *res.Matches[1].Judgment.Quote())
	})
}

func TestResolveSubstringQuotesAreDuplicates(t *testing.T) {
	criteria := titrationCriteria()
	res := NewResolver().Resolve([]RawMatch{
		raw(float64(0), "red", "Burette readings, to 0.1 cm3!"),
		raw(float64(2), "green", "we took burette readings to 0.1 cm3 at eye level"),
	}, criteria, nil)

	assert.Equal(t, checklist.StatusGreen, res.Matches[2].Judgment.Status())
	assert.Equal(t, checklist.StatusGrey, res.Matches[0].Judgment.Status())
	assert.Equal(t, 1, res.Demoted)
}

func TestResolveReroutesMisattributedQuote(t *testing.T) {
	criteria := titrationCriteria()
	quote := "phenolphthalein indicator"

	t.Run("moves quote to clearly better criterion", func(t *testing.T) {
		res := NewResolver().Resolve([]RawMatch{raw(float64(0), "green", quote)}, criteria, nil)

		assert.Equal(t, 1, res.Rerouted)
		assert.Equal(t, checklist.StatusGreen, res.Matches[1].Judgment.Status())
		assert.Equal(t, SourceRerouted, res.Matches[1].Source)
		assert.Equal(t, checklist.StatusGrey, res.Matches[0].Judgment.Status())
		assert.Equal(t, SourceCarried, res.Matches[0].Source)
	})

	t.Run("respects a larger margin", func(t *testing.T) {
		res := NewResolver(WithRerouteMargin(3)).Resolve([]RawMatch{raw(float64(0), "green", quote)}, criteria, nil)

		assert.Equal(t, 0, res.Rerouted)
		assert.Equal(t, checklist.StatusGreen, res.Matches[0].Judgment.Status())
	})

	t.Run("incumbent with equal status stays", func(t *testing.T) {
		res := NewResolver().Resolve([]RawMatch{
			raw(float64(0), "green", quote),
			raw(float64(1), "green", "methyl orange"),
		}, criteria, nil)

		assert.Equal(t, "methyl orange", *res.Matches[1].Judgment.Quote())
		assert.Equal(t, SourceJudged, res.Matches[1].Source)
		assert.Equal(t, 0, res.Rerouted)
	})

	t.Run("higher status displaces incumbent", func(t *testing.T) {
		res := NewResolver().Resolve([]RawMatch{
			raw(float64(0), "green", quote),
			raw(float64(1), "red", "methyl orange"),
		}, criteria, nil)

		assert.Equal(t, quote, *res.Matches[1].Judgment.Quote())
		assert.Equal(t, checklist.StatusGreen, res.Matches[1].Judgment.Status())
	})
}

func TestResolveCompletesFromExistingProgress(t *testing.T) {
	criteria := titrationCriteria()
	q := "we need the acid concentration"
	existing := map[string]*checklist.ProgressEntry{
		criteria[0].ID: {
			SessionID: "s", GroupNumber: 1, CriterionID: criteria[0].ID,
			Status: checklist.StatusRed, Quote: &q,
		},
	}

	res := NewResolver().Resolve(nil, criteria, existing)

	require.Len(t, res.Matches, len(criteria))
	assert.Equal(t, checklist.StatusRed, res.Matches[0].Judgment.Status())
	assert.Equal(t, q, *res.Matches[0].Judgment.Quote())
	for i, m := range res.Matches {
		assert.Equal(t, criteria[i].Index, m.Index)
		assert.Equal(t, criteria[i].ID, m.CriterionID)
		assert.Equal(t, SourceCarried, m.Source)
	}
}

// Whatever the judge proposes, the output covers every criterion once and no
// two quoted matches cite the same evidence.
func TestResolveCompletenessAndNoDuplicateEvidence(t *testing.T) {
	criteria := titrationCriteria()
	quotes := []string{
		"uses 0.1 cm3 burette reading",
		"burette reading",
		"phenolphthalein",
		"swirled the flask until the colour change was permanent",
		"repeat until concordant",
	}
	statuses := []string{"grey", "red", "green", "bogus"}

	var proposals []RawMatch
	for i := 0; i < 40; i++ {
		proposals = append(proposals, raw(
			fmt.Sprintf("%d", i%8),
			statuses[i%len(statuses)],
			quotes[(i*7)%len(quotes)],
		))
	}

	res := NewResolver().Resolve(proposals, criteria, nil)
	require.Len(t, res.Matches, len(criteria))

	seen := make(map[int]bool)
	for _, m := range res.Matches {
		assert.False(t, seen[m.Index], "index %d appears twice", m.Index)
		seen[m.Index] = true
	}

	for i, a := range res.Matches {
		for j, b := range res.Matches {
			if i >= j || a.Judgment.Quote() == nil || b.Judgment.Quote() == nil {
				continue
			}
			assert.False(t, sameEvidence(NormalizeQuote(*a.Judgment.Quote()), NormalizeQuote(*b.Judgment.Quote())),
				"criteria %d and %d share evidence", a.Index, b.Index)
		}
	}
}

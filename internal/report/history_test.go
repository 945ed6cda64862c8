package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

func historyFixture() ([]checklist.Criterion, map[string]*checklist.ProgressEntry) {
	criteria := []checklist.Criterion{
		{ID: "c0", Index: 0, Description: "States the aim"},
		{ID: "c1", Index: 1, Description: "Identifies the indicator"},
		{ID: "c2", Index: 2, Description: "Reads the burette"},
	}
	progress := map[string]*checklist.ProgressEntry{
		"c0": {CriterionID: "c0", Status: checklist.StatusGreen, History: []checklist.HistoryEntry{
			{Status: checklist.StatusRed, Quote: strptr("we want something"), TimestampMs: 2000},
			{Status: checklist.StatusGreen, Quote: strptr("we want the concentration"), TimestampMs: 3000},
		}},
		"c1": {CriterionID: "c1", Status: checklist.StatusGreen, History: []checklist.HistoryEntry{
			{Status: checklist.StatusGreen, Quote: strptr("phenolphthalein"), TimestampMs: 2000},
		}},
		"c2":     {CriterionID: "c2", Status: checklist.StatusGrey},
		"orphan": {CriterionID: "orphan", History: []checklist.HistoryEntry{{Status: checklist.StatusRed, TimestampMs: 1}}},
	}
	return criteria, progress
}

func TestBuildHistory(t *testing.T) {
	criteria, progress := historyFixture()

	got := BuildHistory(criteria, progress)
	require.Len(t, got, 3)

	assert.Equal(t, "c0", got[0].CriterionID)
	assert.Equal(t, checklist.StatusRed, got[0].Status)
	assert.Equal(t, "c1", got[1].CriterionID, "same timestamp orders by criterion index")
	assert.Equal(t, checklist.StatusGreen, got[2].Status)
	assert.Equal(t, int64(3000), got[2].TimestampMs)
	assert.Equal(t, "States the aim", got[2].Description)
}

func TestBuildHistoryEmpty(t *testing.T) {
	assert.Empty(t, BuildHistory(nil, nil))
}

func TestFormatHistory(t *testing.T) {
	criteria, progress := historyFixture()

	var buf bytes.Buffer
	n := FormatHistory(&buf, BuildHistory(criteria, progress), "s1", 2, nil)
	assert.Equal(t, 3, n)

	out := buf.String()
	assert.Contains(t, out, "History for session 's1', group 2:")
	assert.Contains(t, out, "GREEN")
	assert.Contains(t, out, `"phenolphthalein"`)
	assert.Equal(t, 7, strings.Count(out, "\n"))
}

func TestFormatHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 0, FormatHistory(&buf, nil, "s1", 0, nil))
	assert.Equal(t, "No transitions found for session 's1', group 0\n", buf.String())
}

func TestFormatHistoryJSONL(t *testing.T) {
	criteria, progress := historyFixture()

	var buf bytes.Buffer
	require.NoError(t, FormatHistoryJSONL(&buf, BuildHistory(criteria, progress)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var tr Transition
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &tr))
	assert.Equal(t, checklist.StatusGreen, tr.Status)
	assert.Equal(t, "we want the concentration", *tr.Quote)
}

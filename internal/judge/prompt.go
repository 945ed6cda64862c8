package judge

import (
	"fmt"
	"strings"
)

const systemPromptTemplate = `You are assessing a small-group classroom discussion against a teacher's checklist.

For each criterion below, decide whether the transcript addresses it:
- "green": the group satisfied the criterion.
- "red": the group addressed the criterion but got it wrong or left it incomplete.
- "grey": the transcript does not address the criterion.

%s

Rules:
- Every red or green verdict MUST include a short verbatim quote from the transcript as evidence.
- Use each quote for at most one criterion: the one it fits best.
- Only report criteria the transcript actually touches; omit the rest.

Criteria (criteriaIndex: description | rubric):
%s
Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "matches": [
    {"criteriaIndex": <number>, "status": "green" | "red" | "grey", "quote": "<verbatim quote or null>"}
  ]
}`

func buildSystemPrompt(req Request) string {
	var sb strings.Builder
	for _, c := range req.Criteria {
		fmt.Fprintf(&sb, "%d: %s | %s\n", c.Index, oneLine(c.Description), oneLine(c.Rubric))
	}
	return fmt.Sprintf(systemPromptTemplate, req.Strictness.guidance(), sb.String())
}

func buildUserPrompt(req Request) string {
	if req.Scenario == "" {
		return fmt.Sprintf("Transcript:\n%s", req.Transcript)
	}
	return fmt.Sprintf("Scenario:\n%s\n\nTranscript:\n%s", req.Scenario, req.Transcript)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

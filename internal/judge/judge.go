// Package judge asks a language model which criteria a transcript chunk
// addresses.
//
// The [Judge] renders the criteria, scenario and strictness into a prompt,
// sends it through a [Completer] and decodes the reply into loosely-typed
// [evidence.RawMatch] values. Validation of those values is left to the
// evidence resolver; this package only guarantees the reply was JSON of the
// expected shape, returning [ErrUnparsable] otherwise.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/rubricwatch/internal/evidence"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// ErrUnparsable is returned when the model reply is not a match list.
var ErrUnparsable = errors.New("judge: unparsable model output")

// Strictness controls how much evidence the judge needs before marking a
// criterion green.
type Strictness string

const (
	StrictnessLenient  Strictness = "lenient"
	StrictnessModerate Strictness = "moderate"
	StrictnessStrict   Strictness = "strict"
)

// ParseStrictness converts a config or request value to a Strictness.
// An empty value yields StrictnessModerate.
func ParseStrictness(s string) (Strictness, error) {
	switch st := Strictness(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrictnessModerate, nil
	case StrictnessLenient, StrictnessModerate, StrictnessStrict:
		return st, nil
	default:
		return "", fmt.Errorf("unknown strictness %q (must be lenient, moderate or strict)", s)
	}
}

func (s Strictness) guidance() string {
	switch s {
	case StrictnessLenient:
		return "Mark a criterion green when the group clearly gestures at the idea, even if the wording is loose or incomplete."
	case StrictnessStrict:
		return "Mark a criterion green only when the group states the idea precisely and completely, including any quantities or reasons the rubric asks for."
	default:
		return "Mark a criterion green when the group states the idea correctly in substance; minor wording slips are fine."
	}
}

// Request is one transcript chunk to judge.
type Request struct {
	Transcript string
	Scenario   string
	Strictness Strictness
	Criteria   []checklist.Criterion
}

// Completer sends a system and user prompt to a model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Judge turns transcript chunks into raw criterion matches.
// It is safe for concurrent use if its Completer is.
type Judge struct {
	completer Completer
}

// New returns a Judge backed by completer.
func New(completer Completer) *Judge {
	return &Judge{completer: completer}
}

// Propose asks the model which criteria the transcript addresses.
//
// Completer failures are returned wrapped; replies that are not a match list
// return an error wrapping ErrUnparsable. Callers that must keep going treat
// either as "no matches".
func (j *Judge) Propose(ctx context.Context, req Request) ([]evidence.RawMatch, error) {
	if len(req.Criteria) == 0 || strings.TrimSpace(req.Transcript) == "" {
		return nil, nil
	}

	reply, err := j.completer.Complete(ctx, buildSystemPrompt(req), buildUserPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("judge: complete: %w", err)
	}

	return ParseMatches(reply)
}

// Nop is a judge that never proposes anything. It backs the "none" provider.
type Nop struct{}

// Propose implements the judge contract with an empty result.
func (Nop) Propose(context.Context, Request) ([]evidence.RawMatch, error) {
	return nil, nil
}

// matchEnvelope is the object form of a reply.
type matchEnvelope struct {
	Matches *[]evidence.RawMatch `json:"matches"`
}

// ParseMatches decodes a model reply. It accepts a bare JSON array or an
// object with a "matches" array, optionally wrapped in markdown fences or
// surrounded by prose.
func ParseMatches(reply string) ([]evidence.RawMatch, error) {
	cleaned := stripMarkdown(reply)
	if matches, ok := decodeMatches(cleaned); ok {
		return matches, nil
	}

	if inner, ok := extractJSON(cleaned); ok {
		if matches, ok := decodeMatches(inner); ok {
			return matches, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnparsable, truncate(reply, 120))
}

func decodeMatches(s string) ([]evidence.RawMatch, bool) {
	if strings.HasPrefix(s, "[") {
		var matches []evidence.RawMatch
		if err := json.Unmarshal([]byte(s), &matches); err != nil {
			return nil, false
		}
		return matches, true
	}

	var env matchEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil || env.Matches == nil {
		return nil, false
	}
	return *env.Matches, true
}

// extractJSON returns the outermost object or array embedded in s.
func extractJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return "", false
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package evidence

import (
	"regexp"
	"strings"
)

var (
	// tokenPattern matches decimal numbers ("0.1") and words that may carry a
	// trailing digit ("cm3", "caco3").
	tokenPattern = regexp.MustCompile(`\d+(?:\.\d+)?|[a-z][a-z0-9]*`)

	// quoteNoisePattern matches everything dropped when comparing quotes.
	quoteNoisePattern = regexp.MustCompile(`[^a-z0-9\s]+`)

	whitespacePattern = regexp.MustCompile(`\s+`)

	unitReplacer = strings.NewReplacer("³", "3", "²", "2", "^", "", "µ", "u", "°", " deg ")
)

// stopWords are common words excluded from overlap scoring.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"i": true, "you": true, "he": true, "she": true, "it": true,
	"we": true, "they": true, "me": true, "him": true, "her": true,
	"us": true, "them": true, "my": true, "your": true, "his": true,
	"its": true, "our": true, "their": true,
	"this": true, "that": true, "these": true, "those": true,
	"what": true, "which": true, "who": true, "whom": true, "whose": true,
	"where": true, "when": true, "why": true, "how": true,
	"all": true, "each": true, "every": true, "both": true, "some": true,
	"such": true, "no": true, "not": true, "only": true, "so": true,
	"than": true, "too": true, "very": true, "can": true, "just": true,
	"now": true, "also": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "for": true, "of": true, "to": true,
	"in": true, "on": true, "at": true, "by": true, "from": true,
	"with": true, "about": true, "into": true, "there": true, "here": true,
	"any": true, "as": true, "because": true, "like": true, "um": true,
	"uh": true, "yeah": true, "okay": true, "ok": true, "student": true,
	"group": true, "mention": true, "say": true, "said": true,
}

// synonymGroups maps canonical terms to the spellings folded into them.
// Lookups happen after plural stemming.
var synonymGroups = map[string][]string{
	"cm3":       {"cm3", "ml", "millilitre", "milliliter", "cc"},
	"dm3":       {"dm3", "litre", "liter"},
	"g":         {"g", "gram", "gramme"},
	"mol":       {"mol", "mole", "molar"},
	"deg":       {"deg", "degree", "celsius"},
	"burette":   {"burette", "buret"},
	"pipette":   {"pipette", "pipet"},
	"titration": {"titration", "titrate", "titrated", "titrating"},
	"measure":   {"measure", "measured", "measuring", "measurement"},
	"repeat":    {"repeat", "repeated", "repeating", "repetition", "replicate"},
	"accurate":  {"accurate", "accuracy", "precise", "precision"},
}

var synonymLookup = func() map[string]string {
	lookup := make(map[string]string)
	for canonical, synonyms := range synonymGroups {
		for _, syn := range synonyms {
			lookup[syn] = canonical
		}
	}
	return lookup
}()

// Tokens returns the distinct scoring tokens of text: lowercased, stop words
// removed, plurals stemmed and units/synonyms folded to a canonical form.
func Tokens(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	text = unitReplacer.Replace(strings.ToLower(text))

	for _, word := range tokenPattern.FindAllString(text, -1) {
		if isNumber(word) {
			tokens[word] = struct{}{}
			continue
		}
		if stopWords[word] {
			continue
		}

		word = stem(word)
		if canonical, ok := synonymLookup[word]; ok {
			tokens[canonical] = struct{}{}
			continue
		}

		if stopWords[word] || len(word) < 2 {
			continue
		}
		tokens[word] = struct{}{}
	}

	return tokens
}

// Overlap counts the distinct tokens of quote that appear in target.
func Overlap(quote, target map[string]struct{}) int {
	score := 0
	for token := range quote {
		if _, ok := target[token]; ok {
			score++
		}
	}
	return score
}

// NormalizeQuote lowercases, strips punctuation and collapses whitespace so
// that the same evidence quoted twice compares equal.
func NormalizeQuote(quote string) string {
	q := quoteNoisePattern.ReplaceAllString(strings.ToLower(quote), "")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(q, " "))
}

// sameEvidence reports whether two normalized quotes are equal or one contains the other.
func sameEvidence(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func stem(word string) string {
	switch {
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 3 && strings.HasSuffix(word, "s") &&
		!strings.HasSuffix(word, "ss") && !strings.HasSuffix(word, "us") && !strings.HasSuffix(word, "is"):
		return word[:len(word)-1]
	default:
		return word
	}
}

func isNumber(word string) bool {
	return word != "" && word[0] >= '0' && word[0] <= '9'
}

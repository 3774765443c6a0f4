// Package intent maps free-text chat messages to dialogue intents for channels
// that have no NLU layer in front of them.
package intent

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// Default keyword sets.
var (
	DefaultStartPhrases    = []string{"start", "recommend a book", "restart"}
	DefaultCompletePhrases = []string{"recommend", "done", "go"}
)

// Resolver resolves chat text against the sender's current session state.
type Resolver struct {
	start    map[string]bool
	complete map[string]bool
}

// NewResolver creates a resolver with the default keyword sets.
func NewResolver() *Resolver {
	return NewResolverWithPhrases(DefaultStartPhrases, DefaultCompletePhrases)
}

// NewResolverWithPhrases creates a resolver with custom keyword sets.
func NewResolverWithPhrases(start, complete []string) *Resolver {
	r := &Resolver{start: make(map[string]bool), complete: make(map[string]bool)}
	for _, p := range start {
		r.start[Normalize(p)] = true
	}
	for _, p := range complete {
		r.complete[Normalize(p)] = true
	}
	return r
}

// Resolve returns the intent name for text, or "" when nothing applies.
// Start phrases always restart. While questions remain any other text answers
// the current question. Once answered, completion phrases request the
// recommendation.
func (r *Resolver) Resolve(text string, state models.SessionState) string {
	norm := Normalize(text)
	if norm == "" {
		return ""
	}
	if r.start[norm] {
		return models.IntentStartRecommendation
	}
	if state.Started() && !state.Complete() {
		if q, ok := state.CurrentQuestion(); ok {
			return models.CollectIntentForKey(q.Key)
		}
	}
	if state.Complete() && len(state.Answers) > 0 && r.complete[norm] {
		return models.IntentGenerateRecommendation
	}
	return ""
}

// Normalize lowercases text, drops surrounding punctuation and collapses whitespace.
func Normalize(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	for i, f := range fields {
		fields[i] = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
	}
	return strings.Join(strings.Fields(strings.Join(fields, " ")), " ")
}

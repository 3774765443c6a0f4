// Package models defines the core data structures for BookPipe.
//
// It includes the question catalog types, the persisted context record and the
// session state carried between turns of a recommendation dialogue.
package models

import (
	"errors"
	"fmt"
)

// QuestionKey identifies the preference a question asks about.
type QuestionKey string

const (
	QuestionKeyYear    QuestionKey = "year"
	QuestionKeyGenre   QuestionKey = "genre"
	QuestionKeyType    QuestionKey = "type"
	QuestionKeyMood    QuestionKey = "mood"
	QuestionKeyLength  QuestionKey = "length"
	QuestionKeyCountry QuestionKey = "country"
)

// AllQuestionKeys lists every supported key in prompt order.
var AllQuestionKeys = []QuestionKey{
	QuestionKeyGenre,
	QuestionKeyMood,
	QuestionKeyType,
	QuestionKeyYear,
	QuestionKeyCountry,
	QuestionKeyLength,
}

// IsValidQuestionKey checks if the given key is supported.
func IsValidQuestionKey(k QuestionKey) bool {
	switch k {
	case QuestionKeyYear, QuestionKeyGenre, QuestionKeyType, QuestionKeyMood, QuestionKeyLength, QuestionKeyCountry:
		return true
	default:
		return false
	}
}

// Question is an immutable catalog entry.
type Question struct {
	Key  QuestionKey `json:"key" yaml:"key"`
	Text string      `json:"text" yaml:"text"`
}

// Error variables for catalog validation
var (
	ErrEmptyCatalog         = errors.New("question catalog is empty")
	ErrInvalidQuestionKey   = errors.New("invalid question key")
	ErrEmptyQuestionText    = errors.New("question text cannot be empty")
	ErrDuplicateQuestionKey = errors.New("duplicate question key")
)

// DefaultCatalog returns the built-in six-question catalog.
func DefaultCatalog() []Question {
	return []Question{
		{Key: QuestionKeyYear, Text: "What year do you prefer for the novel? (e.g., 2020, 1990s, classic books)"},
		{Key: QuestionKeyGenre, Text: "What genre are you interested in? (e.g., fantasy, mystery, romance)"},
		{Key: QuestionKeyType, Text: "What type of story do you prefer? (e.g., adventure, detective, dystopian)"},
		{Key: QuestionKeyMood, Text: "What’s your current mood? (e.g., happy, sad, nostalgic, adventurous)"},
		{Key: QuestionKeyLength, Text: "Do you prefer a short book or a long novel?"},
		{Key: QuestionKeyCountry, Text: "Do you have a preferred country of origin for the book?"},
	}
}

// ValidateCatalog checks that every question has a known key, non-empty text,
// and that no key appears twice.
func ValidateCatalog(catalog []Question) error {
	if len(catalog) == 0 {
		return ErrEmptyCatalog
	}
	seen := make(map[QuestionKey]bool, len(catalog))
	for i, q := range catalog {
		if !IsValidQuestionKey(q.Key) {
			return fmt.Errorf("question %d: %w: %q", i, ErrInvalidQuestionKey, q.Key)
		}
		if q.Text == "" {
			return fmt.Errorf("question %d (%s): %w", i, q.Key, ErrEmptyQuestionText)
		}
		if seen[q.Key] {
			return fmt.Errorf("question %d: %w: %s", i, ErrDuplicateQuestionKey, q.Key)
		}
		seen[q.Key] = true
	}
	return nil
}

package models

import (
	"errors"
	"testing"
)

func TestValidateCatalog(t *testing.T) {
	if err := ValidateCatalog(DefaultCatalog()); err != nil {
		t.Fatalf("default catalog should be valid: %v", err)
	}

	tests := []struct {
		name    string
		catalog []Question
		want    error
	}{
		{"empty", nil, ErrEmptyCatalog},
		{"unknown key", []Question{{Key: "colour", Text: "?"}}, ErrInvalidQuestionKey},
		{"empty text", []Question{{Key: QuestionKeyMood}}, ErrEmptyQuestionText},
		{"duplicate", []Question{{Key: QuestionKeyMood, Text: "a"}, {Key: QuestionKeyMood, Text: "b"}}, ErrDuplicateQuestionKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateCatalog(tt.catalog); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCollectIntentForKey(t *testing.T) {
	for _, k := range AllQuestionKeys {
		if CollectIntentForKey(k) == "" {
			t.Errorf("no collect intent for key %s", k)
		}
	}
	if CollectIntentForKey("colour") != "" {
		t.Error("expected empty intent for unknown key")
	}
}

// Package flow provides a small selector utility to choose between recommendation strategies.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// Recommender turns collected answers into a recommendation text.
type Recommender interface {
	Recommend(ctx context.Context, answers map[models.QuestionKey]string) (string, error)
}

// RecommenderChoice determines which strategy to use.
type RecommenderChoice string

const (
	RecommenderChoiceGenAI RecommenderChoice = "genai"
	RecommenderChoiceRules RecommenderChoice = "rules"
)

// NewRecommender selects and constructs a strategy. The genai strategy needs a
// generator; without one the rule table is used instead.
func NewRecommender(choice RecommenderChoice, generator TextGenerator, rules *RuleTable, timeout time.Duration) Recommender {
	if rules == nil {
		rules = DefaultRuleTable()
	}
	switch choice {
	case RecommenderChoiceRules:
		slog.Info("Recommender selector: using rule table", "rules", len(rules.Rules))
		return NewRuleTableRecommender(rules)
	case RecommenderChoiceGenAI:
		fallthrough
	default:
		if generator == nil {
			slog.Warn("Recommender selector: no GenAI client configured, falling back to rule table", "choice", choice)
			return NewRuleTableRecommender(rules)
		}
		slog.Info("Recommender selector: using GenAI", "timeout", timeout)
		return NewGenAIRecommender(generator, timeout)
	}
}

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/BookPipe/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultFallbackRecommendation is used when no rule matches.
const DefaultFallbackRecommendation = "To Kill a Mockingbird by Harper Lee"

// Rule recommends a title when every listed answer matches.
type Rule struct {
	Name           string                        `yaml:"name"`
	Match          map[models.QuestionKey]string `yaml:"match"`
	Recommendation string                        `yaml:"recommendation"`
}

// Matches compares answers case-insensitively after trimming.
func (r Rule) Matches(answers map[models.QuestionKey]string) bool {
	if len(r.Match) == 0 {
		return false
	}
	for k, want := range r.Match {
		got, ok := answers[k]
		if !ok || !strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want)) {
			return false
		}
	}
	return true
}

// RuleTable is an ordered rule list with a fallback title.
type RuleTable struct {
	Rules    []Rule `yaml:"rules"`
	Fallback string `yaml:"fallback"`
}

// DefaultRuleTable returns the built-in rules.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{
		Rules: []Rule{
			{
				Name: "epic-fantasy",
				Match: map[models.QuestionKey]string{
					models.QuestionKeyGenre:  "fantasy",
					models.QuestionKeyMood:   "adventurous",
					models.QuestionKeyLength: "long",
				},
				Recommendation: "The Lord of the Rings by J.R.R. Tolkien",
			},
			{
				Name: "thrilling-mystery",
				Match: map[models.QuestionKey]string{
					models.QuestionKeyType: "mystery",
					models.QuestionKeyMood: "thrilling",
				},
				Recommendation: "The Hound of the Baskervilles by Arthur Conan Doyle",
			},
			{
				Name: "classic-romance",
				Match: map[models.QuestionKey]string{
					models.QuestionKeyGenre: "romance",
					models.QuestionKeyYear:  "classic",
				},
				Recommendation: "Pride and Prejudice by Jane Austen",
			},
		},
		Fallback: DefaultFallbackRecommendation,
	}
}

// Validate checks rule keys and titles.
func (t *RuleTable) Validate() error {
	for i, r := range t.Rules {
		if len(r.Match) == 0 {
			return fmt.Errorf("rule %d (%s): no match conditions", i, r.Name)
		}
		for k := range r.Match {
			if !models.IsValidQuestionKey(k) {
				return fmt.Errorf("rule %d (%s): %w: %q", i, r.Name, models.ErrInvalidQuestionKey, k)
			}
		}
		if strings.TrimSpace(r.Recommendation) == "" {
			return fmt.Errorf("rule %d (%s): empty recommendation", i, r.Name)
		}
	}
	return nil
}

// LoadRuleTableFile reads a YAML rule table. A missing fallback uses the default title.
func LoadRuleTableFile(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if err := table.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: "invalid rules file " + path, Err: err}
	}
	if strings.TrimSpace(table.Fallback) == "" {
		table.Fallback = DefaultFallbackRecommendation
	}
	slog.Info("Rule table loaded", "file", path, "rules", len(table.Rules))
	return &table, nil
}

// RuleTableRecommender applies literal-match rules in declared order.
type RuleTableRecommender struct {
	table *RuleTable
}

// NewRuleTableRecommender creates a recommender over table.
func NewRuleTableRecommender(table *RuleTable) *RuleTableRecommender {
	return &RuleTableRecommender{table: table}
}

// Recommend returns the first matching rule's title, or the fallback.
func (r *RuleTableRecommender) Recommend(ctx context.Context, answers map[models.QuestionKey]string) (string, error) {
	for _, rule := range r.table.Rules {
		if rule.Matches(answers) {
			slog.Debug("RuleTableRecommender matched", "rule", rule.Name)
			return rule.Recommendation, nil
		}
	}
	slog.Debug("RuleTableRecommender no rule matched, using fallback")
	return r.table.Fallback, nil
}

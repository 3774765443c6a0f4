package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/BookPipe/internal/genai"
	"github.com/BTreeMap/BookPipe/internal/models"
)

// ErrEmptyRecommendation is returned when the backend produces no text.
var ErrEmptyRecommendation = errors.New("empty recommendation")

// TextGenerator is the remote text-generation backend.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

var _ TextGenerator = (*genai.Client)(nil)

// GenAIRecommender asks a GenAI backend for a recommendation.
type GenAIRecommender struct {
	generator TextGenerator
	timeout   time.Duration
}

// NewGenAIRecommender creates a recommender bounded by timeout. A non-positive
// timeout uses genai.DefaultTimeout.
func NewGenAIRecommender(generator TextGenerator, timeout time.Duration) *GenAIRecommender {
	if timeout <= 0 {
		timeout = genai.DefaultTimeout
	}
	return &GenAIRecommender{generator: generator, timeout: timeout}
}

// Recommend builds the preference prompt and returns the generated text.
func (g *GenAIRecommender) Recommend(ctx context.Context, answers map[models.QuestionKey]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := BuildRecommendationPrompt(answers)
	slog.Debug("GenAIRecommender requesting recommendation", "promptLength", len(prompt), "timeout", g.timeout)
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate recommendation: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyRecommendation
	}
	return text, nil
}

type generation struct {
	text string
	err  error
}

// generate stops waiting when ctx expires even if the backend ignores it.
func (g *GenAIRecommender) generate(ctx context.Context, prompt string) (string, error) {
	done := make(chan generation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- generation{err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		text, err := g.generator.GenerateText(ctx, prompt)
		done <- generation{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		slog.Warn("GenAIRecommender abandoned backend call", "error", ctx.Err())
		return "", ctx.Err()
	}
}

// BuildRecommendationPrompt embeds every preference, using "Any" for those
// not collected.
func BuildRecommendationPrompt(answers map[models.QuestionKey]string) string {
	var b strings.Builder
	b.WriteString("Recommend a book based on these preferences:\n")
	for _, k := range models.AllQuestionKeys {
		v := strings.TrimSpace(answers[k])
		if v == "" {
			v = "Any"
		}
		fmt.Fprintf(&b, "%s: %s\n", promptLabel(k), v)
	}
	b.WriteString("\nProvide a book title, author, and a short description.")
	return b.String()
}

func promptLabel(k models.QuestionKey) string {
	s := string(k)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

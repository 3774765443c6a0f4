package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/BookPipe/internal/models"
)

func TestBuildRecommendationPrompt(t *testing.T) {
	prompt := BuildRecommendationPrompt(map[models.QuestionKey]string{
		models.QuestionKeyGenre:  "fantasy",
		models.QuestionKeyLength: " long ",
	})
	want := "Recommend a book based on these preferences:\n" +
		"Genre: fantasy\n" +
		"Mood: Any\n" +
		"Type: Any\n" +
		"Year: Any\n" +
		"Country: Any\n" +
		"Length: long\n" +
		"\nProvide a book title, author, and a short description."
	if prompt != want {
		t.Errorf("unexpected prompt:\n%s", prompt)
	}
}

type slowGenerator struct{}

func (slowGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGenAIRecommender_Timeout(t *testing.T) {
	r := NewGenAIRecommender(slowGenerator{}, 20*time.Millisecond)
	_, err := r.Recommend(context.Background(), map[models.QuestionKey]string{models.QuestionKeyMood: "calm"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type stubbornGenerator struct {
	delay time.Duration
}

func (g stubbornGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	time.Sleep(g.delay)
	return "late", nil
}

func TestGenAIRecommender_TimeoutIgnoredByBackend(t *testing.T) {
	r := NewGenAIRecommender(stubbornGenerator{delay: 500 * time.Millisecond}, 20*time.Millisecond)
	start := time.Now()
	got, err := r.Recommend(context.Background(), nil)
	elapsed := time.Since(start)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %q, %v", got, err)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("expected bounded wait, took %v", elapsed)
	}
}

type panicGenerator struct{}

func (panicGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	panic("backend exploded")
}

func TestGenAIRecommender_BackendPanic(t *testing.T) {
	r := NewGenAIRecommender(panicGenerator{}, time.Second)
	_, err := r.Recommend(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "backend exploded") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
}

func TestGenAIRecommender_TrimsOutput(t *testing.T) {
	r := NewGenAIRecommender(&fakeGenerator{text: "  Emma by Jane Austen\n"}, 0)
	got, err := r.Recommend(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Emma by Jane Austen" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestNewRecommender_Selection(t *testing.T) {
	gen := &fakeGenerator{text: "Emma"}
	if _, ok := NewRecommender(RecommenderChoiceGenAI, gen, nil, time.Second).(*GenAIRecommender); !ok {
		t.Error("expected GenAIRecommender")
	}
	if _, ok := NewRecommender(RecommenderChoiceRules, gen, nil, time.Second).(*RuleTableRecommender); !ok {
		t.Error("expected RuleTableRecommender for rules choice")
	}
	if _, ok := NewRecommender(RecommenderChoiceGenAI, nil, nil, time.Second).(*RuleTableRecommender); !ok {
		t.Error("expected fallback to RuleTableRecommender without generator")
	}
	if !strings.Contains(DefaultFallbackRecommendation, "Harper Lee") {
		t.Error("unexpected default fallback")
	}
}

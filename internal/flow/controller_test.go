package flow

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/BookPipe/internal/models"
)

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	text    string
	err     error
}

func (f *fakeGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.text, f.err
}

type failingSessionStore struct {
	getErr error
	setErr error
	delErr error
	inner  SessionStore
}

func (f *failingSessionStore) Get(ctx context.Context, name string) (*models.ContextRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.inner.Get(ctx, name)
}

func (f *failingSessionStore) Set(ctx context.Context, record models.ContextRecord) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.inner.Set(ctx, record)
}

func (f *failingSessionStore) Delete(ctx context.Context, name string) error {
	if f.delErr != nil {
		return f.delErr
	}
	return f.inner.Delete(ctx, name)
}

func newTestController(t *testing.T, rec Recommender, opts ...ControllerOption) *Controller {
	t.Helper()
	opts = append([]ControllerOption{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	c, err := NewController(models.DefaultCatalog(), rec, opts...)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func loadState(t *testing.T, st SessionStore) (models.SessionState, *models.ContextRecord) {
	t.Helper()
	rec, err := st.Get(context.Background(), models.SessionContextName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		return models.SessionState{}, nil
	}
	state, err := models.DecodeSessionState(rec.Parameters)
	if err != nil {
		t.Fatalf("DecodeSessionState: %v", err)
	}
	return state, rec
}

func TestNewController_Validation(t *testing.T) {
	rules := NewRuleTableRecommender(DefaultRuleTable())
	var cfgErr *ConfigurationError

	if _, err := NewController(models.DefaultCatalog()[:2], rules); !errors.As(err, &cfgErr) {
		t.Errorf("small catalog: expected ConfigurationError, got %v", err)
	}
	if _, err := NewController(nil, rules); !errors.As(err, &cfgErr) {
		t.Errorf("empty catalog: expected ConfigurationError, got %v", err)
	}
	if _, err := NewController(models.DefaultCatalog(), nil); !errors.As(err, &cfgErr) {
		t.Errorf("nil recommender: expected ConfigurationError, got %v", err)
	}
	if _, err := NewController(models.DefaultCatalog(), rules, WithCompletionMode("later")); !errors.As(err, &cfgErr) {
		t.Errorf("bad mode: expected ConfigurationError, got %v", err)
	}
	if _, err := NewController(models.DefaultCatalog(), rules, WithLifespan(0)); !errors.As(err, &cfgErr) {
		t.Errorf("bad lifespan: expected ConfigurationError, got %v", err)
	}
}

func TestController_StartAsksFirstQuestion(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	reply := c.Start(ctx, Event{Intent: models.IntentStartRecommendation, Store: st})
	if reply.Outcome != OutcomeQuestion {
		t.Fatalf("expected question outcome, got %s", reply.Outcome)
	}
	if len(reply.Messages) != 2 || reply.Messages[0] != MessageIntro {
		t.Fatalf("unexpected messages %v", reply.Messages)
	}

	state, rec := loadState(t, st)
	if rec == nil {
		t.Fatal("expected session record")
	}
	if rec.Lifespan != models.DefaultSessionLifespan {
		t.Errorf("expected lifespan %d, got %d", models.DefaultSessionLifespan, rec.Lifespan)
	}
	if state.Step != 0 || len(state.Answers) != 0 || len(state.SelectedQuestions) != 3 {
		t.Errorf("unexpected fresh state %+v", state)
	}
	if reply.Messages[1] != state.SelectedQuestions[0].Text {
		t.Errorf("expected first selected question, got %q", reply.Messages[1])
	}
}

func TestController_StartReplacesExistingSession(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	c.Collect(ctx, Event{Query: "something", Store: st})
	c.Start(ctx, Event{Store: st})

	state, _ := loadState(t, st)
	if state.Step != 0 || len(state.Answers) != 0 {
		t.Errorf("expected reset state, got %+v", state)
	}
}

func TestController_CollectPreservesOrder(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	started, _ := loadState(t, st)
	selected := started.SelectedQuestions

	answers := []string{"first", "second", "third"}
	for i, a := range answers {
		reply := c.Collect(ctx, Event{Intent: models.CollectIntentForKey(selected[i].Key), Query: "  " + a + " ", Store: st})
		if i < 2 {
			if reply.Outcome != OutcomeQuestion || reply.Messages[0] != selected[i+1].Text {
				t.Fatalf("turn %d: expected next question %q, got %v", i, selected[i+1].Text, reply.Messages)
			}
			state, _ := loadState(t, st)
			if state.Step != i+1 {
				t.Errorf("turn %d: expected step %d, got %d", i, i+1, state.Step)
			}
		} else {
			if reply.Outcome != OutcomeAcknowledged || reply.Messages[0] != MessageAcknowledged {
				t.Fatalf("expected acknowledgement, got %v", reply.Messages)
			}
			if reply.FollowupEvent != models.EventGenerateRecommendation {
				t.Errorf("expected follow-up event, got %q", reply.FollowupEvent)
			}
		}
	}

	state, rec := loadState(t, st)
	if _, ok := rec.Parameters[models.ParamSelectedQuestions]; ok {
		t.Error("completed session should not carry selected questions")
	}
	if !state.Complete() || len(state.Answers) != 3 {
		t.Fatalf("expected complete state with 3 answers, got %+v", state)
	}
	for i, q := range selected {
		if state.Answers[q.Key] != answers[i] {
			t.Errorf("answer for %s: expected %q, got %q", q.Key, answers[i], state.Answers[q.Key])
		}
	}
}

func TestController_CollectPrefersSlotValue(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	started, _ := loadState(t, st)
	key := started.SelectedQuestions[0].Key

	c.Collect(ctx, Event{Parameters: map[string]any{string(key): " slot value "}, Query: "raw text", Store: st})
	state, _ := loadState(t, st)
	if state.Answers[key] != "slot value" {
		t.Errorf("expected slot value, got %q", state.Answers[key])
	}
}

func TestController_CollectObjectSlotUsesUtterance(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	started, _ := loadState(t, st)
	key := started.SelectedQuestions[0].Key

	period := map[string]any{"startDate": "1990-01-01T00:00:00Z", "endDate": "1999-12-31T23:59:59Z"}
	c.Collect(ctx, Event{Parameters: map[string]any{string(key): period}, Query: " the 1990s ", Store: st})
	state, _ := loadState(t, st)
	if state.Answers[key] != "the 1990s" {
		t.Errorf("expected utterance, got %q", state.Answers[key])
	}
}

func TestController_CollectWithoutSession(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		reply := c.Collect(ctx, Event{Query: "fantasy", Store: st})
		if reply.Outcome != OutcomeError || reply.Messages[0] != MessageLostSession {
			t.Fatalf("expected lost session reply, got %v", reply.Messages)
		}
		if _, rec := loadState(t, st); rec != nil {
			t.Fatalf("expected no record to be written, got %+v", rec)
		}
	}
}

func TestController_CollectAfterCompletion(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	for i := 0; i < 3; i++ {
		c.Collect(ctx, Event{Query: "x", Store: st})
	}
	reply := c.Collect(ctx, Event{Query: "extra", Store: st})
	if reply.Messages[0] != MessageLostSession {
		t.Errorf("expected lost session reply, got %v", reply.Messages)
	}
	state, _ := loadState(t, st)
	if len(state.Answers) != 3 {
		t.Errorf("answers changed after completion: %+v", state.Answers)
	}
}

func TestController_CollectMalformedSession(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	bad := models.ContextRecord{Name: models.SessionContextName, Lifespan: 5, Parameters: map[string]any{
		models.ParamSelectedQuestions: "not a list",
		models.ParamStep:              1,
	}}
	if err := st.Set(ctx, bad); err != nil {
		t.Fatalf("Set: %v", err)
	}
	reply := c.Collect(ctx, Event{Query: "x", Store: st})
	if reply.Messages[0] != MessageLostSession {
		t.Errorf("expected lost session reply, got %v", reply.Messages)
	}
}

func TestController_CompleteWithoutAnswers(t *testing.T) {
	gen := &fakeGenerator{text: "Dune by Frank Herbert"}
	c := newTestController(t, NewGenAIRecommender(gen, 0))
	st := NewMockSessionStore()
	ctx := context.Background()

	reply := c.Complete(ctx, Event{Store: st})
	if reply.Messages[0] != MessageInsufficientInfo {
		t.Errorf("expected insufficient info, got %v", reply.Messages)
	}
	if _, rec := loadState(t, st); rec != nil {
		t.Fatalf("expected store to stay empty, got %+v", rec)
	}
	c.Start(ctx, Event{Store: st})
	reply = c.Complete(ctx, Event{Store: st})
	if reply.Messages[0] != MessageInsufficientInfo {
		t.Errorf("expected insufficient info for fresh session, got %v", reply.Messages)
	}
	if len(gen.prompts) != 0 {
		t.Errorf("backend should not be called, got %d calls", len(gen.prompts))
	}
}

func TestController_CompleteMalformedSession(t *testing.T) {
	gen := &fakeGenerator{text: "Dune by Frank Herbert"}
	c := newTestController(t, NewGenAIRecommender(gen, 0))
	st := NewMockSessionStore()
	ctx := context.Background()

	bad := models.ContextRecord{Name: models.SessionContextName, Lifespan: 5, Parameters: map[string]any{
		models.ParamSelectedQuestions: 42,
	}}
	if err := st.Set(ctx, bad); err != nil {
		t.Fatalf("Set: %v", err)
	}
	reply := c.Complete(ctx, Event{Store: st})
	if reply.Messages[0] != MessageInsufficientInfo {
		t.Errorf("expected insufficient info, got %v", reply.Messages)
	}
	rec, err := st.Get(ctx, models.SessionContextName)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || rec.Parameters[models.ParamSelectedQuestions] != float64(42) {
		t.Errorf("expected malformed record to be left untouched, got %+v", rec)
	}
	if len(gen.prompts) != 0 {
		t.Errorf("backend should not be called, got %d calls", len(gen.prompts))
	}
}

func TestController_CompleteDeletesSession(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	for i := 0; i < 3; i++ {
		c.Collect(ctx, Event{Query: "anything", Store: st})
	}
	reply := c.Complete(ctx, Event{Store: st})
	want := MessageRecommendLeadIn + DefaultFallbackRecommendation
	if reply.Outcome != OutcomeRecommendation || reply.Messages[0] != want {
		t.Fatalf("expected %q, got %v", want, reply.Messages)
	}
	if _, rec := loadState(t, st); rec != nil {
		t.Errorf("expected session to be deleted, got %+v", rec)
	}
}

func TestController_CompleteDeleteFailureClears(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	inner := NewMockSessionStore()
	st := &failingSessionStore{inner: inner}
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	for i := 0; i < 3; i++ {
		c.Collect(ctx, Event{Query: "anything", Store: st})
	}
	st.delErr = errors.New("delete failed")
	c.Complete(ctx, Event{Store: st})

	state, rec := loadState(t, inner)
	if rec == nil {
		t.Fatal("expected cleared record")
	}
	if len(state.Answers) != 0 {
		t.Errorf("expected answers to be cleared, got %+v", state.Answers)
	}
}

func TestController_BackendFailureKeepsSession(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream unavailable")}
	c := newTestController(t, NewGenAIRecommender(gen, 0))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	for i := 0; i < 3; i++ {
		c.Collect(ctx, Event{Query: "value", Store: st})
	}
	reply := c.Complete(ctx, Event{Store: st})
	if reply.Outcome != OutcomeError || reply.Messages[0] != MessageBackendApology {
		t.Fatalf("expected apology, got %v", reply.Messages)
	}
	state, rec := loadState(t, st)
	if rec == nil || len(state.Answers) != 3 {
		t.Fatalf("expected answers to survive backend failure, got %+v", rec)
	}

	gen.err = nil
	gen.text = "Dune by Frank Herbert"
	reply = c.Complete(ctx, Event{Store: st})
	if reply.Messages[0] != MessageRecommendLeadIn+"Dune by Frank Herbert" {
		t.Errorf("expected retry to succeed, got %v", reply.Messages)
	}
}

type panickingRecommender struct{}

func (panickingRecommender) Recommend(ctx context.Context, answers map[models.QuestionKey]string) (string, error) {
	panic("strategy exploded")
}

func TestController_RecommenderPanicApologises(t *testing.T) {
	for name, rec := range map[string]Recommender{
		"strategy": panickingRecommender{},
		"backend":  NewGenAIRecommender(panicGenerator{}, 0),
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestController(t, rec)
			st := NewMockSessionStore()
			ctx := context.Background()

			c.Start(ctx, Event{Store: st})
			for i := 0; i < 3; i++ {
				c.Collect(ctx, Event{Query: "value", Store: st})
			}
			reply := c.Complete(ctx, Event{Store: st})
			if reply.Outcome != OutcomeError || reply.Messages[0] != MessageBackendApology {
				t.Fatalf("expected apology, got %v", reply.Messages)
			}
			state, stored := loadState(t, st)
			if stored == nil || len(state.Answers) != 3 {
				t.Errorf("expected answers to survive, got %+v", stored)
			}
		})
	}
}

func TestController_EmptyBackendOutput(t *testing.T) {
	gen := &fakeGenerator{text: ""}
	c := newTestController(t, NewGenAIRecommender(gen, 0))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	for i := 0; i < 3; i++ {
		c.Collect(ctx, Event{Query: "value", Store: st})
	}
	reply := c.Complete(ctx, Event{Store: st})
	if reply.Messages[0] != MessageBackendApology {
		t.Errorf("expected apology for empty output, got %v", reply.Messages)
	}
}

func TestController_InlineCompletion(t *testing.T) {
	gen := &fakeGenerator{text: "Dune by Frank Herbert"}
	c := newTestController(t, NewGenAIRecommender(gen, 0), WithCompletionMode(CompletionInline))
	st := NewMockSessionStore()
	ctx := context.Background()

	c.Start(ctx, Event{Store: st})
	var reply Reply
	for i := 0; i < 3; i++ {
		reply = c.Collect(ctx, Event{Query: "value", Store: st})
	}
	if reply.Outcome != OutcomeRecommendation {
		t.Fatalf("expected recommendation outcome, got %s", reply.Outcome)
	}
	if len(reply.Messages) != 2 || reply.Messages[0] != MessageAcknowledged || reply.Messages[1] != MessageRecommendLeadIn+"Dune by Frank Herbert" {
		t.Errorf("unexpected messages %v", reply.Messages)
	}
	if reply.FollowupEvent != "" {
		t.Errorf("inline completion should not request a follow-up, got %q", reply.FollowupEvent)
	}
	if _, rec := loadState(t, st); rec != nil {
		t.Errorf("expected session deleted, got %+v", rec)
	}
}

func TestController_StoreFailure(t *testing.T) {
	c := newTestController(t, NewRuleTableRecommender(DefaultRuleTable()))
	ctx := context.Background()

	st := &failingSessionStore{inner: NewMockSessionStore(), setErr: errors.New("disk full")}
	if reply := c.Start(ctx, Event{Store: st}); reply.Messages[0] != MessageStoreFailure {
		t.Errorf("Start: expected store failure, got %v", reply.Messages)
	}

	st = &failingSessionStore{inner: NewMockSessionStore(), getErr: errors.New("db down")}
	if reply := c.Collect(ctx, Event{Store: st}); reply.Messages[0] != MessageStoreFailure {
		t.Errorf("Collect: expected store failure, got %v", reply.Messages)
	}
	if reply := c.Complete(ctx, Event{Store: st}); reply.Messages[0] != MessageStoreFailure {
		t.Errorf("Complete: expected store failure, got %v", reply.Messages)
	}
}

func TestController_EndToEnd(t *testing.T) {
	catalog := []models.Question{
		{Key: models.QuestionKeyYear, Text: "Which year?"},
		{Key: models.QuestionKeyGenre, Text: "Which genre?"},
		{Key: models.QuestionKeyMood, Text: "Which mood?"},
	}
	gen := &fakeGenerator{text: "Gone Girl by Gillian Flynn"}
	c, err := NewController(catalog, NewGenAIRecommender(gen, 0), WithRand(rand.New(rand.NewPCG(3, 4))))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	d := NewDispatcher(NewIntentMap(c))
	st := NewMockSessionStore()
	ctx := context.Background()
	params := map[string]any{"year": "1990s", "genre": "mystery", "mood": "thrilling"}

	reply := d.Handle(ctx, Event{Intent: models.IntentStartRecommendation, Store: st})
	if reply.Messages[0] != MessageIntro {
		t.Fatalf("unexpected start reply %v", reply.Messages)
	}
	for i := 0; i < 3; i++ {
		reply = d.Handle(ctx, Event{Intent: models.IntentRecommendByGenre, Parameters: params, Store: st})
	}
	if reply.FollowupEvent != models.EventGenerateRecommendation {
		t.Fatalf("expected follow-up event after last answer, got %+v", reply)
	}
	reply = d.Handle(ctx, Event{Intent: reply.FollowupEvent, Store: st})
	if reply.Messages[0] != MessageRecommendLeadIn+"Gone Girl by Gillian Flynn" {
		t.Fatalf("unexpected recommendation %v", reply.Messages)
	}

	if len(gen.prompts) != 1 {
		t.Fatalf("expected 1 backend call, got %d", len(gen.prompts))
	}
	prompt := gen.prompts[0]
	for _, want := range []string{"Genre: mystery", "Mood: thrilling", "Year: 1990s"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if n := strings.Count(prompt, ": Any"); n != 3 {
		t.Errorf("expected 3 unanswered keys, got %d:\n%s", n, prompt)
	}
}

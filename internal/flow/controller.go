// Package flow implements the book recommendation dialogue: question selection,
// turn-by-turn answer collection and the completion policy.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// CompletionMode determines when the recommendation is produced.
type CompletionMode string

const (
	// CompletionDeferred acknowledges the final answer and waits for the
	// completion event.
	CompletionDeferred CompletionMode = "deferred"
	// CompletionInline recommends in the same turn as the final answer.
	CompletionInline CompletionMode = "inline"
)

// IsValidCompletionMode checks if the given mode is supported.
func IsValidCompletionMode(m CompletionMode) bool {
	return m == CompletionDeferred || m == CompletionInline
}

// Outcome classifies a reply.
type Outcome string

const (
	OutcomeQuestion       Outcome = "question"
	OutcomeAcknowledged   Outcome = "acknowledged"
	OutcomeRecommendation Outcome = "recommendation"
	OutcomeError          Outcome = "error"
)

// Event is one inbound turn from the intent dispatcher.
type Event struct {
	Intent     string
	Parameters map[string]any // slot values extracted by the NLU layer
	Query      string         // raw user utterance
	Store      SessionStore
}

// Reply is the ordered text a transition emits for a turn.
type Reply struct {
	Messages      []string
	Outcome       Outcome
	FollowupEvent string // event the transport should fire next, if any
}

func errorReply(msg string) Reply {
	return Reply{Messages: []string{msg}, Outcome: OutcomeError}
}

// Controller owns the dialogue logic over SessionState.
type Controller struct {
	catalog     []models.Question
	recommender Recommender
	mode        CompletionMode
	lifespan    int

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRand sets the random source used for question selection.
func WithRand(rng *rand.Rand) ControllerOption {
	return func(c *Controller) { c.rng = rng }
}

// WithCompletionMode sets when the recommendation is produced.
func WithCompletionMode(m CompletionMode) ControllerOption {
	return func(c *Controller) { c.mode = m }
}

// WithLifespan sets the turn budget written with each session update.
func WithLifespan(turns int) ControllerOption {
	return func(c *Controller) { c.lifespan = turns }
}

// NewController validates the catalog and builds a Controller. A catalog that
// cannot supply a full question subset is a ConfigurationError.
func NewController(catalog []models.Question, recommender Recommender, opts ...ControllerOption) (*Controller, error) {
	if err := models.ValidateCatalog(catalog); err != nil {
		return nil, &ConfigurationError{Reason: "invalid question catalog", Err: err}
	}
	if len(catalog) < models.QuestionsPerSession {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("catalog has %d questions, need at least %d", len(catalog), models.QuestionsPerSession)}
	}
	if recommender == nil {
		return nil, &ConfigurationError{Reason: "no recommender configured"}
	}

	qs := make([]models.Question, len(catalog))
	copy(qs, catalog)
	c := &Controller{
		catalog:     qs,
		recommender: recommender,
		mode:        CompletionDeferred,
		lifespan:    models.DefaultSessionLifespan,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = newRand()
	}
	if !IsValidCompletionMode(c.mode) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown completion mode %q", c.mode)}
	}
	if c.lifespan <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("lifespan must be positive, got %d", c.lifespan)}
	}
	slog.Debug("Controller created", "catalogSize", len(qs), "mode", c.mode, "lifespan", c.lifespan)
	return c, nil
}

// Start begins a new session, replacing any previous one, and asks the first question.
func (c *Controller) Start(ctx context.Context, ev Event) Reply {
	c.mu.Lock()
	selected, err := SelectQuestions(c.catalog, models.QuestionsPerSession, c.rng)
	c.mu.Unlock()
	if err != nil {
		// NewController guarantees a usable catalog.
		slog.Error("Controller Start selection failed", "error", err)
		return errorReply(MessageStoreFailure)
	}

	state := models.NewSessionState(selected)
	if err := c.save(ctx, ev.Store, state); err != nil {
		slog.Error("Controller Start persist failed", "error", err)
		return errorReply(MessageStoreFailure)
	}

	keys := make([]string, len(selected))
	for i, q := range selected {
		keys[i] = string(q.Key)
	}
	slog.Info("Controller session started", "questions", strings.Join(keys, ","))
	return Reply{
		Messages: []string{MessageIntro, selected[0].Text},
		Outcome:  OutcomeQuestion,
	}
}

// Collect records the answer to the current question and asks the next one,
// or finishes the question phase after the last answer.
func (c *Controller) Collect(ctx context.Context, ev Event) Reply {
	state, err := c.load(ctx, ev.Store)
	if err != nil {
		if errors.Is(err, models.ErrMalformedSession) {
			slog.Warn("Controller Collect found malformed session", "error", err)
			return errorReply(MessageLostSession)
		}
		slog.Error("Controller Collect load failed", "error", err)
		return errorReply(MessageStoreFailure)
	}
	if !state.Started() {
		slog.Warn("Controller Collect without active session", "intent", ev.Intent)
		return errorReply(MessageLostSession)
	}

	q, _ := state.CurrentQuestion()
	answer := resolveAnswer(q.Key, ev)
	state.Answers[q.Key] = answer
	state.Step++
	slog.Debug("Controller Collect stored answer", "key", q.Key, "step", state.Step, "intent", ev.Intent)

	if !state.Complete() {
		if err := c.save(ctx, ev.Store, state); err != nil {
			slog.Error("Controller Collect persist failed", "error", err, "step", state.Step)
			return errorReply(MessageStoreFailure)
		}
		return Reply{
			Messages: []string{state.SelectedQuestions[state.Step].Text},
			Outcome:  OutcomeQuestion,
		}
	}

	if c.mode == CompletionInline {
		return c.completeInline(ctx, ev.Store, state)
	}

	if err := c.save(ctx, ev.Store, state); err != nil {
		slog.Error("Controller Collect persist final answers failed", "error", err)
		return errorReply(MessageStoreFailure)
	}
	slog.Info("Controller question phase complete", "answers", len(state.Answers))
	return Reply{
		Messages:      []string{MessageAcknowledged},
		Outcome:       OutcomeAcknowledged,
		FollowupEvent: models.EventGenerateRecommendation,
	}
}

// Complete produces the recommendation from the collected answers and ends the session.
func (c *Controller) Complete(ctx context.Context, ev Event) Reply {
	state, err := c.load(ctx, ev.Store)
	if err != nil && !errors.Is(err, models.ErrMalformedSession) {
		slog.Error("Controller Complete load failed", "error", err)
		return errorReply(MessageStoreFailure)
	}
	if err != nil || len(state.Answers) == 0 {
		slog.Warn("Controller Complete without answers", "error", err)
		return errorReply(MessageInsufficientInfo)
	}

	msg, ok := c.recommend(ctx, state.Answers)
	if !ok {
		return errorReply(msg)
	}
	c.finish(ctx, ev.Store)
	return Reply{Messages: []string{msg}, Outcome: OutcomeRecommendation}
}

func (c *Controller) completeInline(ctx context.Context, st SessionStore, state models.SessionState) Reply {
	msg, ok := c.recommend(ctx, state.Answers)
	if !ok {
		// Keep the answers so a later completion event can retry.
		if err := c.save(ctx, st, state); err != nil {
			slog.Error("Controller inline completion persist failed", "error", err)
		}
		return Reply{Messages: []string{MessageAcknowledged, msg}, Outcome: OutcomeError}
	}
	c.finish(ctx, st)
	return Reply{Messages: []string{MessageAcknowledged, msg}, Outcome: OutcomeRecommendation}
}

// recommend runs the configured strategy and returns the user-facing text and
// whether it succeeded.
func (c *Controller) recommend(ctx context.Context, answers map[models.QuestionKey]string) (string, bool) {
	rec, err := c.safeRecommend(ctx, answers)
	if err != nil {
		slog.Error("Controller recommendation failed", "error", err, "answers", len(answers))
		return MessageBackendApology, false
	}
	slog.Info("Controller recommendation produced", "length", len(rec))
	return MessageRecommendLeadIn + rec, true
}

// safeRecommend converts a panicking strategy into an error.
func (c *Controller) safeRecommend(ctx context.Context, answers map[models.QuestionKey]string) (rec string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recommender panic: %v", r)
		}
	}()
	return c.recommender.Recommend(ctx, answers)
}

func (c *Controller) finish(ctx context.Context, st SessionStore) {
	if err := st.Delete(ctx, models.SessionContextName); err != nil {
		// Fall back to an empty terminal record so stale answers are not reused.
		slog.Warn("Controller session delete failed, clearing instead", "error", err)
		if err := st.Set(ctx, models.ContextRecord{Name: models.SessionContextName, Lifespan: c.lifespan, Parameters: map[string]any{}}); err != nil {
			slog.Error("Controller session clear failed", "error", err)
		}
	}
}

func (c *Controller) load(ctx context.Context, st SessionStore) (models.SessionState, error) {
	rec, err := st.Get(ctx, models.SessionContextName)
	if err != nil {
		return models.SessionState{}, err
	}
	var params map[string]any
	if rec != nil {
		params = rec.Parameters
	}
	return models.DecodeSessionState(params)
}

func (c *Controller) save(ctx context.Context, st SessionStore, state models.SessionState) error {
	return st.Set(ctx, models.ContextRecord{
		Name:       models.SessionContextName,
		Lifespan:   c.lifespan,
		Parameters: state.Parameters(),
	})
}

// resolveAnswer prefers the slot value for key and falls back to the utterance.
func resolveAnswer(key models.QuestionKey, ev Event) string {
	if v, ok := ev.Parameters[string(key)]; ok {
		if s := models.FormatParameterValue(v); s != "" {
			return s
		}
	}
	return strings.TrimSpace(ev.Query)
}

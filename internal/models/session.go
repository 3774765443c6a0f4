package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Parameter names used inside the session context record.
const (
	ParamSelectedQuestions = "selectedQuestions"
	ParamStep              = "step"
	ParamAnswers           = "answers"
)

// ErrMalformedSession is returned when a context record cannot be read as a session.
var ErrMalformedSession = errors.New("malformed session state")

// SessionState is the mutable state of one recommendation dialogue.
type SessionState struct {
	SelectedQuestions []Question
	Step              int
	Answers           map[QuestionKey]string
}

// NewSessionState returns a fresh state at step 0 with no answers.
func NewSessionState(selected []Question) SessionState {
	qs := make([]Question, len(selected))
	copy(qs, selected)
	return SessionState{
		SelectedQuestions: qs,
		Step:              0,
		Answers:           make(map[QuestionKey]string),
	}
}

// Started reports whether the state still carries its question selection.
func (s SessionState) Started() bool {
	return len(s.SelectedQuestions) > 0
}

// Complete reports whether every selected question has been answered.
func (s SessionState) Complete() bool {
	return s.Step >= QuestionsPerSession
}

// CurrentQuestion returns the next unanswered question.
func (s SessionState) CurrentQuestion() (Question, bool) {
	if s.Step < 0 || s.Step >= len(s.SelectedQuestions) {
		return Question{}, false
	}
	return s.SelectedQuestions[s.Step], true
}

// Parameters encodes the state into a context parameter bag. A completed state
// keeps only its answers.
func (s SessionState) Parameters() map[string]any {
	answers := make(map[string]any, len(s.Answers))
	for k, v := range s.Answers {
		answers[string(k)] = v
	}
	params := map[string]any{ParamAnswers: answers}
	if s.Complete() || !s.Started() {
		return params
	}

	selected := make([]any, 0, len(s.SelectedQuestions))
	for _, q := range s.SelectedQuestions {
		selected = append(selected, map[string]any{"key": string(q.Key), "text": q.Text})
	}
	params[ParamSelectedQuestions] = selected
	params[ParamStep] = s.Step
	return params
}

// DecodeSessionState reads a session from a context parameter bag. A nil bag
// yields an empty, unstarted state. A bag with answers but no selection is the
// completed terminal state.
func DecodeSessionState(params map[string]any) (SessionState, error) {
	state := SessionState{Answers: make(map[QuestionKey]string)}
	if params == nil {
		return state, nil
	}

	if raw, ok := params[ParamAnswers]; ok && raw != nil {
		answers, err := decodeAnswers(raw)
		if err != nil {
			return SessionState{}, err
		}
		state.Answers = answers
	}

	selected, err := decodeSelectedQuestions(params[ParamSelectedQuestions])
	if err != nil {
		return SessionState{}, err
	}
	if len(selected) == 0 {
		if len(state.Answers) > 0 {
			state.Step = QuestionsPerSession
		}
		return state, nil
	}
	state.SelectedQuestions = selected

	step, err := decodeStep(params[ParamStep])
	if err != nil {
		return SessionState{}, err
	}
	if step < 0 || step >= QuestionsPerSession {
		return SessionState{}, fmt.Errorf("%w: step %d out of range", ErrMalformedSession, step)
	}
	state.Step = step

	allowed := make(map[QuestionKey]bool, len(selected))
	for _, q := range selected {
		allowed[q.Key] = true
	}
	for k := range state.Answers {
		if !allowed[k] {
			return SessionState{}, fmt.Errorf("%w: answer for unselected key %q", ErrMalformedSession, k)
		}
	}
	return state, nil
}

func decodeAnswers(raw any) (map[QuestionKey]string, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: answers is %T", ErrMalformedSession, raw)
	}
	answers := make(map[QuestionKey]string, len(m))
	for k, v := range m {
		key := QuestionKey(k)
		if !IsValidQuestionKey(key) {
			return nil, fmt.Errorf("%w: unknown answer key %q", ErrMalformedSession, k)
		}
		answers[key] = FormatParameterValue(v)
	}
	return answers, nil
}

func decodeSelectedQuestions(raw any) ([]Question, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: selectedQuestions is %T", ErrMalformedSession, raw)
	}
	if len(list) == 0 {
		return nil, nil
	}
	if len(list) != QuestionsPerSession {
		return nil, fmt.Errorf("%w: %d selected questions", ErrMalformedSession, len(list))
	}

	seen := make(map[QuestionKey]bool, len(list))
	questions := make([]Question, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: selected question %d is %T", ErrMalformedSession, i, item)
		}
		key, _ := m["key"].(string)
		text, _ := m["text"].(string)
		q := Question{Key: QuestionKey(key), Text: text}
		if !IsValidQuestionKey(q.Key) || q.Text == "" {
			return nil, fmt.Errorf("%w: selected question %d invalid", ErrMalformedSession, i)
		}
		if seen[q.Key] {
			return nil, fmt.Errorf("%w: duplicate selected key %q", ErrMalformedSession, q.Key)
		}
		seen[q.Key] = true
		questions = append(questions, q)
	}
	return questions, nil
}

func decodeStep(raw any) (int, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: non-integer step %v", ErrMalformedSession, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: step %q: %v", ErrMalformedSession, v, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: step is %T", ErrMalformedSession, raw)
	}
}

// FormatParameterValue renders a slot or answer value as plain text. Strings are
// trimmed, whole numbers lose their decimal point and lists are comma-joined.
// Structured values such as date periods render as "".
func FormatParameterValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := FormatParameterValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

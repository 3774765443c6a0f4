package dialogflow

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BTreeMap/BookPipe/internal/models"
)

const testSession = "projects/bookbot/agent/sessions/abc123"

const sampleRequest = `{
  "responseId": "r-1",
  "session": "projects/bookbot/agent/sessions/abc123",
  "queryResult": {
    "queryText": "I like mystery",
    "parameters": {"genre": "mystery"},
    "intent": {"name": "projects/bookbot/agent/intents/1", "displayName": "RecommendByGenre"},
    "languageCode": "en",
    "outputContexts": [
      {
        "name": "projects/bookbot/agent/sessions/abc123/contexts/book_recommendation_session",
        "lifespanCount": 4,
        "parameters": {
          "selectedQuestions": [
            {"key": "genre", "text": "Which genre?"},
            {"key": "mood", "text": "Which mood?"},
            {"key": "year", "text": "Which year?"}
          ],
          "step": 0,
          "answers": {},
          "genre.original": "mystery"
        }
      },
      {
        "name": "projects/bookbot/agent/sessions/abc123/contexts/expired",
        "lifespanCount": 0
      }
    ]
  }
}`

func TestDecodeWebhookRequest(t *testing.T) {
	req, err := DecodeWebhookRequest(strings.NewReader(sampleRequest))
	if err != nil {
		t.Fatalf("DecodeWebhookRequest: %v", err)
	}
	if req.Session != testSession {
		t.Errorf("unexpected session %q", req.Session)
	}
	if req.QueryResult.Intent.DisplayName != "RecommendByGenre" {
		t.Errorf("unexpected intent %q", req.QueryResult.Intent.DisplayName)
	}
	if req.QueryResult.Parameters["genre"] != "mystery" {
		t.Errorf("unexpected parameters %v", req.QueryResult.Parameters)
	}
	if len(req.QueryResult.OutputContexts) != 2 {
		t.Errorf("expected 2 contexts, got %d", len(req.QueryResult.OutputContexts))
	}
}

func TestDecodeWebhookRequest_Invalid(t *testing.T) {
	if _, err := DecodeWebhookRequest(strings.NewReader("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := DecodeWebhookRequest(strings.NewReader(`{"queryResult":{}}`)); err == nil {
		t.Error("expected error for missing session")
	}
}

func TestContextStore_ReadsActiveContexts(t *testing.T) {
	req, err := DecodeWebhookRequest(strings.NewReader(sampleRequest))
	if err != nil {
		t.Fatalf("DecodeWebhookRequest: %v", err)
	}
	s := NewContextStore(req)
	ctx := context.Background()

	rec, err := s.Get(ctx, models.SessionContextName)
	if err != nil || rec == nil {
		t.Fatalf("expected session context, got %v %v", rec, err)
	}
	if rec.Lifespan != 4 {
		t.Errorf("expected lifespan 4, got %d", rec.Lifespan)
	}
	state, err := models.DecodeSessionState(rec.Parameters)
	if err != nil {
		t.Fatalf("DecodeSessionState: %v", err)
	}
	if state.Step != 0 || len(state.SelectedQuestions) != 3 {
		t.Errorf("unexpected state %+v", state)
	}

	if expired, _ := s.Get(ctx, "expired"); expired != nil {
		t.Errorf("expected expired context to be ignored, got %+v", expired)
	}
	if len(s.OutputContexts()) != 0 {
		t.Error("expected no output contexts before any write")
	}
}

func TestContextStore_OutputContexts(t *testing.T) {
	req := &WebhookRequest{Session: testSession, QueryResult: QueryResult{OutputContexts: []Context{
		{Name: ContextPath(testSession, "old"), LifespanCount: 2},
	}}}
	s := NewContextStore(req)
	ctx := context.Background()

	if err := s.Set(ctx, models.ContextRecord{Name: models.SessionContextName, Lifespan: 5, Parameters: map[string]any{"step": 1}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, "old"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	out := s.OutputContexts()
	if len(out) != 2 {
		t.Fatalf("expected 2 output contexts, got %+v", out)
	}
	byName := map[string]Context{}
	for _, c := range out {
		byName[ShortContextName(c.Name)] = c
	}
	session := byName[models.SessionContextName]
	if session.Name != testSession+"/contexts/"+models.SessionContextName || session.LifespanCount != 5 {
		t.Errorf("unexpected session output %+v", session)
	}
	if old := byName["old"]; old.LifespanCount != 0 || old.Parameters != nil {
		t.Errorf("expected deletion as lifespan 0, got %+v", old)
	}
}

func TestContextStore_SetAfterDelete(t *testing.T) {
	s := NewContextStore(&WebhookRequest{Session: testSession})
	ctx := context.Background()
	s.Delete(ctx, "x")
	s.Set(ctx, models.ContextRecord{Name: "x", Lifespan: 3})

	out := s.OutputContexts()
	if len(out) != 1 || out[0].LifespanCount != 3 {
		t.Errorf("expected re-created context, got %+v", out)
	}
	rec, _ := s.Get(ctx, "x")
	if rec == nil || rec.SessionID != testSession {
		t.Errorf("expected record scoped to session, got %+v", rec)
	}
}

func TestNewTextResponse_JSON(t *testing.T) {
	resp := NewTextResponse([]string{"Hello", "Which genre?"})
	resp.FollowupEventInput = &EventInput{Name: models.EventGenerateRecommendation, LanguageCode: DefaultLanguageCode}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"fulfillmentMessages":[{"text":{"text":["Hello"]}},{"text":{"text":["Which genre?"]}}],"followupEventInput":{"name":"GenerateRecommendation","languageCode":"en"}}`
	if string(data) != want {
		t.Errorf("unexpected JSON:\n got %s\nwant %s", data, want)
	}
}

func TestShortContextName(t *testing.T) {
	if got := ShortContextName(testSession + "/contexts/foo"); got != "foo" {
		t.Errorf("unexpected short name %q", got)
	}
	if got := ShortContextName("bare"); got != "bare" {
		t.Errorf("unexpected short name %q", got)
	}
	if got := ContextPath(testSession+"/", "foo"); got != testSession+"/contexts/foo" {
		t.Errorf("unexpected path %q", got)
	}
}

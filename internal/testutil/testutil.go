// Package testutil provides shared helpers for BookPipe HTTP and dialogue tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/BookPipe/internal/api"
	"github.com/BTreeMap/BookPipe/internal/dialogflow"
	"github.com/BTreeMap/BookPipe/internal/flow"
	"github.com/BTreeMap/BookPipe/internal/models"
)

// TestSession is the Dialogflow session path used by webhook helpers.
const TestSession = "projects/test-agent/agent/sessions/test-session"

// NewTestDispatcher builds a dispatcher over the default catalog and rule
// table with a fixed random seed, so question order is reproducible.
func NewTestDispatcher(t *testing.T, opts ...flow.ControllerOption) *flow.Dispatcher {
	t.Helper()
	rec := flow.NewRuleTableRecommender(flow.DefaultRuleTable())
	opts = append([]flow.ControllerOption{flow.WithRand(rand.New(rand.NewPCG(7, 11)))}, opts...)
	c, err := flow.NewController(models.DefaultCatalog(), rec, opts...)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return flow.NewDispatcher(flow.NewIntentMap(c))
}

// NewTestServer creates an API server over a test dispatcher.
func NewTestServer(t *testing.T, opts ...api.Option) *api.Server {
	t.Helper()
	return api.NewServer(NewTestDispatcher(t), opts...)
}

// WebhookRequest builds a Dialogflow webhook body for TestSession.
func WebhookRequest(intentName, query string, params map[string]any, contexts []dialogflow.Context) dialogflow.WebhookRequest {
	return dialogflow.WebhookRequest{
		ResponseID: "resp-1",
		Session:    TestSession,
		QueryResult: dialogflow.QueryResult{
			QueryText:      query,
			Parameters:     params,
			Intent:         dialogflow.Intent{DisplayName: intentName},
			OutputContexts: contexts,
			LanguageCode:   "en",
		},
	}
}

// PostWebhook sends req to handler and decodes the fulfillment response.
func PostWebhook(t *testing.T, handler http.Handler, req dialogflow.WebhookRequest) dialogflow.WebhookResponse {
	t.Helper()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, CreateHTTPRequest(t, http.MethodPost, "/webhook", req))
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	var resp dialogflow.WebhookResponse
	MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	return resp
}

// ResponseTexts flattens the text messages of a fulfillment response.
func ResponseTexts(resp dialogflow.WebhookResponse) []string {
	var out []string
	for _, m := range resp.FulfillmentMessages {
		out = append(out, m.Text.Text...)
	}
	return out
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an APIResponse body and validates its status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if status, _ := response["status"].(string); status != string(expectedStatus) {
		t.Errorf("expected status %q, got %q", expectedStatus, response["status"])
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		buf.Write(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals v to JSON and fails the test on error.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals data into target and fails the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

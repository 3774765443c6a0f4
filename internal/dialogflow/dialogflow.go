// Package dialogflow defines the Dialogflow ES fulfillment webhook wire format
// and a request-scoped session store built from the request's contexts.
package dialogflow

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WebhookRequest is the body Dialogflow posts to the fulfillment webhook.
type WebhookRequest struct {
	ResponseID  string      `json:"responseId"`
	Session     string      `json:"session"`
	QueryResult QueryResult `json:"queryResult"`
}

// QueryResult carries the matched intent and its extracted parameters.
type QueryResult struct {
	QueryText      string         `json:"queryText"`
	Parameters     map[string]any `json:"parameters"`
	Intent         Intent         `json:"intent"`
	OutputContexts []Context      `json:"outputContexts"`
	LanguageCode   string         `json:"languageCode"`
}

// Intent identifies the matched intent.
type Intent struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Context is a Dialogflow context. Name is the full resource path
// "<session>/contexts/<id>".
type Context struct {
	Name          string         `json:"name"`
	LifespanCount int            `json:"lifespanCount"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// WebhookResponse is the fulfillment reply.
type WebhookResponse struct {
	FulfillmentMessages []Message   `json:"fulfillmentMessages"`
	OutputContexts      []Context   `json:"outputContexts,omitempty"`
	FollowupEventInput  *EventInput `json:"followupEventInput,omitempty"`
}

// Message is a rich response message. Only text is produced.
type Message struct {
	Text Text `json:"text"`
}

// Text holds the text variants of a message.
type Text struct {
	Text []string `json:"text"`
}

// EventInput asks Dialogflow to trigger the intent bound to an event.
type EventInput struct {
	Name         string         `json:"name"`
	LanguageCode string         `json:"languageCode"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// DefaultLanguageCode is used for follow-up events when the request has none.
const DefaultLanguageCode = "en"

// DecodeWebhookRequest reads and validates a webhook request body.
func DecodeWebhookRequest(r io.Reader) (*WebhookRequest, error) {
	var req WebhookRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid webhook request: %w", err)
	}
	if strings.TrimSpace(req.Session) == "" {
		return nil, fmt.Errorf("invalid webhook request: session is required")
	}
	return &req, nil
}

// NewTextResponse returns a response with one text message per entry.
func NewTextResponse(messages []string) *WebhookResponse {
	resp := &WebhookResponse{FulfillmentMessages: make([]Message, 0, len(messages))}
	for _, m := range messages {
		resp.FulfillmentMessages = append(resp.FulfillmentMessages, Message{Text: Text{Text: []string{m}}})
	}
	return resp
}

// ContextPath returns the full context resource name for session and id.
func ContextPath(session, id string) string {
	return strings.TrimSuffix(session, "/") + "/contexts/" + id
}

// ShortContextName returns the id segment of a context resource name.
func ShortContextName(name string) string {
	if i := strings.LastIndex(name, "/contexts/"); i >= 0 {
		return name[i+len("/contexts/"):]
	}
	return name
}

package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/BookPipe/internal/dialogflow"
	"github.com/BTreeMap/BookPipe/internal/flow"
	"github.com/BTreeMap/BookPipe/internal/models"
	"github.com/BTreeMap/BookPipe/internal/twiliowhatsapp"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := dialogflow.DecodeWebhookRequest(r.Body)
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid webhook request")
		return
	}

	contexts := dialogflow.NewContextStore(req)
	intentName := req.QueryResult.Intent.DisplayName
	slog.Debug("Server.webhookHandler: dispatching", "session", req.Session, "intent", intentName)

	reply := s.dispatcher.Handle(r.Context(), flow.Event{
		Intent:     intentName,
		Parameters: req.QueryResult.Parameters,
		Query:      req.QueryResult.QueryText,
		Store:      contexts,
	})

	resp := dialogflow.NewTextResponse(reply.Messages)
	resp.OutputContexts = contexts.OutputContexts()
	if s.opts.DialogflowFollowup && reply.FollowupEvent != "" {
		lang := req.QueryResult.LanguageCode
		if lang == "" {
			lang = dialogflow.DefaultLanguageCode
		}
		resp.FollowupEventInput = &dialogflow.EventInput{Name: reply.FollowupEvent, LanguageCode: lang}
	}
	slog.Info("Server.webhookHandler: replied", "session", req.Session, "intent", intentName, "outcome", reply.Outcome)
	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}

	if s.opts.TwilioValidator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		url := s.publicURL(r) + r.URL.RequestURI()
		if !s.opts.TwilioValidator.Validate(url, params, r.Header.Get(twiliowhatsapp.SignatureHeader)) {
			writeError(w, http.StatusForbidden, "Invalid signature")
			return
		}
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("Server.twilioWebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if !s.opts.TwilioService.Deliver(r.PostFormValue("MessageSid"), from, body) {
		writeError(w, http.StatusServiceUnavailable, "Inbound queue unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(emptyTwiML))
}

// publicURL returns the configured base URL, or reconstructs it from the request.
func (s *Server) publicURL(r *http.Request) string {
	if s.opts.PublicURL != "" {
		return strings.TrimSuffix(s.opts.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"intents":        s.dispatcher.Intents(),
		"twilio":         s.opts.TwilioService != nil,
	}))
}

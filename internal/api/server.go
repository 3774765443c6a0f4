// Package api provides the HTTP server for BookPipe.
//
// It exposes the Dialogflow fulfillment webhook, the Twilio WhatsApp inbound
// webhook and a health endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/BookPipe/internal/flow"
	"github.com/BTreeMap/BookPipe/internal/messaging"
	"github.com/BTreeMap/BookPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/BookPipe/internal/util"
)

// Server timeouts.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr               string
	TwilioService      *messaging.TwilioService
	TwilioValidator    *twiliowhatsapp.SignatureValidator
	PublicURL          string // externally visible base URL used for Twilio signatures
	DialogflowFollowup bool   // emit followupEventInput after the last answer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioService enables the Twilio inbound webhook.
func WithTwilioService(svc *messaging.TwilioService) Option {
	return func(o *Opts) { o.TwilioService = svc }
}

// WithTwilioSignatureValidation rejects Twilio webhook requests whose
// signature does not match. publicURL is the base URL Twilio is configured with.
func WithTwilioSignatureValidation(v *twiliowhatsapp.SignatureValidator, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioValidator = v
		o.PublicURL = publicURL
	}
}

// WithDialogflowFollowup makes the webhook ask Dialogflow to fire the
// completion event right after the last answer.
func WithDialogflowFollowup(enabled bool) Option {
	return func(o *Opts) { o.DialogflowFollowup = enabled }
}

// Server serves the BookPipe HTTP endpoints.
type Server struct {
	dispatcher *flow.Dispatcher
	opts       Opts
	startedAt  time.Time
	httpServer *http.Server
}

// NewServer creates a server that routes dialogue turns through dispatcher.
func NewServer(dispatcher *flow.Dispatcher, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{dispatcher: dispatcher, opts: cfg, startedAt: time.Now()}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/{$}", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if s.opts.TwilioService != nil {
		mux.HandleFunc("/twilio/whatsapp", s.twilioWebhookHandler)
	}
	return logRequests(mux)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.opts.Addr, "twilio", s.opts.TwilioService != nil)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("API server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests tags each request with an ID and logs its outcome.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := util.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request handled", "requestID", requestID, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", time.Since(start))
	})
}

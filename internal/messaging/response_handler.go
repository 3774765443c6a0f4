package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/BookPipe/internal/flow"
	"github.com/BTreeMap/BookPipe/internal/intent"
	"github.com/BTreeMap/BookPipe/internal/models"
	"github.com/BTreeMap/BookPipe/internal/store"
)

// ResponseHandler runs the dialogue for chat channels: each inbound message is
// de-duplicated, ages the sender's contexts, is resolved to an intent and
// dispatched, and the reply is sent back through the channel.
type ResponseHandler struct {
	msgService Service
	store      store.Store
	dispatcher *flow.Dispatcher
	resolver   *intent.Resolver
	locks      *keyedMutex
}

// NewResponseHandler creates a handler that replies through msgService.
func NewResponseHandler(msgService Service, st store.Store, dispatcher *flow.Dispatcher, resolver *intent.Resolver) *ResponseHandler {
	if resolver == nil {
		resolver = intent.NewResolver()
	}
	return &ResponseHandler{
		msgService: msgService,
		store:      st,
		dispatcher: dispatcher,
		resolver:   resolver,
		locks:      newKeyedMutex(),
	}
}

// Start consumes the service's inbound channel until it closes or ctx is
// done. Senders are processed concurrently; turns from one sender are serial.
func (rh *ResponseHandler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("ResponseHandler stopping", "reason", ctx.Err())
			return
		case msg, ok := <-rh.msgService.Responses():
			if !ok {
				slog.Debug("ResponseHandler inbound channel closed")
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := rh.ProcessResponse(ctx, msg); err != nil {
					slog.Error("ResponseHandler failed to process message", "error", err, "from", msg.From, "id", msg.ID)
				}
			}()
		}
	}
}

// ProcessResponse handles one inbound message.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, msg models.InboundMessage) error {
	sender, err := rh.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	unlock := rh.locks.Lock(sender)
	defer unlock()

	if msg.ID != "" {
		fresh, err := rh.store.RecordInbound(msg.ID, sender)
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if !fresh {
			slog.Info("ResponseHandler duplicate message ignored", "from", sender, "id", msg.ID)
			return nil
		}
	}

	if removed, err := rh.store.AgeContexts(sender); err != nil {
		slog.Error("ResponseHandler context ageing failed", "error", err, "sessionID", sender)
	} else if removed > 0 {
		slog.Debug("ResponseHandler contexts expired", "sessionID", sender, "removed", removed)
	}

	sessions := flow.NewStoreBackedSessionStore(rh.store, sender)
	state := rh.currentState(ctx, sessions, sender)
	intentName := rh.resolver.Resolve(msg.Body, state)
	slog.Debug("ResponseHandler resolved intent", "sessionID", sender, "intent", intentName)

	reply := rh.dispatcher.Handle(ctx, flow.Event{Intent: intentName, Query: msg.Body, Store: sessions})
	sendErr := rh.send(ctx, sender, reply.Messages)

	if reply.FollowupEvent != "" {
		followup := rh.dispatcher.Handle(ctx, flow.Event{Intent: reply.FollowupEvent, Store: sessions})
		sendErr = errors.Join(sendErr, rh.send(ctx, sender, followup.Messages))
	}

	if msg.ID != "" {
		if err := rh.store.MarkProcessed(msg.ID); err != nil {
			slog.Warn("ResponseHandler mark processed failed", "error", err, "id", msg.ID)
		}
	}
	return sendErr
}

// currentState reads the session for intent resolution. Unreadable state
// resolves like no session; the controller reports it to the user.
func (rh *ResponseHandler) currentState(ctx context.Context, sessions flow.SessionStore, sender string) models.SessionState {
	rec, err := sessions.Get(ctx, models.SessionContextName)
	if err != nil || rec == nil {
		return models.SessionState{}
	}
	state, err := models.DecodeSessionState(rec.Parameters)
	if err != nil {
		slog.Warn("ResponseHandler session unreadable", "error", err, "sessionID", sender)
		return models.SessionState{}
	}
	return state
}

func (rh *ResponseHandler) send(ctx context.Context, to string, messages []string) error {
	for i, m := range messages {
		if err := rh.msgService.SendMessage(ctx, to, m); err != nil {
			return fmt.Errorf("send segment %d to %s: %w", i, to, err)
		}
	}
	return nil
}

// keyedMutex serializes work per key and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// Transition handles one event and returns the reply for the turn.
type Transition func(ctx context.Context, ev Event) Reply

// IntentMap maps intent names to transitions.
type IntentMap map[string]Transition

// NewIntentMap wires the controller's transitions to their intent names.
// Every collect intent aliases Collect; the follow-up event aliases Complete.
func NewIntentMap(c *Controller) IntentMap {
	m := IntentMap{
		models.IntentStartRecommendation:    c.Start,
		models.IntentGenerateRecommendation: c.Complete,
		models.EventGenerateRecommendation:  c.Complete,
	}
	for _, k := range models.AllQuestionKeys {
		m[models.CollectIntentForKey(k)] = c.Collect
	}
	return m
}

// Dispatcher routes events to transitions.
type Dispatcher struct {
	intents IntentMap
}

// NewDispatcher creates a dispatcher over intents.
func NewDispatcher(intents IntentMap) *Dispatcher {
	return &Dispatcher{intents: intents}
}

// Intents returns the registered intent names, sorted.
func (d *Dispatcher) Intents() []string {
	names := make([]string, 0, len(d.intents))
	for name := range d.intents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle runs the transition for ev.Intent. Unknown intents and panicking
// transitions produce a generic reply; the result always has at least one message.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (reply Reply) {
	t, ok := d.intents[ev.Intent]
	if !ok {
		slog.Warn("Dispatcher unknown intent", "intent", ev.Intent)
		return errorReply(MessageUnknownIntent)
	}
	if ev.Store == nil {
		slog.Error("Dispatcher event has no session store", "intent", ev.Intent)
		return errorReply(MessageStoreFailure)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher transition panicked", "intent", ev.Intent, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			reply = errorReply(MessageUnknownIntent)
		}
	}()

	reply = t(ctx, ev)
	if len(reply.Messages) == 0 {
		slog.Warn("Dispatcher transition returned empty reply", "intent", ev.Intent)
		reply = errorReply(MessageUnknownIntent)
	}
	slog.Debug("Dispatcher handled intent", "intent", ev.Intent, "outcome", reply.Outcome, "messages", len(reply.Messages))
	return reply
}

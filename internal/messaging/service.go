// Package messaging connects chat channels to the recommendation dialogue.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/BTreeMap/BookPipe/internal/models"
)

// Constants for channel services
const (
	// DefaultChannelBufferSize defines the buffer size for inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for buffer space
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable chat channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event handlers).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Responses returns a channel of inbound chat messages.
	Responses() <-chan models.InboundMessage
}

// canonicalizePhone strips everything but digits and requires at least 6 of them.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("Recipient canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// emitInbound pushes msg to ch, dropping it if the buffer stays full.
func emitInbound(ch chan<- models.InboundMessage, msg models.InboundMessage, channel string) bool {
	select {
	case ch <- msg:
		slog.Debug("Inbound message forwarded", "channel", channel, "from", msg.From, "id", msg.ID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("Inbound channel blocked, dropping message", "channel", channel, "from", msg.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

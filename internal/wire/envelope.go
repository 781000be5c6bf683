package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// Envelope is what actually crosses the broker: an addressed, opaque body
// plus the bookkeeping fields the session layer needs before it ever looks
// inside the body. Thread is conversation-scoped; TraceID is per-exchange.
type Envelope struct {
	Sender    string
	Recipient string
	Thread    string
	Body      []byte
	TraceID   string

	TransportError bool
	ErrorType      string
}

// NewTraceID returns a fresh correlation token for an outbound request that
// did not inherit one from an inbound envelope.
func NewTraceID() string {
	return uuid.NewString()
}

// NewThread returns a fresh conversation identifier.
func NewThread() string {
	return uuid.NewString()
}

// Validate reports the first structural problem with e, following spec's
// "reject envelopes lacking both a thread and a transport-error flag" rule.
func (e Envelope) Validate() error {
	if e.Thread == "" && !e.TransportError {
		return fmt.Errorf("wire: envelope missing thread id and not a transport-error: %w", ErrMalformedEnvelope)
	}
	if len(e.Thread) > 64 {
		return fmt.Errorf("wire: thread id exceeds 64 bytes: %w", ErrMalformedEnvelope)
	}
	return nil
}

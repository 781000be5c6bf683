// Package session implements the application session / stack: the
// thread-indexed state machine that sits atop the transport client and
// turns inbound envelopes into protocol messages dispatched to client or
// server handling.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/tenzoki/srfgo/internal/wire"
)

// Role distinguishes the two session kinds that share this state machine
// but diverge on inbound STATUS handling.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// currentTraceID is process-wide state per the runtime's design notes: the
// trace id most recently observed on any inbound envelope, in any session.
var currentTraceID atomic.Value

func init() { currentTraceID.Store("") }

// CurrentTraceID returns the most recently observed trace id, process-wide.
func CurrentTraceID() string {
	return currentTraceID.Load().(string)
}

func setCurrentTraceID(id string) {
	if id != "" {
		currentTraceID.Store(id)
	}
}

// Session is the per-conversation state machine, keyed by thread id.
type Session struct {
	mu sync.Mutex

	Thread  string
	Role    Role
	Service string

	Remote         string
	OriginalRemote string
	Connected      bool
	TransportError bool

	seq     int64
	pending map[int64]wire.Message
	inbox   []wire.Message
}

// New constructs a session for thread, pinned to a role and (for clients)
// an initial target address.
func New(thread string, role Role, initialRemote string) *Session {
	return &Session{
		Thread:         thread,
		Role:           role,
		Remote:         initialRemote,
		OriginalRemote: initialRemote,
		pending:        map[int64]wire.Message{},
	}
}

// Resume reconstructs a client session whose thread was already CONNECTed
// and pinned to remote by an earlier call — typically looked up from a
// conversation cache rather than kept alive in process memory between
// calls. The rebuilt session starts Connected, skipping CONNECT entirely.
func Resume(thread, remote string) *Session {
	s := New(thread, RoleClient, remote)
	s.Connected = true
	return s
}

// NextTrace allocates the next monotonically increasing thread-trace
// number within this session.
func (s *Session) NextTrace() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// SetRemote updates the session's current remote address, per the stack's
// "update the session's current remote to the envelope's sender" step.
func (s *Session) SetRemote(addr string) {
	s.mu.Lock()
	s.Remote = addr
	s.mu.Unlock()
}

// NoteRedirect clears the current remote and marks the session
// disconnected, so the next send re-resolves via OriginalRemote (the
// router). OriginalRemote is left untouched until the next RESULT actually
// arrives — see AdoptRemoteAfterReply.
func (s *Session) NoteRedirect() {
	s.mu.Lock()
	s.Remote = ""
	s.Connected = false
	s.mu.Unlock()
}

// AdoptRemoteAfterReply records addr as both the current and the original
// remote. The client dispatch table calls it for every RESULT message (a
// STATUS reply does not advance it) — the decided semantics for when
// orig_remote_id advances after a redirect.
func (s *Session) AdoptRemoteAfterReply(addr string) {
	s.mu.Lock()
	s.Remote = addr
	s.OriginalRemote = addr
	s.mu.Unlock()
}

// RememberRequest records the REQUEST message sent for trace, so it can be
// resent verbatim on REDIRECTED/TIMEOUT.
func (s *Session) RememberRequest(trace int64, msg wire.Message) {
	s.mu.Lock()
	s.pending[trace] = msg
	s.mu.Unlock()
}

// PendingRequest returns the remembered REQUEST for trace, if any.
func (s *Session) PendingRequest(trace int64) (wire.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.pending[trace]
	return m, ok
}

// ForgetRequest drops the remembered REQUEST for trace (the exchange is
// over: COMPLETE or EXPFAILED arrived).
func (s *Session) ForgetRequest(trace int64) {
	s.mu.Lock()
	delete(s.pending, trace)
	s.mu.Unlock()
}

// Enqueue appends msg to the session's inbound queue, preserving broker
// delivery order.
func (s *Session) Enqueue(msg wire.Message) {
	s.mu.Lock()
	s.inbox = append(s.inbox, msg)
	s.mu.Unlock()
}

// TakeMatching removes and returns the first queued message for which
// match returns true, preserving order of the rest. Messages for other
// traces are left in the queue for their own callers.
func (s *Session) TakeMatching(match func(wire.Message) bool) (wire.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.inbox {
		if match(m) {
			s.inbox = append(s.inbox[:i], s.inbox[i+1:]...)
			return m, true
		}
	}
	return wire.Message{}, false
}

package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tenzoki/srfgo/internal/addr"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/wire"
)

// Dispatcher is the subset of the application registry the stack needs to
// run an inbound REQUEST. It's an interface (not a concrete dependency on
// the dispatch package) so session and dispatch never import each other;
// dispatch.Registry satisfies this.
type Dispatcher interface {
	RunMethod(service, method string, trace int64, params []interface{}, send func(wire.Message) error)
}

// Sender is the subset of *transport.Client the stack needs: send an
// envelope, know the process's own primary address, and pop the next
// inbound one. Declared here (not imported from transport) so session and
// transport never need to import each other; *transport.Client satisfies
// this structurally.
type Sender interface {
	Send(ctx context.Context, env wire.Envelope) error
	PrimaryAddress() addr.Address
	Recv(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error)
}

// Stack is a thread-indexed registry of sessions sitting on one transport
// client. A stack constructed with a non-empty service name auto-creates
// server sessions for unknown inbound threads; otherwise unknown threads
// are dropped.
type Stack struct {
	mu       sync.Mutex
	sessions map[string]*Session

	client     Sender
	service    string
	dispatcher Dispatcher
	log        *logx.Logger
}

// NewClientStack builds a stack for a pure RPC client: it never
// auto-creates server sessions.
func NewClientStack(client Sender, log *logx.Logger) *Stack {
	return newStack(client, "", nil, log)
}

// NewServerStack builds a stack for a service worker: unknown inbound
// threads become new server sessions dispatched through dispatcher.
func NewServerStack(client Sender, service string, dispatcher Dispatcher, log *logx.Logger) *Stack {
	return newStack(client, service, dispatcher, log)
}

func newStack(client Sender, service string, dispatcher Dispatcher, log *logx.Logger) *Stack {
	if log == nil {
		log = logx.Discard()
	}
	return &Stack{
		sessions:   map[string]*Session{},
		client:     client,
		service:    service,
		dispatcher: dispatcher,
		log:        log,
	}
}

// NewClientSession registers a brand-new client session targeting
// initialRemote (typically a router address) and returns it.
func (st *Stack) NewClientSession(initialRemote string) *Session {
	sess := New(NewThreadID(), RoleClient, initialRemote)
	st.mu.Lock()
	st.sessions[sess.Thread] = sess
	st.mu.Unlock()
	return sess
}

// Adopt registers an externally constructed session (typically one rebuilt
// via Resume) into the stack's table under its own thread id, so sends and
// inbound dispatch for that thread work exactly as for a session created
// via NewClientSession.
func (st *Stack) Adopt(sess *Session) {
	st.mu.Lock()
	st.sessions[sess.Thread] = sess
	st.mu.Unlock()
}

// Session returns the session for thread, if one is registered.
func (st *Stack) Session(thread string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[thread]
	return s, ok
}

// Remove drops a session from the registry (explicit cleanup, or after its
// last DISCONNECT/COMPLETE).
func (st *Stack) Remove(thread string) {
	st.mu.Lock()
	delete(st.sessions, thread)
	st.mu.Unlock()
}

func (st *Stack) getOrCreate(thread, sender string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[thread]; ok {
		return s, true
	}
	if st.service == "" {
		return nil, false
	}
	s := New(thread, RoleServer, sender)
	s.Service = st.service
	st.sessions[thread] = s
	return s, true
}

// HandleInbound implements the stack's inbound envelope algorithm: set the
// process trace id, reject structurally invalid envelopes, resolve or
// create the session, handle transport-error/redirect rewriting, then
// dispatch every protocol message in the batch in order.
func (st *Stack) HandleInbound(ctx context.Context, env wire.Envelope) error {
	setCurrentTraceID(env.TraceID)

	if err := env.Validate(); err != nil {
		return err
	}

	sess, ok := st.getOrCreate(env.Thread, env.Sender)
	if !ok {
		st.log.Debug("session: dropped envelope for unknown thread %s", env.Thread)
		return nil
	}

	if env.TransportError {
		st.handleTransportError(ctx, sess, env)
		return nil
	}

	sess.SetRemote(env.Sender)

	msgs, err := wire.Parse(env.Body)
	if err != nil {
		st.log.Warning("session: malformed envelope on thread %s: %v", env.Thread, err)
	}
	for _, m := range msgs {
		if sess.Role == RoleClient {
			st.dispatchClient(ctx, sess, m)
		} else {
			st.dispatchServer(ctx, sess, m)
		}
	}
	return nil
}

func (st *Stack) handleTransportError(ctx context.Context, sess *Session, env wire.Envelope) {
	if env.Sender != sess.OriginalRemote {
		sess.NoteRedirect()
		for trace := range st.pendingTraces(sess) {
			st.dispatchClient(ctx, sess, wire.NewStatus(trace, wire.StatusRedirected, "", "redirected: "+env.ErrorType))
		}
		return
	}
	sess.mu.Lock()
	sess.TransportError = true
	sess.mu.Unlock()
}

func (st *Stack) pendingTraces(sess *Session) map[int64]wire.Message {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	cp := make(map[int64]wire.Message, len(sess.pending))
	for k, v := range sess.pending {
		cp[k] = v
	}
	return cp
}

// dispatchClient implements the client dispatch table (§4.4).
func (st *Stack) dispatchClient(ctx context.Context, sess *Session, m wire.Message) {
	switch m.Type {
	case wire.Status:
		switch m.StatusCode {
		case wire.StatusOK:
			sess.Connected = true
		case wire.StatusComplete:
			sess.ForgetRequest(m.ThreadTrace)
			sess.Enqueue(m)
		case wire.StatusContinue:
			sess.Enqueue(m)
		case wire.StatusRedirected:
			sess.NoteRedirect()
			st.resend(ctx, sess, m.ThreadTrace)
		case wire.StatusExpFailed:
			sess.NoteRedirect()
			sess.ForgetRequest(m.ThreadTrace)
			sess.Enqueue(m)
		case wire.StatusTimeout:
			sess.NoteRedirect()
			st.resend(ctx, sess, m.ThreadTrace)
		default:
			sess.ForgetRequest(m.ThreadTrace)
			m.Content = nil
			sess.Enqueue(m)
		}
	case wire.Result:
		sess.AdoptRemoteAfterReply(sess.Remote)
		sess.Enqueue(m)
	default:
		st.log.Debug("session: client session %s saw unexpected %s", sess.Thread, m.Type)
	}
}

// dispatchServer implements the server dispatch table (§4.4).
func (st *Stack) dispatchServer(ctx context.Context, sess *Session, m wire.Message) {
	switch m.Type {
	case wire.Connect:
		sess.Connected = true
		st.sendMessage(ctx, sess, wire.NewStatus(m.ThreadTrace, wire.StatusOK, "", "connected"))
	case wire.Disconnect:
		sess.Connected = false
	case wire.Request:
		if st.dispatcher == nil {
			st.sendMessage(ctx, sess, wire.NewStatus(m.ThreadTrace, wire.StatusNotFound, "osrfMethodException", "no dispatcher registered"))
			return
		}
		st.dispatcher.RunMethod(sess.Service, m.Method, m.ThreadTrace, m.Params, func(out wire.Message) error {
			return st.sendMessage(ctx, sess, out)
		})
	case wire.Status:
		// no-op
	default:
		st.log.Warning("session: server session %s saw unexpected %s", sess.Thread, m.Type)
		sess.Connected = false
	}
}

func (st *Stack) resend(ctx context.Context, sess *Session, trace int64) {
	req, ok := sess.PendingRequest(trace)
	if !ok {
		return
	}
	dest := sess.Remote
	if dest == "" {
		dest = sess.OriginalRemote
	}
	if err := st.send(ctx, sess, dest, req); err != nil {
		st.log.Error("session: resend trace %d on thread %s: %v", trace, sess.Thread, err)
	}
}

// SendRequest allocates a thread-trace, serializes a REQUEST, and sends it
// to the session's current remote (or original remote, pre-connect).
func (st *Stack) SendRequest(ctx context.Context, sess *Session, method string, params []interface{}) (int64, error) {
	trace := sess.NextTrace()
	msg := wire.NewRequest(trace, method, params)
	sess.RememberRequest(trace, msg)

	dest := sess.Remote
	if dest == "" {
		dest = sess.OriginalRemote
	}
	if err := st.send(ctx, sess, dest, msg); err != nil {
		return trace, err
	}
	return trace, nil
}

// Connect sends a CONNECT message on sess, targeting its original remote.
func (st *Stack) Connect(ctx context.Context, sess *Session) error {
	trace := sess.NextTrace()
	return st.send(ctx, sess, sess.OriginalRemote, wire.Message{Type: wire.Connect, ThreadTrace: trace, ProtocolLevel: 1})
}

// Disconnect sends a DISCONNECT message on sess; no reply is expected.
func (st *Stack) Disconnect(ctx context.Context, sess *Session) error {
	trace := sess.NextTrace()
	dest := sess.Remote
	if dest == "" {
		dest = sess.OriginalRemote
	}
	return st.send(ctx, sess, dest, wire.Message{Type: wire.Disconnect, ThreadTrace: trace})
}

func (st *Stack) sendMessage(ctx context.Context, sess *Session, m wire.Message) error {
	dest := sess.Remote
	if dest == "" {
		dest = sess.OriginalRemote
	}
	return st.send(ctx, sess, dest, m)
}

func (st *Stack) send(ctx context.Context, sess *Session, recipient string, m wire.Message) error {
	body, err := wire.Serialize([]wire.Message{m})
	if err != nil {
		return fmt.Errorf("session: serializing %s on thread %s: %w", m.Type, sess.Thread, err)
	}
	env := wire.Envelope{
		Sender:    st.client.PrimaryAddress().String(),
		Recipient: recipient,
		Thread:    sess.Thread,
		Body:      body,
		TraceID:   CurrentTraceID(),
	}
	if env.TraceID == "" {
		env.TraceID = wire.NewTraceID()
	}
	return st.client.Send(ctx, env)
}

// RecvResponse drains sess's queue, returning the first RESULT whose trace
// matches, or a terminal STATUS (COMPLETE/EXPFAILED/other-exception). It
// blocks on the transport (pumping HandleInbound) until a match arrives or
// timeoutSeconds elapses; a STATUS(CONTINUE) for the same trace resets the
// deadline, matching the runtime's heartbeat semantics.
func (st *Stack) RecvResponse(ctx context.Context, sess *Session, trace int64, timeoutSeconds int) (wire.Message, bool, error) {
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	for {
		if m, ok := sess.TakeMatching(matchTrace(trace)); ok {
			if m.Type == wire.Status && m.StatusCode == wire.StatusContinue {
				deadline = time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
				continue
			}
			return m, true, nil
		}

		remaining := timeoutSeconds
		if timeoutSeconds > 0 {
			if !time.Now().Before(deadline) {
				return wire.NewStatus(trace, wire.StatusTimeout, "", "client timeout"), true, nil
			}
			remaining = secondsUntil(deadline)
		}

		env, err := st.client.Recv(ctx, remaining)
		if err != nil {
			return wire.Message{}, false, err
		}
		if env == nil {
			if timeoutSeconds == 0 {
				return wire.Message{}, false, nil
			}
			continue
		}
		if err := st.HandleInbound(ctx, *env); err != nil {
			st.log.Warning("session: handling inbound on thread %s: %v", env.Thread, err)
		}
	}
}

// WaitConnected pumps inbound envelopes until sess.Connected is set (the
// server's STATUS(OK) reply to a CONNECT) or timeoutSeconds elapses.
func (st *Stack) WaitConnected(ctx context.Context, sess *Session, timeoutSeconds int) error {
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	for {
		if sess.Connected {
			return nil
		}
		remaining := timeoutSeconds
		if timeoutSeconds > 0 {
			if !time.Now().Before(deadline) {
				return fmt.Errorf("session: connect timed out on thread %s", sess.Thread)
			}
			remaining = secondsUntil(deadline)
		}
		env, err := st.client.Recv(ctx, remaining)
		if err != nil {
			return err
		}
		if env == nil {
			if timeoutSeconds == 0 {
				return fmt.Errorf("session: connect timed out on thread %s", sess.Thread)
			}
			continue
		}
		if err := st.HandleInbound(ctx, *env); err != nil {
			st.log.Warning("session: handling inbound on thread %s: %v", env.Thread, err)
		}
	}
}

// secondsUntil rounds the time remaining to deadline up to a whole number
// of seconds, so a sub-second remainder still yields a Recv call instead of
// an instant timeout (the underlying transport's recv takes whole seconds).
func secondsUntil(deadline time.Time) int {
	remaining := math.Ceil(time.Until(deadline).Seconds())
	if remaining < 1 {
		return 1
	}
	return int(remaining)
}

func matchTrace(trace int64) func(wire.Message) bool {
	return func(m wire.Message) bool {
		return m.ThreadTrace == trace
	}
}

// NewThreadID is the constructor the stack uses for fresh client session
// thread ids; a thin alias over wire.NewThread kept local so callers don't
// need to import wire just to start a session.
func NewThreadID() string { return wire.NewThread() }

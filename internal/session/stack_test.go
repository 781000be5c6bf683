package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/srfgo/internal/addr"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/wire"
)

type fakeSender struct {
	primary addr.Address
	sent    []wire.Envelope

	recvTimeouts []int
	recv         func(timeoutSeconds int) (*wire.Envelope, error)
}

func (f *fakeSender) Send(_ context.Context, env wire.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) PrimaryAddress() addr.Address { return f.primary }

func (f *fakeSender) Recv(_ context.Context, timeoutSeconds int) (*wire.Envelope, error) {
	f.recvTimeouts = append(f.recvTimeouts, timeoutSeconds)
	if f.recv != nil {
		return f.recv(timeoutSeconds)
	}
	return nil, nil
}

func (f *fakeSender) lastMessage(t *testing.T) wire.Message {
	t.Helper()
	require.NotEmpty(t, f.sent)
	msgs, err := wire.Parse(f.sent[len(f.sent)-1].Body)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

type fakeDispatcher struct {
	calls []string
	run   func(service, method string, trace int64, params []interface{}, send func(wire.Message) error)
}

func (f *fakeDispatcher) RunMethod(service, method string, trace int64, params []interface{}, send func(wire.Message) error) {
	f.calls = append(f.calls, method)
	f.run(service, method, trace, params, send)
}

func newTestStack(service string, dispatcher Dispatcher) (*Stack, *fakeSender) {
	fs := &fakeSender{primary: addr.NewClient("opensrf", "private.localhost")}
	st := NewServerStack(fs, service, dispatcher, logx.Discard())
	return st, fs
}

func TestServerDispatchConnectRepliesOK(t *testing.T) {
	st, fs := newTestStack("opensrf.math", nil)
	sess := New("thread-1", RoleServer, "opensrf:client:opensrf:d:h:1:aaaa0000")
	sess.Service = "opensrf.math"

	st.dispatchServer(context.Background(), sess, wire.Message{Type: wire.Connect, ThreadTrace: 1})
	reply := fs.lastMessage(t)
	assert.Equal(t, wire.StatusOK, reply.StatusCode)
	assert.True(t, sess.Connected)
}

func TestServerDispatchRequestInvokesDispatcher(t *testing.T) {
	disp := &fakeDispatcher{run: func(service, method string, trace int64, params []interface{}, send func(wire.Message) error) {
		send(wire.NewResult(trace, params[0]))
	}}
	st, fs := newTestStack("opensrf.math", disp)
	sess := New("thread-2", RoleServer, "addr")
	sess.Service = "opensrf.math"

	st.dispatchServer(context.Background(), sess, wire.NewRequest(1, "opensrf.math.add", []interface{}{float64(3)}))
	require.Len(t, disp.calls, 1)
	reply := fs.lastMessage(t)
	assert.Equal(t, float64(3), reply.Content)
}

func TestClientDispatchStatusOKMarksConnected(t *testing.T) {
	st, _ := newTestStack("", nil)
	sess := New("thread-3", RoleClient, "router-addr")

	st.dispatchClient(context.Background(), sess, wire.NewStatus(1, wire.StatusOK, "", ""))
	assert.True(t, sess.Connected)
}

func TestClientDispatchResultEnqueues(t *testing.T) {
	st, _ := newTestStack("", nil)
	sess := New("thread-4", RoleClient, "router-addr")

	st.dispatchClient(context.Background(), sess, wire.NewResult(1, "hi"))
	m, ok := sess.TakeMatching(matchTrace(1))
	require.True(t, ok)
	assert.Equal(t, "hi", m.Content)
}

func TestClientDispatchRedirectedTriggersResend(t *testing.T) {
	st, fs := newTestStack("", nil)
	sess := New("thread-5", RoleClient, "router-addr")
	sess.RememberRequest(1, wire.NewRequest(1, "opensrf.math.add", nil))

	st.dispatchClient(context.Background(), sess, wire.NewStatus(1, wire.StatusRedirected, "", ""))
	assert.False(t, sess.Connected)
	assert.Equal(t, "", sess.Remote)
	require.Len(t, fs.sent, 1)
	assert.Equal(t, "router-addr", fs.sent[0].Recipient) // Remote cleared, falls back to OriginalRemote
}

func TestTransportErrorFromSamePeerLatches(t *testing.T) {
	st, _ := newTestStack("", nil)
	sess := New("thread-6", RoleClient, "peer-addr")

	env := wire.Envelope{Thread: "thread-6", Sender: "peer-addr", TransportError: true, ErrorType: "dead"}
	st.handleTransportError(context.Background(), sess, env)
	assert.True(t, sess.TransportError)
}

func TestTransportErrorFromDifferentPeerRedirects(t *testing.T) {
	st, fs := newTestStack("", nil)
	sess := New("thread-7", RoleClient, "peer-addr")
	sess.RememberRequest(1, wire.NewRequest(1, "m", nil))

	env := wire.Envelope{Thread: "thread-7", Sender: "stale-addr", TransportError: true}
	st.handleTransportError(context.Background(), sess, env)
	assert.False(t, sess.Connected)
	assert.Len(t, fs.sent, 1)
}

func TestHandleInboundCreatesServerSessionForUnknownThread(t *testing.T) {
	st, fs := newTestStack("opensrf.math", &fakeDispatcher{run: func(service, method string, trace int64, params []interface{}, send func(wire.Message) error) {}})
	body, err := wire.Serialize([]wire.Message{{Type: wire.Connect, ThreadTrace: 1, ProtocolLevel: 1}})
	require.NoError(t, err)

	env := wire.Envelope{
		Sender:    "opensrf:client:opensrf:d:h:1:aaaa0000",
		Recipient: "opensrf:service:opensrf:d:opensrf.math",
		Thread:    "new-thread",
		Body:      body,
		TraceID:   "trace-x",
	}
	require.NoError(t, st.HandleInbound(context.Background(), env))

	sess, ok := st.Session("new-thread")
	require.True(t, ok)
	assert.True(t, sess.Connected)
	assert.Equal(t, "trace-x", CurrentTraceID())
	require.Len(t, fs.sent, 1)
}

func TestHandleInboundDropsUnknownThreadOnPureClientStack(t *testing.T) {
	st, fs := newTestStack("", nil)
	env := wire.Envelope{Sender: "s", Recipient: "r", Thread: "unknown", Body: []byte(`[]`)}
	require.NoError(t, st.HandleInbound(context.Background(), env))
	assert.Empty(t, fs.sent)
}

func TestClientDispatchOtherStatusForgetsRequest(t *testing.T) {
	st, _ := newTestStack("", nil)
	sess := New("thread-8", RoleClient, "router-addr")
	sess.RememberRequest(1, wire.NewRequest(1, "opensrf.math.add", nil))

	st.dispatchClient(context.Background(), sess, wire.NewStatus(1, wire.StatusExpFailed+1, "osrfMethodException", "boom"))
	_, ok := sess.PendingRequest(1)
	assert.False(t, ok)
}

// TestRecvResponseRoundsTimeoutUp guards against the first Recv call on a
// 1s-timeout loop truncating ~0.999s of elapsed deadline down to 0 and
// timing out before ever polling the transport (scenario §8.6: a
// STATUS(CONTINUE) at 0.5s must still be observed).
func TestRecvResponseRoundsTimeoutUp(t *testing.T) {
	sess := New("thread-9", RoleClient, "router-addr")
	sess.RememberRequest(1, wire.NewRequest(1, "opensrf.math.add", nil))

	body, err := wire.Serialize([]wire.Message{wire.NewStatus(1, wire.StatusComplete, "", "")})
	require.NoError(t, err)
	env := &wire.Envelope{Sender: "router-addr", Recipient: "c", Thread: "thread-9", Body: body}

	fs := &fakeSender{primary: addr.NewClient("opensrf", "private.localhost")}
	fs.recv = func(timeoutSeconds int) (*wire.Envelope, error) { return env, nil }
	st := NewClientStack(fs, logx.Discard())
	st.Adopt(sess)

	m, ok, err := st.RecvResponse(context.Background(), sess, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wire.StatusComplete, m.StatusCode)
	require.NotEmpty(t, fs.recvTimeouts)
	assert.GreaterOrEqual(t, fs.recvTimeouts[0], 1)
}

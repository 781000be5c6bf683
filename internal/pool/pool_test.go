package pool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/srfgo/internal/addr"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/session"
	"github.com/tenzoki/srfgo/internal/wire"
)

// fakeRecv is an in-memory ServiceReceiver: RecvForService drains an inbox
// channel, Send records outbound envelopes.
type fakeRecv struct {
	inbox chan wire.Envelope
	mu    sync.Mutex
	sent  []wire.Envelope
}

func newFakeRecv() *fakeRecv {
	return &fakeRecv{inbox: make(chan wire.Envelope, 16)}
}

func (f *fakeRecv) RecvForService(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error) {
	select {
	case env := <-f.inbox:
		return &env, nil
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeRecv) Send(ctx context.Context, env wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeRecv) lastSent() (wire.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return wire.Envelope{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// fakeSender is a session.Sender standing in for a worker's own transport:
// Send records replies, and Recv serves whatever's pushed onto inbox (a
// direct-addressed follow-up), or times out.
type fakeSender struct {
	primary addr.Address
	inbox   chan wire.Envelope
}

func newFakeSender(primary addr.Address) *fakeSender {
	return &fakeSender{primary: primary, inbox: make(chan wire.Envelope, 4)}
}

func (f *fakeSender) Send(ctx context.Context, env wire.Envelope) error { return nil }
func (f *fakeSender) PrimaryAddress() addr.Address                     { return f.primary }
func (f *fakeSender) Recv(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error) {
	select {
	case env := <-f.inbox:
		return &env, nil
	case <-time.After(time.Duration(timeoutSeconds) * time.Second):
		return nil, nil
	}
}

type countingDispatcher struct {
	mu    sync.Mutex
	calls int
	hold  chan struct{} // if non-nil, RunMethod blocks until closed
}

func (d *countingDispatcher) RunMethod(service, method string, trace int64, params []interface{}, send func(wire.Message) error) {
	d.mu.Lock()
	d.calls++
	hold := d.hold
	d.mu.Unlock()
	if hold != nil {
		<-hold
	}
	_ = send(wire.NewResult(trace, "ok"))
	_ = send(wire.NewStatus(trace, wire.StatusComplete, "", ""))
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// testFactory builds a ClientFactory that records every sender it creates
// (one per spawned worker, in spawn order) into senders, so a test can push
// a direct-addressed follow-up onto a specific worker's own inbox.
func testFactory(dispatcher *countingDispatcher, senders *[]*fakeSender) ClientFactory {
	var mu sync.Mutex
	return func(ctx context.Context) (session.Sender, *session.Stack, error) {
		sender := newFakeSender(addr.NewClient("math", "test.domain"))
		mu.Lock()
		*senders = append(*senders, sender)
		mu.Unlock()
		stack := session.NewServerStack(sender, "opensrf.math", dispatcher, logx.Discard())
		return sender, stack, nil
	}
}

func requestEnvelope(t *testing.T, thread, method string) wire.Envelope {
	t.Helper()
	body, err := wire.Serialize([]wire.Message{wire.NewRequest(1, method, nil)})
	require.NoError(t, err)
	return wire.Envelope{
		Sender:    addr.NewClient("caller", "test.domain").String(),
		Recipient: addr.NewService("math", "test.domain", "opensrf.math").String(),
		Thread:    thread,
		Body:      body,
		TraceID:   wire.NewTraceID(),
	}
}

func TestListenerDispatchesToWorker(t *testing.T) {
	recv := newFakeRecv()
	dispatcher := &countingDispatcher{}
	var senders []*fakeSender
	l := New(Config{MinChildren: 1, MaxChildren: 2, MaxBacklogQueue: 4}, recv, testFactory(dispatcher, &senders), logx.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go l.Run(ctx)
	recv.inbox <- requestEnvelope(t, "t1", "opensrf.math.add")

	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, 250*time.Millisecond, 5*time.Millisecond)
}

func TestListenerRejectsBeyondBacklog(t *testing.T) {
	recv := newFakeRecv()
	dispatcher := &countingDispatcher{hold: make(chan struct{})}
	var senders []*fakeSender
	// max_children=1 and zero backlog room: once the sole worker is busy,
	// the very next request has nowhere to go but SERVICE_UNAVAILABLE.
	l := New(Config{MinChildren: 1, MaxChildren: 1, MaxBacklogQueue: 0}, recv, testFactory(dispatcher, &senders), logx.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go l.Run(ctx)
	recv.inbox <- requestEnvelope(t, "t1", "opensrf.math.add")
	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, 250*time.Millisecond, 5*time.Millisecond)

	recv.inbox <- requestEnvelope(t, "t2", "opensrf.math.add")
	require.Eventually(t, func() bool {
		_, ok := recv.lastSent()
		return ok
	}, 250*time.Millisecond, 5*time.Millisecond)

	env, ok := recv.lastSent()
	require.True(t, ok)
	msgs, err := wire.Parse(env.Body)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.StatusServiceUnavailable, msgs[0].StatusCode)

	close(dispatcher.hold)
}

func TestWorkerReceivesDirectFollowUp(t *testing.T) {
	recv := newFakeRecv()
	dispatcher := &countingDispatcher{}
	var senders []*fakeSender
	l := New(Config{MinChildren: 1, MaxChildren: 1, MaxBacklogQueue: 4}, recv, testFactory(dispatcher, &senders), logx.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go l.Run(ctx)

	require.Eventually(t, func() bool { return len(senders) == 1 }, 250*time.Millisecond, 5*time.Millisecond)
	worker := senders[0]

	// A follow-up on a pinned thread arrives straight on the worker's own
	// address, never touching recv (the service address the listener polls).
	worker.inbox <- requestEnvelope(t, "t1", "opensrf.math.add")

	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, 250*time.Millisecond, 5*time.Millisecond)
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "srfworker.pid")
	pf := PIDFile{Path: path}
	require.NoError(t, pf.Write())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, pf.Remove())
	_, err = pf.Read()
	assert.Error(t, err)
}

func TestPIDFileRemoveIsIdempotent(t *testing.T) {
	pf := PIDFile{Path: filepath.Join(t.TempDir(), "gone.pid")}
	assert.NoError(t, pf.Remove())
}

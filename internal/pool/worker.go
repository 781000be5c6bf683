package pool

import (
	"context"
	"fmt"

	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/session"
	"github.com/tenzoki/srfgo/internal/wire"
)

// ClientFactory builds a fresh, independently-addressed session.Sender plus
// the server stack it should dispatch through. Each worker gets its own,
// the Go-idiomatic stand-in for "inherits the parent's transport handle but
// discards local broker state": rather than discarding shared state, each
// worker simply owns its own.
type ClientFactory func(ctx context.Context) (session.Sender, *session.Stack, error)

// worker is one prefork child: a goroutine that serves one conversation at
// a time, handed new work over ipc, and able to receive direct follow-up
// traffic on its own address once a conversation pins to it.
type worker struct {
	id      int
	client  session.Sender
	stack   *session.Stack
	ipc     chan wire.Envelope
	done    chan struct{}
	log     *logx.Logger
	maxReqs int
	served  int
}

func newWorker(id int, client session.Sender, stack *session.Stack, maxReqs int, log *logx.Logger) *worker {
	return &worker{
		id:      id,
		client:  client,
		stack:   stack,
		ipc:     make(chan wire.Envelope, 1),
		done:    make(chan struct{}),
		log:     log,
		maxReqs: maxReqs,
	}
}

// run serves hand-offs until ctx is cancelled, the worker hits maxReqs, or
// it panics handling a request (recovered and treated as a dead worker, so
// the listener can reap and respawn it). idle is signaled with this
// worker's id every time it's available for new work.
func (w *worker) run(ctx context.Context, idle chan<- int, reaped chan<- int) {
	defer close(w.done)
	go w.pollOwnAddress(ctx)
	idle <- w.id

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-w.ipc:
			if w.serveOne(ctx, env) {
				reaped <- w.id
				return
			}
			w.served++
			if w.maxReqs > 0 && w.served >= w.maxReqs {
				reaped <- w.id
				return
			}
			select {
			case idle <- w.id:
			case <-ctx.Done():
				return
			}
		}
	}
}

// serveOne runs the stack against one handed-off envelope, recovering from
// a handler panic (the closest Go analogue to a dead prefork child) and
// reporting true if the worker should be reaped rather than return to idle.
func (w *worker) serveOne(ctx context.Context, env wire.Envelope) (dead bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("pool: worker %d panicked serving thread %s: %v", w.id, env.Thread, r)
			dead = true
		}
	}()
	if err := w.stack.HandleInbound(ctx, env); err != nil {
		w.log.Warning("pool: worker %d: %v", w.id, err)
	}
	return false
}

// recvFollowUp pops a direct-addressed follow-up envelope for a pinned
// conversation, with a short poll timeout so it stays responsive to ctx.
func (w *worker) recvFollowUp(ctx context.Context) (*wire.Envelope, error) {
	env, err := w.client.Recv(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("pool: worker %d recv: %w", w.id, err)
	}
	return env, nil
}

// pollOwnAddress feeds direct-addressed follow-up traffic into the same ipc
// channel the listener hands fresh work through: once a caller's session
// pins a thread to this worker's own address (the pinning step in
// internal/cache and public/client.Client.Open), later sends on that thread
// bypass the listener and arrive here instead. It runs for this worker's
// whole lifetime, stopping when run returns and closes done.
func (w *worker) pollOwnAddress(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		env, err := w.recvFollowUp(ctx)
		if err != nil {
			w.log.Error("pool: worker %d polling own address: %v", w.id, err)
			return
		}
		if env == nil {
			continue
		}
		select {
		case w.ipc <- *env:
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Package pool implements the prefork worker-pool listener: a bounded set
// of long-lived workers that share one service address, reaped and
// respawned as they die or retire, with a bounded backlog queue for bursts
// beyond max_children. Go has no fork(2), so "child process" becomes
// "worker goroutine" and the parent/child IPC pipe becomes a buffered Go
// channel — the rest of the prefork contract (min/max children, backlog
// cap, max_requests retirement, SERVICE_UNAVAILABLE beyond backlog) is
// preserved exactly.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/wire"
)

// ServiceReceiver is the subset of *transport.Client the listener needs:
// pop inbound REQUESTs from the service address and reply directly (for the
// reject-path, before any worker or session exists). Declared locally so
// pool never imports transport.
type ServiceReceiver interface {
	RecvForService(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error)
	Send(ctx context.Context, env wire.Envelope) error
}

// Config is the pool's sizing knobs, one per application stanza in the
// bootstrap config tree (opensrf.xml's min_children/max_children/
// max_requests/max_backlog_queue).
type Config struct {
	MinChildren     int
	MaxChildren     int
	MaxRequests     int
	MaxBacklogQueue int
}

// Listener is one process's worker pool for a single registered service.
type Listener struct {
	cfg     Config
	recv    ServiceReceiver
	factory ClientFactory
	log     *logx.Logger

	mu      sync.Mutex
	workers map[int]*worker
	nextID  int

	idle    chan int
	reaped  chan int
	backlog chan wire.Envelope

	wg sync.WaitGroup
}

// New builds a pool listener. recv is how the listener accepts new work;
// factory builds each worker's own independently-addressed transport and
// server stack.
func New(cfg Config, recv ServiceReceiver, factory ClientFactory, log *logx.Logger) *Listener {
	if cfg.MinChildren <= 0 {
		cfg.MinChildren = 1
	}
	if cfg.MaxChildren < cfg.MinChildren {
		cfg.MaxChildren = cfg.MinChildren
	}
	if log == nil {
		log = logx.Discard()
	}
	return &Listener{
		cfg:     cfg,
		recv:    recv,
		factory: factory,
		log:     log,
		workers: map[int]*worker{},
		idle:    make(chan int, cfg.MaxChildren),
		reaped:  make(chan int, cfg.MaxChildren),
		backlog: make(chan wire.Envelope, cfg.MaxBacklogQueue),
	}
}

// Run accepts inbound REQUESTs from the service address and hands each to
// an idle worker, spawning new workers up to MaxChildren and queuing beyond
// that up to MaxBacklogQueue, until ctx is cancelled. It blocks until every
// worker has exited.
func (l *Listener) Run(ctx context.Context) error {
	for i := 0; i < l.cfg.MinChildren; i++ {
		l.spawn(ctx)
	}

	reapDone := make(chan struct{})
	go func() {
		defer close(reapDone)
		l.reapLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			<-reapDone
			return nil
		default:
		}

		env, err := l.recv.RecvForService(ctx, 1)
		if err != nil {
			l.log.Error("pool: recv_for_service: %v", err)
			continue
		}
		if env == nil {
			l.drainBacklog(ctx)
			continue
		}
		l.accept(ctx, *env)
	}
}

// accept hands env to an idle worker, spawns a new one if below max and
// none idle, queues it if at max with backlog room, or rejects it with
// SERVICE_UNAVAILABLE.
func (l *Listener) accept(ctx context.Context, env wire.Envelope) {
	select {
	case id := <-l.idle:
		l.handOff(id, env)
		return
	default:
	}

	l.mu.Lock()
	atMax := len(l.workers) >= l.cfg.MaxChildren
	l.mu.Unlock()

	if !atMax {
		id := l.spawn(ctx)
		l.handOff(id, env)
		return
	}

	select {
	case l.backlog <- env:
	default:
		l.reject(ctx, env)
	}
}

func (l *Listener) drainBacklog(ctx context.Context) {
	for {
		select {
		case env := <-l.backlog:
			l.accept(ctx, env)
		default:
			return
		}
	}
}

func (l *Listener) handOff(id int, env wire.Envelope) {
	l.mu.Lock()
	w, ok := l.workers[id]
	l.mu.Unlock()
	if !ok {
		l.log.Warning("pool: handoff to unknown worker %d, dropping", id)
		return
	}
	select {
	case w.ipc <- env:
	default:
		l.log.Error("pool: worker %d busy on handoff, dropping thread %s", id, env.Thread)
	}
}

func (l *Listener) reject(ctx context.Context, env wire.Envelope) {
	msg := wire.NewStatus(0, wire.StatusServiceUnavailable, "osrfServiceUnavailableException", "backlog full")
	body, err := wire.Serialize([]wire.Message{msg})
	if err != nil {
		l.log.Error("pool: serializing backlog rejection: %v", err)
		return
	}
	reply := wire.Envelope{
		Sender:    env.Recipient,
		Recipient: env.Sender,
		Thread:    env.Thread,
		Body:      body,
		TraceID:   env.TraceID,
	}
	if err := l.recv.Send(ctx, reply); err != nil {
		l.log.Error("pool: sending backlog rejection: %v", err)
	}
}

func (l *Listener) spawn(ctx context.Context) int {
	client, stack, err := l.factory(ctx)
	if err != nil {
		l.log.Error("pool: spawning worker: %v", err)
		return -1
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	w := newWorker(id, client, stack, l.cfg.MaxRequests, l.log)
	l.workers[id] = w
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		w.run(ctx, l.idle, l.reaped)
	}()
	return id
}

// reapLoop removes every worker that exits (panic or max_requests
// retirement) while the pool is still running, and spawns a replacement
// only when the remaining count has dropped below MinChildren.
func (l *Listener) reapLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-l.reaped:
			l.mu.Lock()
			delete(l.workers, id)
			count := len(l.workers)
			l.mu.Unlock()
			l.log.Info("pool: reaped worker %d", id)
			if count < l.cfg.MinChildren {
				l.spawn(ctx)
			}
		}
	}
}

// Shutdown gives running workers a brief grace period to finish their
// current conversation before Run's ctx cancellation forces them down —
// the Go analogue of SIGTERM-then-wait-then-reap.
func Shutdown(cancel context.CancelFunc, grace time.Duration) {
	time.Sleep(grace)
	cancel()
}

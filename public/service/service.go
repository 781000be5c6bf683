// Package service is the public service-runtime surface: register an
// application's methods, then Run the prefork worker pool that serves
// them until a shutdown signal arrives. It hides transport/session/
// dispatch/pool wiring behind the same run-to-completion shape the
// teacher's agent framework gives its agents.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tenzoki/srfgo/internal/dispatch"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/pool"
	"github.com/tenzoki/srfgo/internal/session"
	"github.com/tenzoki/srfgo/internal/transport"
)

// ShutdownGrace is how long Run waits after a signal for in-flight
// conversations to finish before forcing worker goroutines down.
const ShutdownGrace = 2 * time.Second

// Config is everything a service process needs to bootstrap: broker
// coordinates, the service name it listens as, and the pool's sizing.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Domain   string
	Service  string
	Pool     pool.Config
	PIDFile  string
}

// Runtime owns one service's registry and the pool serving it.
type Runtime struct {
	cfg      Config
	registry *dispatch.Registry
	log      *logx.Logger
}

// New builds a service runtime. register installs the application's
// methods into the returned registry before Run starts accepting traffic.
func New(cfg Config, log *logx.Logger, register func(*dispatch.Registry) error) (*Runtime, error) {
	if log == nil {
		log = logx.Discard()
	}
	r := dispatch.New()
	if err := register(r); err != nil {
		return nil, fmt.Errorf("service: registering %s: %w", cfg.Service, err)
	}
	return &Runtime{cfg: cfg, registry: r, log: log}, nil
}

// Run opens the service's broker connection, starts the prefork pool, and
// blocks until SIGINT/SIGTERM or ctx is cancelled, then shuts down
// gracefully and removes the pid file.
func (rt *Runtime) Run(ctx context.Context) error {
	client, err := transport.ConnectAsService(ctx, rt.cfg.Host, rt.cfg.Port, rt.cfg.Username, rt.cfg.Password, rt.cfg.Domain, rt.cfg.Service, rt.log)
	if err != nil {
		return fmt.Errorf("service: connecting %s: %w", rt.cfg.Service, err)
	}
	defer client.Disconnect()

	var pidFile *pool.PIDFile
	if rt.cfg.PIDFile != "" {
		pf := pool.PIDFile{Path: rt.cfg.PIDFile}
		if err := pf.Write(); err != nil {
			return fmt.Errorf("service: %w", err)
		}
		pidFile = &pf
		defer pidFile.Remove()
	}

	factory := rt.workerFactory()
	listener := pool.New(rt.cfg.Pool, client, factory, rt.log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			rt.log.Info("service: %s received %s, shutting down", rt.cfg.Service, sig)
			pool.Shutdown(cancel, ShutdownGrace)
		case <-ctx.Done():
			cancel()
		}
	}()

	rt.log.Info("service: %s listening (pid %d)", rt.cfg.Service, os.Getpid())
	return listener.Run(runCtx)
}

// workerFactory builds each worker its own transport client (with its own
// client-purpose primary address) and a server stack dispatching into this
// runtime's registry.
func (rt *Runtime) workerFactory() pool.ClientFactory {
	return func(ctx context.Context) (session.Sender, *session.Stack, error) {
		c, err := transport.New(ctx, rt.cfg.Host, rt.cfg.Port, rt.cfg.Username, rt.cfg.Password, rt.cfg.Domain, rt.log)
		if err != nil {
			return nil, nil, fmt.Errorf("service: spawning worker transport: %w", err)
		}
		stack := session.NewServerStack(c, rt.cfg.Service, rt.registry, rt.log)
		return c, stack, nil
	}
}

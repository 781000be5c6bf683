// Package router implements the domain-local dispatcher: it owns the
// router address on one bus domain, and forwards an envelope addressed to
// a service (carried in the router address's remainder) on to that
// service's own listening address, where the service's worker pool
// (internal/pool) picks a live worker. Unknown services are rejected with
// a STATUS(404) sent straight back to the caller.
package router

import (
	"context"
	"fmt"

	"github.com/tenzoki/srfgo/internal/addr"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/wire"
)

// Client is the subset of *transport.Client a router needs: pop from its
// own router address, and publish the rewritten envelope onward.
type Client interface {
	RecvForRouter(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error)
	Send(ctx context.Context, env wire.Envelope) error
}

// Router forwards envelopes addressed to it on to the live service each
// names, on one bus domain.
type Router struct {
	client Client
	known  map[string]bool
	log    *logx.Logger
}

// New builds a router knowing the given set of live service names (loaded
// from the bootstrap config's /activeapps/appname[]).
func New(client Client, services []string, log *logx.Logger) *Router {
	if log == nil {
		log = logx.Discard()
	}
	known := make(map[string]bool, len(services))
	for _, s := range services {
		known[s] = true
	}
	return &Router{client: client, known: known, log: log}
}

// Run pops from the router address and forwards each envelope until ctx is
// cancelled.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		env, err := r.client.RecvForRouter(ctx, 1)
		if err != nil {
			r.log.Error("router: recv_for_router: %v", err)
			continue
		}
		if env == nil {
			continue
		}
		r.route(ctx, *env)
	}
}

// route rewrites env's recipient from the router address (whose remainder
// names a service) to that service's listening address, or rejects it if
// the service isn't one this router knows about.
func (r *Router) route(ctx context.Context, env wire.Envelope) {
	recipient, err := addr.Parse(env.Recipient)
	if err != nil {
		r.log.Warning("router: malformed recipient %q: %v", env.Recipient, err)
		return
	}
	service := recipient.Remainder
	if !r.known[service] {
		r.reject(ctx, env, service)
		return
	}

	out := env
	out.Recipient = addr.NewService(recipient.Username, recipient.Domain, service).String()
	if err := r.client.Send(ctx, out); err != nil {
		r.log.Error("router: forwarding to %s: %v", service, err)
	}
}

func (r *Router) reject(ctx context.Context, env wire.Envelope, service string) {
	msg := wire.NewStatus(0, wire.StatusNotFound, "osrfServiceNotFoundException", fmt.Sprintf("no such service: %s", service))
	body, err := wire.Serialize([]wire.Message{msg})
	if err != nil {
		r.log.Error("router: serializing rejection: %v", err)
		return
	}
	reply := wire.Envelope{
		Sender:    env.Recipient,
		Recipient: env.Sender,
		Thread:    env.Thread,
		Body:      body,
		TraceID:   env.TraceID,
	}
	if err := r.client.Send(ctx, reply); err != nil {
		r.log.Error("router: sending rejection for %s: %v", service, err)
	}
}

// Package transport owns the addresses a process speaks with (primary,
// optional service, optional router) and the map of per-domain bus
// transports, routing outgoing sends to the right one.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenzoki/srfgo/internal/addr"
	"github.com/tenzoki/srfgo/internal/bus"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/wire"
)

// Client is a process's transport handle: one primary address, optionally
// a service and/or router address on the same domain, and a lazily-grown
// map of bus transports for any foreign domain a recipient names.
type Client struct {
	host     string
	port     int
	user     string
	password string
	domain   string

	primary Address
	service *addr.Address
	router  *addr.Address

	mu         sync.Mutex
	transports map[string]*bus.Transport
	dial       dialFunc

	log *logx.Logger
}

// dialFunc opens a bus transport for one domain; a seam so tests can inject
// a fake broker without a real connection.
type dialFunc func(ctx context.Context, domain, host string, port int, user, password string, log *logx.Logger) (*bus.Transport, error)

// Address is an alias of addr.Address, so callers of this package can name
// the address type without importing addr.
type Address = addr.Address

// New opens a pure client connection: primes the primary domain's
// transport and sets the primary address to a fresh client address.
func New(ctx context.Context, host string, port int, user, password, domain string, log *logx.Logger) (*Client, error) {
	return newWithDialer(ctx, host, port, user, password, domain, log, bus.Connect)
}

func newWithDialer(ctx context.Context, host string, port int, user, password, domain string, log *logx.Logger, dial dialFunc) (*Client, error) {
	c := &Client{
		host: host, port: port, user: user, password: password, domain: domain,
		transports: map[string]*bus.Transport{},
		dial:       dial,
		log:        log,
	}
	if _, err := c.transportFor(ctx, domain); err != nil {
		return nil, err
	}
	c.primary = addr.NewClient(user, domain)
	return c, nil
}

// ConnectAsService opens a process's transport for a service listener: the
// primary client address plus a service address it can recv_for_service on.
func ConnectAsService(ctx context.Context, host string, port int, user, password, domain, service string, log *logx.Logger) (*Client, error) {
	c, err := New(ctx, host, port, user, password, domain, log)
	if err != nil {
		return nil, err
	}
	sa := addr.NewService(user, domain, service)
	c.service = &sa
	return c, nil
}

// ConnectAsRouter opens a process's transport for a domain's router: the
// primary client address plus the domain's well-known router address.
func ConnectAsRouter(ctx context.Context, host string, port int, user, password, domain string, log *logx.Logger) (*Client, error) {
	c, err := New(ctx, host, port, user, password, domain, log)
	if err != nil {
		return nil, err
	}
	ra := addr.NewRouter(user, domain)
	c.router = &ra
	return c, nil
}

// ConnectForService opens a client's transport that additionally knows a
// service address (without listening on it) for addressing convenience;
// structurally identical to ConnectAsService today.
func ConnectForService(ctx context.Context, host string, port int, user, password, domain, service string, log *logx.Logger) (*Client, error) {
	return ConnectAsService(ctx, host, port, user, password, domain, service, log)
}

// PrimaryAddress returns the process's client-purpose address.
func (c *Client) PrimaryAddress() addr.Address { return c.primary }

// ServiceAddress returns the service address, if this client connected as
// (or for) one.
func (c *Client) ServiceAddress() (addr.Address, bool) {
	if c.service == nil {
		return addr.Address{}, false
	}
	return *c.service, true
}

// RouterAddress returns the router address, if this client connected as one.
func (c *Client) RouterAddress() (addr.Address, bool) {
	if c.router == nil {
		return addr.Address{}, false
	}
	return *c.router, true
}

func (c *Client) transportFor(ctx context.Context, domain string) (*bus.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transports[domain]; ok {
		return t, nil
	}
	t, err := c.dial(ctx, domain, c.host, c.port, c.user, c.password, c.log)
	if err != nil {
		return nil, err
	}
	c.transports[domain] = t
	return t, nil
}

// Send routes env by its recipient's purpose: client/router recipients may
// live on a foreign domain and get a lazily-authenticated transport there;
// every other recipient (a service) always goes out via the primary
// transport, matching the "no cross-domain routing policy beyond asking
// the peer's local router" non-goal.
func (c *Client) Send(ctx context.Context, env wire.Envelope) error {
	recipient, err := addr.Parse(env.Recipient)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}

	domain := c.domain
	if recipient.Purpose == addr.Client || recipient.Purpose == addr.Router {
		domain = recipient.Domain
	}
	t, err := c.transportFor(ctx, domain)
	if err != nil {
		return err
	}
	return t.Send(ctx, env)
}

// Recv pops from the primary address.
func (c *Client) Recv(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error) {
	return c.recvFrom(ctx, c.primary.String(), timeoutSeconds)
}

// RecvForService pops from the service address — how a worker receives new
// work.
func (c *Client) RecvForService(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error) {
	if c.service == nil {
		return nil, fmt.Errorf("transport: recv_for_service: not connected as a service")
	}
	return c.recvFrom(ctx, c.service.String(), timeoutSeconds)
}

// RecvForRouter pops from the router address.
func (c *Client) RecvForRouter(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error) {
	if c.router == nil {
		return nil, fmt.Errorf("transport: recv_for_router: not connected as a router")
	}
	return c.recvFrom(ctx, c.router.String(), timeoutSeconds)
}

func (c *Client) recvFrom(ctx context.Context, stream string, timeoutSeconds int) (*wire.Envelope, error) {
	t, err := c.transportFor(ctx, c.domain)
	if err != nil {
		return nil, err
	}
	return t.Recv(ctx, stream, secondsToDuration(timeoutSeconds))
}

// Disconnect tears down every transport this client opened.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for domain, t := range c.transports {
		if err := t.Disconnect(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: disconnect %s: %w", domain, err)
		}
	}
	c.transports = map[string]*bus.Transport{}
	return firstErr
}

// Package client is the public RPC client surface: call a method on a
// service, collect its results. Requests are addressed straight to the
// service's listening address on the client's domain; they do not pass
// through a router. It hides the envelope/session/
// dispatch machinery behind a small synchronous API, the way a caller
// expects an RPC client to look.
package client

import (
	"context"
	"fmt"

	"github.com/tenzoki/srfgo/internal/addr"
	"github.com/tenzoki/srfgo/internal/cache"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/session"
	"github.com/tenzoki/srfgo/internal/transport"
	"github.com/tenzoki/srfgo/internal/wire"
)

// DefaultTimeoutSeconds bounds how long Request waits for a reply before
// treating the call as timed out.
const DefaultTimeoutSeconds = 30

// Client is a ready-to-use RPC client bound to one domain.
type Client struct {
	transport *transport.Client
	stack     *session.Stack
	username  string
	domain    string
	log       *logx.Logger

	// pins is the conversation cache: it lets Open/Call/CloseConversation
	// address a stateful conversation's pinned worker directly across
	// separate calls into this client, without keeping a *session.Session
	// alive in process memory between them — the shape a stateless
	// gateway sitting in front of this client needs.
	pins *cache.Cache
}

// Config names the connection parameters a client needs: the broker
// coordinates and the domain whose services it calls.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Domain   string
}

// Dial opens a client connection on the configured domain.
func Dial(ctx context.Context, cfg Config, log *logx.Logger) (*Client, error) {
	if log == nil {
		log = logx.Discard()
	}
	t, err := transport.New(ctx, cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Domain, log)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	return &Client{
		transport: t,
		stack:     session.NewClientStack(t, log),
		username:  cfg.Username,
		domain:    cfg.Domain,
		log:       log,
		pins:      cache.New(cache.DefaultCapacity),
	}, nil
}

// Request opens a fresh conversation, sends one REQUEST (no CONNECT), and
// returns every RESULT's content in order. It sends DISCONNECT once
// STATUS(COMPLETE) arrives; on an exception, a timeout or a transport error
// it returns without sending DISCONNECT.
func (c *Client) Request(ctx context.Context, service, method string, params []interface{}, timeoutSeconds int) ([]interface{}, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}
	serviceAddr := addr.NewService(c.username, c.domain, service)
	sess := c.stack.NewClientSession(serviceAddr.String())
	defer c.stack.Remove(sess.Thread)

	trace, err := c.stack.SendRequest(ctx, sess, method, params)
	if err != nil {
		return nil, fmt.Errorf("client: request %s: %w", method, err)
	}

	var results []interface{}
	for {
		msg, ok, err := c.stack.RecvResponse(ctx, sess, trace, timeoutSeconds)
		if err != nil {
			return results, fmt.Errorf("client: waiting for %s: %w", method, err)
		}
		if !ok {
			return results, fmt.Errorf("client: no response to %s", method)
		}
		if msg.IsException() {
			return results, fmt.Errorf("client: %s: %s", method, msg.StatusText)
		}
		if msg.Type == wire.Status && msg.StatusCode == wire.StatusComplete {
			_ = c.stack.Disconnect(ctx, sess)
			return results, nil
		}
		if msg.Type == wire.Result {
			results = append(results, msg.Content)
		}
	}
}

// Open starts a stateful conversation with service: CONNECT, wait for
// STATUS(OK), and pin the thread to whichever worker answered it. The
// returned thread id is the conversation's handle — pass it to Call as
// many times as needed, then to CloseConversation when done. Unlike
// Request, nothing about this conversation is kept in process memory
// between calls beyond the pinned address itself.
func (c *Client) Open(ctx context.Context, service string, timeoutSeconds int) (string, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}
	serviceAddr := addr.NewService(c.username, c.domain, service)
	sess := c.stack.NewClientSession(serviceAddr.String())
	defer c.stack.Remove(sess.Thread)

	if err := c.stack.Connect(ctx, sess); err != nil {
		return "", fmt.Errorf("client: connect %s: %w", service, err)
	}
	if err := c.stack.WaitConnected(ctx, sess, timeoutSeconds); err != nil {
		return "", fmt.Errorf("client: connect %s: %w", service, err)
	}
	c.pins.Set(sess.Thread, sess.Remote)
	return sess.Thread, nil
}

// Call sends one REQUEST on a conversation opened with Open, addressing it
// straight to the pinned worker, and returns every RESULT's content in
// order.
func (c *Client) Call(ctx context.Context, thread, method string, params []interface{}, timeoutSeconds int) ([]interface{}, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}
	remote, ok := c.pins.Get(thread)
	if !ok {
		return nil, fmt.Errorf("client: no open conversation for thread %s", thread)
	}

	sess := session.Resume(thread, remote)
	c.stack.Adopt(sess)
	defer c.stack.Remove(thread)

	trace, err := c.stack.SendRequest(ctx, sess, method, params)
	if err != nil {
		return nil, fmt.Errorf("client: request %s: %w", method, err)
	}

	var results []interface{}
	for {
		msg, ok, err := c.stack.RecvResponse(ctx, sess, trace, timeoutSeconds)
		if err != nil {
			return results, fmt.Errorf("client: waiting for %s: %w", method, err)
		}
		if !ok {
			return results, fmt.Errorf("client: no response to %s", method)
		}
		if msg.IsException() {
			return results, fmt.Errorf("client: %s: %s", method, msg.StatusText)
		}
		if msg.Type == wire.Status && msg.StatusCode == wire.StatusComplete {
			c.pins.Set(thread, sess.Remote)
			return results, nil
		}
		if msg.Type == wire.Result {
			results = append(results, msg.Content)
		}
	}
}

// CloseConversation sends DISCONNECT on a conversation opened with Open and
// unpins its thread.
func (c *Client) CloseConversation(ctx context.Context, thread string) error {
	defer c.pins.Remove(thread)

	remote, ok := c.pins.Get(thread)
	if !ok {
		return nil
	}
	sess := session.Resume(thread, remote)
	c.stack.Adopt(sess)
	defer c.stack.Remove(thread)

	return c.stack.Disconnect(ctx, sess)
}

// Close tears down every transport this client opened.
func (c *Client) Close() error {
	return c.transport.Disconnect()
}

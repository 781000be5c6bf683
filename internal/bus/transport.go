// Package bus wraps one broker connection per domain. The broker is an
// external ordered-list service (Redis, in this implementation) we never
// run ourselves: connect/authenticate, publish to a named list, pop from a
// list with optional blocking timeout, disconnect.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/wire"
)

// backoff is the pause after a broker-level error, long enough to keep a
// dead broker from flooding the log.
const backoff = 3 * time.Second

// RedisLike is the subset of *redis.Client a Transport needs; narrowed to
// an interface so tests (in this package and others) can inject a fake
// broker instead of dialing a real one.
type RedisLike interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type listClient = RedisLike

// NewTransport builds a Transport around an already-constructed RedisLike
// client, bypassing Connect's dial step. Exported for tests that need to
// inject a fake broker from outside this package.
func NewTransport(domain string, client RedisLike, log *logx.Logger) *Transport {
	return newTransport(domain, client, log)
}

// Transport owns one authenticated connection to one broker domain.
type Transport struct {
	Domain string
	client listClient
	log    *logx.Logger
}

// onWire is the envelope shape actually stored in a broker list entry: the
// bus, not the envelope codec, owns sender/thread/trace bookkeeping, since
// those never appear inside the JSON/XML protocol-message body.
type onWire struct {
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	Thread         string `json:"thread"`
	Body           []byte `json:"body"`
	TraceID        string `json:"trace_id"`
	TransportError bool   `json:"transport_error"`
	ErrorType      string `json:"error_type,omitempty"`
}

// Connect dials and authenticates against the broker for one domain. host
// and port name the Redis endpoint backing that domain; user/password map
// to Redis ACL credentials.
func Connect(ctx context.Context, domain, host string, port int, user, password string, log *logx.Logger) (*Transport, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: user,
		Password: password,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: connect to domain %s: %w", domain, err)
	}
	return newTransport(domain, rc, log), nil
}

func newTransport(domain string, c listClient, log *logx.Logger) *Transport {
	if log == nil {
		log = logx.Discard()
	}
	return &Transport{Domain: domain, client: c, log: log}
}

// Send authenticated-appends an envelope onto its recipient's list.
func (t *Transport) Send(ctx context.Context, env wire.Envelope) error {
	w := onWire{
		Sender:         env.Sender,
		Recipient:      env.Recipient,
		Thread:         env.Thread,
		Body:           env.Body,
		TraceID:        env.TraceID,
		TransportError: env.TransportError,
		ErrorType:      env.ErrorType,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("bus: encoding envelope for %s: %w", env.Recipient, err)
	}
	if err := t.client.RPush(ctx, env.Recipient, b).Err(); err != nil {
		return t.fail(ctx, "send to %s", env.Recipient, err)
	}
	return nil
}

// Recv pops the next envelope addressed to stream.
//
//   - timeout == 0: non-blocking pop; returns (nil, nil) if the list is empty.
//   - timeout < 0: blocks indefinitely.
//   - timeout > 0: blocks up to timeout.
func (t *Transport) Recv(ctx context.Context, stream string, timeout time.Duration) (*wire.Envelope, error) {
	var raw string
	switch {
	case timeout == 0:
		v, err := t.client.LPop(ctx, stream).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, t.fail(ctx, "recv from %s", stream, err)
		}
		raw = v
	case timeout < 0:
		vs, err := t.client.BLPop(ctx, 0, stream).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, t.fail(ctx, "recv from %s", stream, err)
		}
		raw = vs[1]
	default:
		vs, err := t.client.BLPop(ctx, timeout, stream).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, t.fail(ctx, "recv from %s", stream, err)
		}
		raw = vs[1]
	}

	var w onWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("bus: decoding envelope from %s: %w", stream, err)
	}
	return &wire.Envelope{
		Sender:         w.Sender,
		Recipient:      w.Recipient,
		Thread:         w.Thread,
		Body:           w.Body,
		TraceID:        w.TraceID,
		TransportError: w.TransportError,
		ErrorType:      w.ErrorType,
	}, nil
}

// Clear drops all pending entries addressed to stream.
func (t *Transport) Clear(ctx context.Context, stream string) error {
	if err := t.client.Del(ctx, stream).Err(); err != nil {
		return t.fail(ctx, "clear %s", stream, err)
	}
	return nil
}

// Disconnect releases the broker connection.
func (t *Transport) Disconnect() error {
	return t.client.Close()
}

func (t *Transport) fail(_ context.Context, action, target string, err error) error {
	t.log.Error("bus: %s %q failed: %v", action, target, err)
	time.Sleep(backoff)
	return fmt.Errorf("bus: %s %s: %w", action, target, err)
}

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/srfgo/internal/wire"
)

// fakeRedis is an in-memory stand-in for the subset of *redis.Client
// Transport depends on, keyed the same way Redis lists are: FIFO per key.
type fakeRedis struct {
	lists map[string][]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{lists: map[string][]string{}} }

func (f *fakeRedis) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		f.lists[key] = append(f.lists[key], v.(string))
	}
	cmd := redis.NewIntCmd(context.Background())
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeRedis) LPop(_ context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	vs := f.lists[key]
	if len(vs) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(vs[0])
	f.lists[key] = vs[1:]
	return cmd
}

func (f *fakeRedis) BLPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	key := keys[0]
	vs := f.lists[key]
	if len(vs) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal([]string{key, vs[0]})
	f.lists[key] = vs[1:]
	return cmd
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.lists, k)
	}
	cmd := redis.NewIntCmd(context.Background())
	cmd.SetVal(int64(len(keys)))
	return cmd
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

func TestSendRecvRoundTrip(t *testing.T) {
	tr := newTransport("private.localhost", newFakeRedis(), nil)
	ctx := context.Background()

	env := wire.Envelope{
		Sender:    "opensrf:client:opensrf:private.localhost:h:1:aaaa0000",
		Recipient: "opensrf:service:opensrf:private.localhost:opensrf.math",
		Thread:    "thread-1",
		Body:      []byte(`[]`),
		TraceID:   "trace-1",
	}
	require.NoError(t, tr.Send(ctx, env))

	got, err := tr.Recv(ctx, env.Recipient, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, env.Thread, got.Thread)
	assert.Equal(t, env.Sender, got.Sender)
}

func TestRecvNonBlockingEmptyReturnsNilNil(t *testing.T) {
	tr := newTransport("private.localhost", newFakeRedis(), nil)
	got, err := tr.Recv(context.Background(), "opensrf:service:opensrf:private.localhost:empty", 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecvBlockingPopsQueued(t *testing.T) {
	fr := newFakeRedis()
	tr := newTransport("private.localhost", fr, nil)
	ctx := context.Background()

	env := wire.Envelope{Recipient: "opensrf:router:router:private.localhost", Thread: "t2", Body: []byte(`[]`)}
	require.NoError(t, tr.Send(ctx, env))

	got, err := tr.Recv(ctx, env.Recipient, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t2", got.Thread)
}

func TestClearEmptiesList(t *testing.T) {
	fr := newFakeRedis()
	tr := newTransport("private.localhost", fr, nil)
	ctx := context.Background()
	stream := "opensrf:service:opensrf:private.localhost:opensrf.math"

	require.NoError(t, tr.Send(ctx, wire.Envelope{Recipient: stream, Thread: "t3", Body: []byte(`[]`)}))
	require.NoError(t, tr.Clear(ctx, stream))

	got, err := tr.Recv(ctx, stream, 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/srfgo/internal/addr"
	"github.com/tenzoki/srfgo/internal/logx"
	"github.com/tenzoki/srfgo/internal/wire"
)

type fakeClient struct {
	inbox chan wire.Envelope
	sent  []wire.Envelope
}

func newFakeClient() *fakeClient { return &fakeClient{inbox: make(chan wire.Envelope, 4)} }

func (f *fakeClient) RecvForRouter(ctx context.Context, timeoutSeconds int) (*wire.Envelope, error) {
	select {
	case env := <-f.inbox:
		return &env, nil
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeClient) Send(ctx context.Context, env wire.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func envelopeTo(service string) wire.Envelope {
	recipient := addr.NewRouter("math", "test.domain")
	recipient.Remainder = service
	return wire.Envelope{
		Sender:    addr.NewClient("caller", "test.domain").String(),
		Recipient: recipient.String(),
		Thread:    "t1",
		Body:      []byte("[]"),
		TraceID:   wire.NewTraceID(),
	}
}

func TestRouteForwardsToKnownService(t *testing.T) {
	fc := newFakeClient()
	r := New(fc, []string{"opensrf.math"}, logx.Discard())

	r.route(context.Background(), envelopeTo("opensrf.math"))

	require.Len(t, fc.sent, 1)
	gotRecipient, err := addr.Parse(fc.sent[0].Recipient)
	require.NoError(t, err)
	assert.Equal(t, addr.Service, gotRecipient.Purpose)
	assert.Equal(t, "opensrf.math", gotRecipient.Service())
}

func TestRouteRejectsUnknownService(t *testing.T) {
	fc := newFakeClient()
	r := New(fc, []string{"opensrf.math"}, logx.Discard())

	r.route(context.Background(), envelopeTo("opensrf.bogus"))

	require.Len(t, fc.sent, 1)
	msgs, err := wire.Parse(fc.sent[0].Body)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.StatusNotFound, msgs[0].StatusCode)
}

func TestRunForwardsUntilCancelled(t *testing.T) {
	fc := newFakeClient()
	r := New(fc, []string{"opensrf.math"}, logx.Discard())
	fc.inbox <- envelopeTo("opensrf.math")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	require.Len(t, fc.sent, 1)
}

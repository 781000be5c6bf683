package mathdemo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/srfgo/internal/dispatch"
	"github.com/tenzoki/srfgo/internal/wire"
)

func collect(t *testing.T, method string, params []interface{}) []wire.Message {
	t.Helper()
	r := dispatch.New()
	require.NoError(t, Register(r))
	var got []wire.Message
	r.RunMethod(Service, method, 1, params, func(m wire.Message) error {
		got = append(got, m)
		return nil
	})
	return got
}

func TestAdd(t *testing.T) {
	msgs := collect(t, "opensrf.math.add", []interface{}{float64(2), float64(3)})
	require.Len(t, msgs, 2)
	assert.Equal(t, float64(5), msgs[0].Content)
	assert.Equal(t, wire.StatusComplete, msgs[1].StatusCode)
}

func TestDivideByZeroRaisesException(t *testing.T) {
	msgs := collect(t, "opensrf.math.divide", []interface{}{float64(1), float64(0)})
	require.Len(t, msgs, 2) // handler's exception + generic error for the negative return
	assert.Equal(t, wire.StatusServerError, msgs[0].StatusCode)
}

func TestFibonacciStreams(t *testing.T) {
	msgs := collect(t, "opensrf.math.fibonacci", []interface{}{float64(5)})
	require.Len(t, msgs, 6) // 5 RESULTs + COMPLETE
	assert.Equal(t, []interface{}{0.0, 1.0, 1.0, 2.0, 3.0}, []interface{}{
		msgs[0].Content, msgs[1].Content, msgs[2].Content, msgs[3].Content, msgs[4].Content,
	})
	assert.Equal(t, wire.StatusComplete, msgs[5].StatusCode)
}

func TestFibonacciAtomicTwin(t *testing.T) {
	msgs := collect(t, "opensrf.math.fibonacci.atomic", []interface{}{float64(3)})
	require.Len(t, msgs, 2)
	assert.Equal(t, []interface{}{0.0, 1.0, 1.0}, msgs[0].Content)
	assert.Equal(t, wire.StatusComplete, msgs[1].StatusCode)
}

// Package dispatch maps (service, method) to an in-process handler and
// runs it while upholding the streaming/atomic/cacheable response
// contracts every registered method can opt into.
package dispatch

import "github.com/tenzoki/srfgo/internal/wire"

// Option is a bit in a method descriptor's option set.
type Option uint8

const (
	System Option = 1 << iota
	Streaming
	Atomic
	Cacheable
)

func (o Option) Has(flag Option) bool { return o&flag != 0 }

// Handler is an in-process method implementation. It receives a Context
// carrying the call's parameters and an accumulator for ATOMIC/CACHEABLE
// methods, and returns the small int contract: <0 generic failure, 0
// postprocess-only, >0 postprocess-then-COMPLETE.
type Handler func(ctx *Context) int

// Method is a registered method descriptor.
type Method struct {
	Name    string
	Target  Handler
	Argc    int // 0 means variadic
	Options Option
	Notes   string
}

// Context is what a handler receives: the call's parameters, its thread
// trace, and the accumulator/response-sink shared with the postprocess
// step.
type Context struct {
	Service string
	Method  *Method
	Trace   int64
	Params  []interface{}

	send          func(wire.Message) error
	accumulate    bool
	accumulator   []interface{}
	resultsEmitted int
}

// Respond is how a handler emits one result. For ATOMIC and CACHEABLE
// methods this only appends to the accumulator, flushed as a single RESULT
// in postprocess; otherwise it sends a RESULT immediately.
func (c *Context) Respond(value interface{}) {
	if c.accumulate {
		c.accumulator = append(c.accumulator, value)
		return
	}
	c.resultsEmitted++
	_ = c.send(wire.NewResult(c.Trace, value))
}

// RespondComplete is Respond, plus (for non-accumulating methods) a
// trailing STATUS(COMPLETE). For ATOMIC/CACHEABLE methods it only appends
// value to the accumulator, skipping a nil value (Respond would append it) —
// completion is always signaled by postprocess. A
// nil value on the non-accumulating path sends STATUS_NOCONTENT as the
// RESULT's status code (content class osrfResultPartialComplete on the
// wire); this is the decided scope of STATUS_NOCONTENT — it never applies
// to an ATOMIC accumulator's single flushed RESULT.
func (c *Context) RespondComplete(value interface{}) {
	if c.accumulate {
		if value != nil {
			c.accumulator = append(c.accumulator, value)
		}
		return
	}
	code := wire.StatusOK
	if value == nil {
		code = wire.StatusNoContent
	}
	msg := wire.NewResult(c.Trace, value)
	msg.StatusCode = code
	msg.StatusName = wire.StatusName(code)
	c.resultsEmitted++
	_ = c.send(msg)
	_ = c.send(wire.NewStatus(c.Trace, wire.StatusComplete, "", ""))
}

// Exception sends a STATUS of the given code/class/text — how a handler
// communicates a user-visible failure before returning a positive int so
// postprocess sends COMPLETE.
func (c *Context) Exception(code int, class, text string) {
	_ = c.send(wire.NewStatus(c.Trace, code, class, text))
}

// Package mathdemo is a small Go-registered application used to exercise
// the dispatcher end-to-end (and as the worked example in cmd/srfworker):
// opensrf.math, with add/subtract/divide and a streaming fibonacci method.
package mathdemo

import (
	"github.com/tenzoki/srfgo/internal/dispatch"
)

const Service = "opensrf.math"

// Register installs opensrf.math's methods into r.
func Register(r *dispatch.Registry) error {
	if err := r.RegisterApplication(Service, nil); err != nil {
		return err
	}

	if err := r.RegisterMethod(Service, dispatch.Method{
		Name:  "opensrf.math.add",
		Argc:  2,
		Notes: "a + b",
		Target: func(ctx *dispatch.Context) int {
			a, b, ok := twoFloats(ctx)
			if !ok {
				ctx.Exception(500, "osrfMethodException", "add requires two numbers")
				return -1
			}
			ctx.RespondComplete(a + b)
			return 0
		},
	}); err != nil {
		return err
	}

	if err := r.RegisterMethod(Service, dispatch.Method{
		Name:  "opensrf.math.subtract",
		Argc:  2,
		Notes: "a - b",
		Target: func(ctx *dispatch.Context) int {
			a, b, ok := twoFloats(ctx)
			if !ok {
				ctx.Exception(500, "osrfMethodException", "subtract requires two numbers")
				return -1
			}
			ctx.RespondComplete(a - b)
			return 0
		},
	}); err != nil {
		return err
	}

	if err := r.RegisterMethod(Service, dispatch.Method{
		Name:  "opensrf.math.divide",
		Argc:  2,
		Notes: "a / b; raises osrfMethodException on division by zero",
		Target: func(ctx *dispatch.Context) int {
			a, b, ok := twoFloats(ctx)
			if !ok {
				ctx.Exception(500, "osrfMethodException", "divide requires two numbers")
				return -1
			}
			if b == 0 {
				ctx.Exception(500, "osrfMethodException", "division by zero")
				return -1
			}
			ctx.RespondComplete(a / b)
			return 0
		},
	}); err != nil {
		return err
	}

	// STREAMING so registration also synthesizes opensrf.math.fibonacci.atomic.
	return r.RegisterMethod(Service, dispatch.Method{
		Name:    "opensrf.math.fibonacci",
		Argc:    1,
		Options: dispatch.Streaming,
		Notes:   "stream the first n fibonacci numbers, one RESULT each",
		Target: func(ctx *dispatch.Context) int {
			n, ok := ctx.Params[0].(float64)
			if !ok || n < 0 {
				ctx.Exception(500, "osrfMethodException", "fibonacci requires a non-negative count")
				return -1
			}
			a, b := 0.0, 1.0
			for i := 0; i < int(n); i++ {
				ctx.Respond(a)
				a, b = b, a+b
			}
			return 1
		},
	})
}

func twoFloats(ctx *dispatch.Context) (float64, float64, bool) {
	if len(ctx.Params) < 2 {
		return 0, 0, false
	}
	a, aok := ctx.Params[0].(float64)
	b, bok := ctx.Params[1].(float64)
	return a, b, aok && bok
}

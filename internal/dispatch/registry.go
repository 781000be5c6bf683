package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tenzoki/srfgo/internal/wire"
)

// StrictParams is the decided default for the spec's "argc enforcement
// iff strict-params compile-time option is active" switch: on, matching
// the spirit of argc being meaningful declared metadata. Flip this single
// variable to reproduce the permissive behavior.
var StrictParams = true

// InitFunc is an application's initialization hook, run once at
// registration time. A non-nil error rejects the registration.
type InitFunc func() error

type application struct {
	name    string
	init    InitFunc
	methods map[string]*Method
}

// Registry is the process-wide application registry: service name to
// method table. Written only at bootstrap/registration time, read from
// the request hot path — the mutex only ever contends against concurrent
// registration, never against a single-threaded worker's own dispatch.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*application
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{apps: map[string]*application{}}
}

// RegisterApplication loads service, runs its init hook (if any), and
// auto-registers the three built-in system methods in both streaming and
// atomic form.
func (r *Registry) RegisterApplication(service string, init InitFunc) error {
	if init != nil {
		if err := init(); err != nil {
			return fmt.Errorf("dispatch: init hook for %s: %w", service, err)
		}
	}
	r.mu.Lock()
	app := &application{name: service, init: init, methods: map[string]*Method{}}
	r.apps[service] = app
	r.mu.Unlock()

	registerSystemMethods(r, service)
	return nil
}

// RegisterMethod stores a method descriptor against service. If Streaming
// is set, it also synthesizes the `<name>.atomic` twin with Atomic added
// and the same argc/target.
func (r *Registry) RegisterMethod(service string, m Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[service]
	if !ok {
		return fmt.Errorf("dispatch: register method %s: application %s not registered", m.Name, service)
	}
	app.methods[m.Name] = &m

	if m.Options.Has(Streaming) {
		twin := m
		twin.Name = m.Name + ".atomic"
		twin.Options = m.Options | Atomic
		app.methods[twin.Name] = &twin
	}
	return nil
}

func (r *Registry) lookup(service, method string) (*application, *Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[service]
	if !ok {
		return nil, nil, false
	}
	m, ok := app.methods[method]
	if !ok {
		return app, nil, false
	}
	return app, m, true
}

// methodNames returns every registered method name for service, sorted,
// for the introspection system methods.
func (r *Registry) methodNames(service string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[service]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(app.methods))
	for n := range app.methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) method(service, name string) (*Method, bool) {
	_, m, ok := r.lookup(service, name)
	return m, ok
}

// RunMethod is the dispatcher's hot path: look up service and method,
// enforce the argc contract, run the handler, and postprocess its return
// code. It satisfies session.Dispatcher.
func (r *Registry) RunMethod(service, method string, trace int64, params []interface{}, send func(wire.Message) error) {
	app, m, ok := r.lookup(service, method)
	if app == nil {
		_ = send(wire.NewStatus(trace, wire.StatusNotFound, "osrfMethodException", "application not found: "+service))
		return
	}
	if !ok {
		_ = send(wire.NewStatus(trace, wire.StatusNotFound, "osrfMethodException", "method not found: "+method))
		return
	}
	if StrictParams && m.Argc > 0 && len(params) < m.Argc {
		_ = send(wire.NewStatus(trace, wire.StatusServerError, "osrfMethodException",
			fmt.Sprintf("not enough params: %s requires %d, got %d", method, m.Argc, len(params))))
		return
	}

	ctx := &Context{
		Service:    service,
		Method:     m,
		Trace:      trace,
		Params:     params,
		send:       send,
		accumulate: m.Options.Has(Atomic) || m.Options.Has(Cacheable),
	}

	result := m.Target(ctx)

	if result < 0 {
		_ = send(wire.NewStatus(trace, wire.StatusServerError, "osrfMethodException", "handler returned error"))
		return
	}
	postprocess(ctx)
	if result > 0 {
		_ = send(wire.NewStatus(trace, wire.StatusComplete, "", ""))
	}
}

// postprocess flushes an ATOMIC/CACHEABLE accumulator as exactly one
// RESULT, whatever it collected — including empty, per the decided
// STATUS_NOCONTENT/ATOMIC interaction.
func postprocess(ctx *Context) {
	if !ctx.accumulate {
		return
	}
	content := ctx.accumulator
	if content == nil {
		content = []interface{}{}
	}
	_ = ctx.send(wire.NewResult(ctx.Trace, content))
}

// MatchingPrefix returns every registered method name on service starting
// with prefix, sorted — opensrf.system.method's behavior.
func (r *Registry) MatchingPrefix(service, prefix string) []string {
	var out []string
	for _, n := range r.methodNames(service) {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}

// Describe renders a method descriptor as the wire-facing map
// opensrf.system.method streams one of per match.
func (r *Registry) Describe(service, name string) (map[string]interface{}, bool) {
	m, ok := r.method(service, name)
	if !ok {
		return nil, false
	}
	return map[string]interface{}{
		"api_name": m.Name,
		"argc":     m.Argc,
		"notes":    m.Notes,
		"atomic":   m.Options.Has(Atomic),
		"streaming": m.Options.Has(Streaming),
		"cachable": m.Options.Has(Cacheable),
	}, true
}

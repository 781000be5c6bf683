package dispatch

// registerSystemMethods installs the three built-in introspection/echo
// methods every application gets for free, each SYSTEM|STREAMING (so
// registration synthesizes the matching `.atomic` twin automatically).
func registerSystemMethods(r *Registry, service string) {
	_ = r.RegisterMethod(service, Method{
		Name:    "opensrf.system.method",
		Argc:    1,
		Options: System | Streaming,
		Notes:   "stream one RESULT per registered method whose name starts with the given prefix",
		Target: func(ctx *Context) int {
			prefix, _ := ctx.Params[0].(string)
			for _, name := range r.MatchingPrefix(service, prefix) {
				if desc, ok := r.Describe(service, name); ok {
					ctx.Respond(desc)
				}
			}
			return 1
		},
	})

	_ = r.RegisterMethod(service, Method{
		Name:    "opensrf.system.method.all",
		Argc:    0,
		Options: System | Streaming,
		Notes:   "stream every registered method",
		Target: func(ctx *Context) int {
			for _, name := range r.methodNames(service) {
				if desc, ok := r.Describe(service, name); ok {
					ctx.Respond(desc)
				}
			}
			return 1
		},
	})

	_ = r.RegisterMethod(service, Method{
		Name:    "opensrf.system.echo",
		Argc:    0,
		Options: System | Streaming,
		Notes:   "stream one RESULT per argument, in order",
		Target: func(ctx *Context) int {
			for _, p := range ctx.Params {
				ctx.Respond(p)
			}
			return 1
		},
	})
}

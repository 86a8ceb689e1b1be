package orbit

import "context"

// callContextKey is the context key under which the ambient per-call
// principal is stored for the duration of a host method invocation.
type callContextKey struct{}

// withCaller returns a copy of ctx carrying p as the ambient caller. It is
// installed by the dispatcher immediately before invoking a host method and
// is only visible for the lifetime of that invocation.
func withCaller(ctx context.Context, p UserPrincipal) context.Context {
	return context.WithValue(ctx, callContextKey{}, p)
}

// Caller returns the UserPrincipal that invoked the host method currently
// executing in ctx, and reports whether one was present. Host methods call
// this to ask "who is calling me?" without any argument plumbing.
func Caller(ctx context.Context) (UserPrincipal, bool) {
	v, ok := ctx.Value(callContextKey{}).(UserPrincipal)
	return v, ok
}

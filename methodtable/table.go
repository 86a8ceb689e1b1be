// Package methodtable implements the Request Dispatcher: a reflection-built
// table of host object methods, resolved once at construction so that a
// duplicate method name fails fast at startup instead of on a client's first
// call. Exported methods without the eligible shape are left out of the
// table; they do not cause an error.
//
// A method is eligible if it has the shape
//
//	func(context.Context, P) (R, error)
//
// for some argument type P and result type R. P and R are free to be any
// type the codec can handle, including one containing an orbit.Observable.
package methodtable

import (
	"context"
	"fmt"
	"reflect"

	"github.com/orbitrpc/orbit"
)

var (
	ctxType = reflect.TypeFor[context.Context]()
	errType = reflect.TypeFor[error]()
)

type entry struct {
	recv   reflect.Value
	method reflect.Value
	paramT reflect.Type // concrete type of P
}

// Table is the default orbit.Dispatcher: a fixed, reflection-built mapping
// from method name to host method. The zero value is not usable; construct
// with New.
type Table struct {
	entries map[string]entry
}

// New builds a Table from every eligible exported method of host. host is
// typically a pointer to a struct; methods are resolved from its method set
// as reflect reports it.
//
// Exported methods with no eligible call shape are skipped silently. New
// panics if two eligible methods end up with the same dispatch name (after
// WithName overrides). Host object construction is expected to happen once
// at server startup, so a fatal panic here is preferable to a dispatch-time
// error discovered only when a client first calls the bad method.
func New(host any, opts ...Option) *Table {
	cfg := config{rename: map[string]string{}, exclude: map[string]bool{}}
	for _, o := range opts {
		o(&cfg)
	}

	v := reflect.ValueOf(host)
	t := v.Type()
	tbl := &Table{entries: make(map[string]entry)}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if cfg.exclude[m.Name] {
			continue
		}
		paramT, ok := eligible(m.Func.Type())
		if !ok {
			continue
		}
		name := m.Name
		if alt, ok := cfg.rename[m.Name]; ok {
			name = alt
		}
		if _, dup := tbl.entries[name]; dup {
			panic(fmt.Sprintf("methodtable: duplicate method name %q", name))
		}
		tbl.entries[name] = entry{recv: v, method: m.Func, paramT: paramT}
	}
	return tbl
}

// eligible reports whether fn (a method function type, receiver included as
// argument 0) has the shape func(Recv, context.Context, P) (R, error), and
// if so returns P.
func eligible(fn reflect.Type) (reflect.Type, bool) {
	if fn.NumIn() != 3 || fn.NumOut() != 2 {
		return nil, false
	}
	if fn.In(1) != ctxType {
		return nil, false
	}
	if !fn.Out(1).Implements(errType) || fn.Out(1) != errType {
		return nil, false
	}
	return fn.In(2), true
}

// Names reports every method name registered in the table, for diagnostics.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.entries))
	for name := range t.entries {
		out = append(out, name)
	}
	return out
}

// Invoke implements orbit.Dispatcher.
func (t *Table) Invoke(ctx context.Context, codec orbit.Codec, rc *orbit.ReplyContext, method string, args []byte) ([]byte, error) {
	e, ok := t.entries[method]
	if !ok {
		return nil, &orbit.ProtocolError{Message: fmt.Sprintf("unknown method %q", method)}
	}

	param := reflect.New(e.paramT)
	if len(args) > 0 {
		if err := codec.Unmarshal(args, param.Interface()); err != nil {
			return nil, &orbit.ProtocolError{Message: fmt.Sprintf("decoding arguments for %q: %v", method, err)}
		}
	}

	out := e.method.Call([]reflect.Value{e.recv, reflect.ValueOf(ctx), param.Elem()})
	if errv := out[1]; !errv.IsNil() {
		return nil, &orbit.InvocationError{Cause: errv.Interface().(error)}
	}

	result, err := codec.Marshal(out[0].Interface(), rc)
	if err != nil {
		return nil, &orbit.SerializationError{RequestID: rc.RequestID, Cause: err}
	}
	return result, nil
}

type config struct {
	rename  map[string]string
	exclude map[string]bool
}

// Option configures a Table built by New.
type Option func(*config)

// WithName overrides the dispatch name for a host method, for host methods
// whose Go name should not be their RPC name verbatim.
func WithName(methodName, rpcName string) Option {
	return func(c *config) { c.rename[methodName] = rpcName }
}

// WithExcluded excludes a host method from the table entirely, even if its
// signature would otherwise make it eligible.
func WithExcluded(methodNames ...string) Option {
	return func(c *config) {
		for _, n := range methodNames {
			c.exclude[n] = true
		}
	}
}

// Package executor implements the default reflection-based dispatcher
// spec.md §4.5 describes: a Request's Call stack is walked left to right
// against a target Go value, each step resolving a method or field on the
// result of the previous step.
package executor

import (
	"context"
	"fmt"
	"reflect"

	"github.com/tenzoki/pubsubrpc/wire"
)

// Dispatcher is what server.Server calls into for every Request/
// SubscribeRequest dispatched to a namespace.
type Dispatcher interface {
	// Call walks stack against the executor's target and returns the
	// final value, or an error if any step fails.
	Call(ctx context.Context, stack []wire.Call) (interface{}, error)

	// CanStream reports whether this executor's target supports
	// SubscribeRequest (spec.md §4.3: "if it does not advertise a
	// streaming method, publish a Failure").
	CanStream() bool

	// Stream runs the streaming method against pub and returns when the
	// method returns; stopping once pub goes inactive is up to the method.
	// Only called when CanStream is true.
	Stream(ctx context.Context, pub Publisher) error
}

// Publisher is the minimal surface a streaming target needs from a
// server-side Publisher: push one value, and check whether the receiver is
// still listening. Defined here (rather than importing package server) so
// executor has no dependency on server; server.Publisher satisfies this
// interface structurally.
type Publisher interface {
	Publish(ctx context.Context, value interface{}) (int, error)
	Active() bool
}

// Streamer is implemented by a target object that supports
// SubscribeRequest. DefaultExecutor checks for this interface to decide
// CanStream.
type Streamer interface {
	Stream(ctx context.Context, pub Publisher) error
}

// RemoteMethodLister is the Go stand-in for the original implementation's
// method-decorator marker (spec.md §4.5, "sidecar marker filtering", and
// SPEC_FULL.md §5's decorator-equivalent note): a target may restrict which
// of its methods are callable remotely by implementing this. Without it,
// every exported method or field is reachable.
type RemoteMethodLister interface {
	RemoteMethods() []string
}

// DefaultExecutor walks a Call stack against a fixed target value using
// reflection, exactly as the reference implementation's attribute/method
// walker does: res := target; for each call, res = res.Method(...) or
// res = res.Field.
type DefaultExecutor struct {
	namespace string
	target    interface{}
	allowed   map[string]bool // nil means "everything exported is allowed"
}

// New builds a DefaultExecutor over target for namespace. If target
// implements RemoteMethodLister, only the methods it names are callable.
func New(namespace string, target interface{}) *DefaultExecutor {
	e := &DefaultExecutor{namespace: namespace, target: target}
	if lister, ok := target.(RemoteMethodLister); ok {
		e.allowed = make(map[string]bool)
		for _, name := range lister.RemoteMethods() {
			e.allowed[name] = true
		}
	}
	return e
}

func (e *DefaultExecutor) Namespace() string { return e.namespace }

func (e *DefaultExecutor) CanStream() bool {
	_, ok := e.target.(Streamer)
	return ok
}

func (e *DefaultExecutor) Stream(ctx context.Context, pub Publisher) error {
	streamer, ok := e.target.(Streamer)
	if !ok {
		return fmt.Errorf("executor: %s target does not implement Streamer", e.namespace)
	}
	return streamer.Stream(ctx, pub)
}

func (e *DefaultExecutor) Call(ctx context.Context, stack []wire.Call) (interface{}, error) {
	current := reflect.ValueOf(e.target)
	for _, call := range stack {
		if !e.isAllowed(call.Method) {
			return nil, fmt.Errorf("executor: method %q is not exposed for remote calls", call.Method)
		}
		next, err := step(current, call)
		if err != nil {
			return nil, err
		}
		current = next
	}
	if !current.IsValid() {
		return nil, nil
	}
	return current.Interface(), nil
}

func (e *DefaultExecutor) isAllowed(method string) bool {
	if e.allowed == nil {
		return true
	}
	return e.allowed[method]
}

// step resolves one Call against current, returning the method's result or
// the field's value.
func step(current reflect.Value, call wire.Call) (reflect.Value, error) {
	if !current.IsValid() {
		return reflect.Value{}, fmt.Errorf("executor: %q called on a nil result", call.Method)
	}

	method := current.MethodByName(call.Method)
	if method.IsValid() {
		return invoke(method, call)
	}

	field := dereference(current).FieldByName(call.Method)
	if field.IsValid() {
		return field, nil
	}

	return reflect.Value{}, fmt.Errorf("executor: no method or field %q on %s", call.Method, current.Type())
}

func dereference(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}

func invoke(method reflect.Value, call wire.Call) (reflect.Value, error) {
	mtype := method.Type()

	// A single map[string]interface{} parameter is the Go convention for
	// carrying a Call's Named (keyword) arguments; anything else binds
	// positionally.
	if mtype.NumIn() == 1 && mtype.In(0) == reflect.TypeOf(map[string]interface{}{}) && len(call.Named) > 0 {
		results := method.Call([]reflect.Value{reflect.ValueOf(call.Named)})
		return firstResult(results)
	}

	if mtype.IsVariadic() {
		// Variadic calls take every positional argument as-is.
		args := make([]reflect.Value, len(call.Positional))
		for i, a := range call.Positional {
			args[i] = reflect.ValueOf(a)
		}
		results := method.Call(args)
		return firstResult(results)
	}

	if mtype.NumIn() != len(call.Positional) {
		return reflect.Value{}, fmt.Errorf(
			"executor: %s expects %d argument(s), got %d", call.Method, mtype.NumIn(), len(call.Positional))
	}

	args := make([]reflect.Value, len(call.Positional))
	for i, a := range call.Positional {
		arg, err := convertArg(a, mtype.In(i))
		if err != nil {
			return reflect.Value{}, fmt.Errorf("executor: %s argument %d: %w", call.Method, i, err)
		}
		args[i] = arg
	}
	results := method.Call(args)
	return firstResult(results)
}

// firstResult returns the method's first return value (its result), or an
// error built from its second return value if the method's signature ends
// in error and that error is non-nil.
func firstResult(results []reflect.Value) (reflect.Value, error) {
	if len(results) == 0 {
		return reflect.Value{}, nil
	}
	last := results[len(results)-1]
	if err, ok := last.Interface().(error); ok {
		if err != nil {
			return reflect.Value{}, err
		}
		if len(results) == 1 {
			return reflect.Value{}, nil
		}
		return results[0], nil
	}
	return results[0], nil
}

// convertArg coerces a decoded msgpack value (typically float64, string,
// bool, []interface{}, or map[string]interface{}) to the method
// parameter's static type.
func convertArg(v interface{}, want reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(want) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(want) {
		return rv.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", rv.Type(), want)
}

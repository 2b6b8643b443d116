// Package rpcerr defines the error kinds raised or carried across the
// client/server boundary of the RPC framework. Kinds that cross the wire
// (as a Failure's class_name) are distinguished from kinds that are only
// ever raised locally.
package rpcerr

import "fmt"

// Kind identifies one of the well-known error kinds from the design. A
// Failure's class_name is matched against these names to decide whether
// the client can reconstruct a typed error or must fall back to
// WrappedFailure.
type Kind string

const (
	KindUnknownNamespace  Kind = "UnknownNamespace"
	KindNamespaceCollision Kind = "NamespaceCollision"
	KindTimeout           Kind = "Timeout"
	KindNotDelivered      Kind = "NotDelivered"
	KindSubscriptionClosed Kind = "SubscriptionClosed"
	KindUnknownType       Kind = "UnknownType"
	KindUnknownExtType    Kind = "UnknownExtType"
	KindUnknownRecord     Kind = "UnknownRecord"

	// Well-known built-in error kinds the client can reconstruct from a
	// Failure without falling back to WrappedFailure (spec.md §9).
	KindKeyError     Kind = "KeyError"
	KindTypeError    Kind = "TypeError"
	KindValueError   Kind = "ValueError"
	KindRuntimeError Kind = "RuntimeError"
)

// builtinKinds is the set of class names the client reconstructs directly
// rather than wrapping in a WrappedFailure.
var builtinKinds = map[Kind]bool{
	KindKeyError:     true,
	KindTypeError:    true,
	KindValueError:   true,
	KindRuntimeError: true,
}

// IsBuiltin reports whether name names one of the well-known built-in error
// kinds the client knows how to reconstruct.
func IsBuiltin(name string) bool {
	return builtinKinds[Kind(name)]
}

// ClassNamer lets a custom error type name itself in a Failure's class_name
// instead of falling back to its Go type name.
type ClassNamer interface {
	ClassName() string
}

// RPCError is the concrete error type raised for each Kind. Args mirrors a
// Failure's positional argument sequence so the client can re-surface the
// same arguments the server observed.
type RPCError struct {
	Kind Kind
	Args []interface{}
}

func New(kind Kind, args ...interface{}) *RPCError {
	return &RPCError{Kind: kind, Args: args}
}

func (e *RPCError) Error() string {
	if len(e.Args) == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s%v", e.Kind, e.Args)
}

// Is allows errors.Is(err, rpcerr.New(KindTimeout)) style comparisons by
// Kind alone, ignoring Args.
func (e *RPCError) Is(target error) bool {
	other, ok := target.(*RPCError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// WrappedFailure is raised by the client when a server-side Failure's
// class_name does not resolve to a well-known built-in kind. It preserves
// the original class name and arguments without attempting reconstruction.
type WrappedFailure struct {
	ClassName string
	Args      []interface{}
}

func (e *WrappedFailure) Error() string {
	return fmt.Sprintf("WrappedFailure(%s, %v)", e.ClassName, e.Args)
}

// NamespaceCollision is raised locally on the server by a duplicate
// Register call for the same namespace.
type NamespaceCollision struct {
	Namespace string
}

func (e *NamespaceCollision) Error() string {
	return fmt.Sprintf("NamespaceCollision: namespace %q already registered", e.Namespace)
}

// ValidationError reports a malformed envelope, following the teacher's
// small-struct error convention.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Package server implements the dispatch half of the RPC framework
// (spec.md §4.3, §4.4): an inbound FIFO queue fed by the Transport's
// subscribe loop, a namespace-keyed executor registry, and the publisher
// lifecycle backing streaming subscriptions.
package server

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/tenzoki/pubsubrpc/executor"
	"github.com/tenzoki/pubsubrpc/rpcerr"
	"github.com/tenzoki/pubsubrpc/supervisor"
	"github.com/tenzoki/pubsubrpc/transport"
	"github.com/tenzoki/pubsubrpc/wire"
)

type queueItem struct {
	envelope interface{}
	topic    string
}

// Server dispatches Requests and SubscribeRequests arriving over a
// Transport to registered namespace executors.
type Server struct {
	transport transport.Transport
	debug     bool

	mu         sync.RWMutex
	registry   map[string]executor.Dispatcher
	publishers map[string]*Publisher

	queue chan queueItem
}

// New returns a Server bound to t. Call Serve to start processing.
func New(t transport.Transport) *Server {
	return &Server{
		transport:  t,
		registry:   make(map[string]executor.Dispatcher),
		publishers: make(map[string]*Publisher),
		queue:      make(chan queueItem, 256),
	}
}

// SetDebug toggles verbose per-envelope tracing, mirroring BaseAgent.Debug
// in the agent framework this package is adapted from.
func (s *Server) SetDebug(debug bool) { s.debug = debug }

// Register binds dispatcher under namespace. Registration is one-shot: a
// second Register call for the same namespace returns NamespaceCollision
// (spec.md §4.3).
func (s *Server) Register(namespace string, dispatcher executor.Dispatcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.registry[namespace]; exists {
		return &rpcerr.NamespaceCollision{Namespace: namespace}
	}
	s.registry[namespace] = dispatcher
	return nil
}

// Serve runs the subscribe loop and the dispatch loop under the spec.md
// §4.7 supervisor rule until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.transport.DoSubscribe(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	supervisor.Run(ctx, "server",
		func(ctx context.Context) error {
			return s.transport.Subscribe(ctx, func(envelope interface{}, topic string) {
				select {
				case s.queue <- queueItem{envelope: envelope, topic: topic}:
				case <-ctx.Done():
				}
			})
		},
		func(ctx context.Context) error {
			return s.processQueue(ctx)
		},
	)
	return ctx.Err()
}

func (s *Server) processQueue(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-s.queue:
			if !ok {
				return nil
			}
			s.dispatch(ctx, item.envelope)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, envelope interface{}) {
	switch env := envelope.(type) {
	case *wire.Request:
		s.handleRequest(ctx, env)
	case *wire.SubscribeRequest:
		s.handleSubscribe(ctx, env)
	case *wire.UnsubscribeRequest:
		s.handleUnsubscribe(env)
	default:
		if s.debug {
			log.Printf("[server] ignoring unexpected envelope %T", envelope)
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req *wire.Request) {
	dispatcher, ok := s.lookup(req.Namespace)
	if !ok {
		s.replyFailure(ctx, req.UID, req.Namespace, req.ReplyTo, string(rpcerr.KindUnknownNamespace), req.Namespace)
		return
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout*float64(time.Second)))
		defer cancel()
	}

	type outcome struct {
		data interface{}
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := s.invokeDispatcher(callCtx, dispatcher, req.Stack)
		done <- outcome{data: data, err: err}
	}()

	// dispatcher.Call runs on its own goroutine so an executor method that
	// ignores ctx (spec.md §4.3/§5: the server itself enforces the
	// timeout) cannot stall the dispatch queue for every other pending
	// request; a call that never returns after callCtx.Done() simply
	// leaks its goroutine rather than blocking processQueue.
	select {
	case <-callCtx.Done():
		s.replyFailure(ctx, req.UID, req.Namespace, req.ReplyTo, string(rpcerr.KindTimeout))
	case out := <-done:
		if out.err != nil {
			s.replyError(ctx, req.UID, req.Namespace, req.ReplyTo, out.err)
			return
		}
		result := &wire.Result{UID: req.UID, Namespace: req.Namespace, Data: out.data}
		if _, err := s.transport.Publish(ctx, result, req.ReplyTo); err != nil {
			log.Printf("[server] failed to publish result for %s: %v", req.UID, err)
		}
	}
}

// invokeDispatcher calls dispatcher.Call, converting a panic into an error
// instead of crashing the process: a Request that raises is reported as a
// Failure on its own reply_to and the dispatch loop continues (spec.md
// §4.3), which must hold whether the executor method returns an error or
// panics.
func (s *Server) invokeDispatcher(ctx context.Context, dispatcher executor.Dispatcher, stack []wire.Call) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return dispatcher.Call(ctx, stack)
}

func (s *Server) handleSubscribe(ctx context.Context, req *wire.SubscribeRequest) {
	dispatcher, ok := s.lookup(req.Namespace)
	if !ok {
		s.replyFailure(ctx, req.UID, req.Namespace, req.ReplyTo, string(rpcerr.KindUnknownNamespace), req.Namespace)
		return
	}
	if !dispatcher.CanStream() {
		s.replyFailure(ctx, req.UID, req.Namespace, req.ReplyTo, "NotImplemented", req.Namespace)
		return
	}

	pub := newPublisher(req.UID, req.Namespace, req.ReplyTo, s.transport, func() {
		s.mu.Lock()
		delete(s.publishers, req.UID)
		s.mu.Unlock()
	})
	s.mu.Lock()
	s.publishers[req.UID] = pub
	s.mu.Unlock()

	go func() {
		defer pub.SetInactive()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[server] stream %s/%s panicked: %v", req.Namespace, req.UID, r)
				s.replyError(ctx, req.UID, req.Namespace, req.ReplyTo, fmt.Errorf("panic: %v", r))
			}
		}()
		if err := dispatcher.Stream(ctx, pub); err != nil && s.debug {
			log.Printf("[server] stream %s/%s ended with error: %v", req.Namespace, req.UID, err)
		}
	}()
}

func (s *Server) handleUnsubscribe(req *wire.UnsubscribeRequest) {
	s.mu.Lock()
	pub, ok := s.publishers[req.UID]
	delete(s.publishers, req.UID)
	s.mu.Unlock()
	if ok {
		pub.SetInactive()
	}
}

func (s *Server) lookup(namespace string) (executor.Dispatcher, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.registry[namespace]
	return d, ok
}

func (s *Server) replyError(ctx context.Context, uid, namespace, replyTo string, err error) {
	className, args := classify(err)
	s.replyFailure(ctx, uid, namespace, replyTo, className, args...)
}

func (s *Server) replyFailure(ctx context.Context, uid, namespace, replyTo string, className string, args ...interface{}) {
	f := &wire.Failure{UID: uid, Namespace: namespace, ClassName: className, Args: args}
	if _, err := s.transport.Publish(ctx, f, replyTo); err != nil {
		log.Printf("[server] failed to publish failure for %s: %v", uid, err)
	}
}

// classify turns a Go error into the (class_name, args) pair a Failure
// carries: errors raised by this codebase keep their rpcerr.Kind; a type
// implementing rpcerr.ClassNamer controls its own reported name; anything
// else reports its concrete Go type name, mirroring the original
// implementation's except Exception as e: RPCException(classname=
// e.__class__.__name__, ...) (spec.md §8 scenario 4, §9's error-class
// round-trip note) instead of collapsing every unrecognized error to the
// same catch-all name.
func classify(err error) (string, []interface{}) {
	if rpcErr, ok := err.(*rpcerr.RPCError); ok {
		return string(rpcErr.Kind), rpcErr.Args
	}
	if namer, ok := err.(rpcerr.ClassNamer); ok {
		return namer.ClassName(), []interface{}{err.Error()}
	}
	return errorClassName(err), []interface{}{err.Error()}
}

// errorClassName extracts the concrete Go type name backing err, dereferencing
// any pointer indirection, falling back to RuntimeError only for the
// vanishingly rare anonymous or unnamed error type.
func errorClassName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return t.Name()
	}
	return string(rpcerr.KindRuntimeError)
}

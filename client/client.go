// Package client implements the calling half of the RPC framework (spec.md
// §4.6): request/response correlation by uid, served and one-shot call
// modes, and the live-subscription table backing SubscribeCall.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenzoki/pubsubrpc/rpcerr"
	"github.com/tenzoki/pubsubrpc/supervisor"
	"github.com/tenzoki/pubsubrpc/transport"
	"github.com/tenzoki/pubsubrpc/wire"
)

type pendingEntry struct {
	ch chan interface{} // receives *wire.Result or *wire.Failure, buffered 1
}

// Client issues Requests and SubscribeRequests over a Transport and
// correlates the resulting Results/Failures/DataPoints back to their
// caller by uid.
type Client struct {
	transport     transport.Transport
	outboundTopic string
	debug         bool

	mu            sync.Mutex
	served        bool
	subscribed    bool
	oneShotDone   chan struct{}
	queue         chan interface{} // served mode only
	pending       map[string]*pendingEntry
	subscriptions map[string]*Subscription
	noticeHandler func(namespace string, data interface{})
}

// New returns a Client that publishes Requests on outboundTopic (the
// server's well-known inbound topic) and replies on whatever topic
// t.DoSubscribe binds.
func New(t transport.Transport, outboundTopic string) *Client {
	return &Client{
		transport:     t,
		outboundTopic: outboundTopic,
		queue:         make(chan interface{}, 256),
		pending:       make(map[string]*pendingEntry),
		subscriptions: make(map[string]*Subscription),
	}
}

func (c *Client) SetDebug(debug bool) { c.debug = debug }

// OnNotice registers a callback invoked for every Notice the server pushes,
// the free-form push spec.md §4.6 ties to no pending call or subscription.
// Passing nil clears the callback.
func (c *Client) OnNotice(handler func(namespace string, data interface{})) {
	c.mu.Lock()
	c.noticeHandler = handler
	c.mu.Unlock()
}

// Serve puts the client in served mode: a persistent subscribe loop and
// process loop run under the spec.md §4.7 supervisor until ctx is
// cancelled, so Call/SubscribeCall can be invoked concurrently from many
// goroutines without each paying the one-shot subscribe/unsubscribe cost.
func (c *Client) Serve(ctx context.Context) error {
	c.mu.Lock()
	c.served = true
	c.subscribed = true
	c.mu.Unlock()

	if err := c.transport.DoSubscribe(ctx); err != nil {
		return fmt.Errorf("client: %w", err)
	}

	supervisor.Run(ctx, "client",
		func(ctx context.Context) error {
			return c.transport.Subscribe(ctx, func(envelope interface{}, topic string) {
				select {
				case c.queue <- envelope:
				case <-ctx.Done():
				}
			})
		},
		func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case envelope, ok := <-c.queue:
					if !ok {
						return nil
					}
					c.route(envelope)
				}
			}
		},
	)
	return ctx.Err()
}

// ensureSubscribed lazily binds the reply topic for one-shot mode: a
// private subscribe loop runs only for the duration of the in-flight call
// and is torn down by teardownOneShot once it completes.
func (c *Client) ensureSubscribed(ctx context.Context) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = true
	done := make(chan struct{})
	c.oneShotDone = done
	c.mu.Unlock()

	if err := c.transport.DoSubscribe(ctx); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	go func() {
		defer close(done)
		_ = c.transport.Subscribe(ctx, func(envelope interface{}, topic string) {
			c.route(envelope)
		})
	}()
	return nil
}

func (c *Client) teardownOneShot() {
	c.mu.Lock()
	if c.served || !c.subscribed {
		c.mu.Unlock()
		return
	}
	c.subscribed = false
	done := c.oneShotDone
	c.mu.Unlock()

	_ = c.transport.Unsubscribe()
	if done != nil {
		<-done
	}
}

// Call publishes req, asserts at least one subscriber received it (else
// NotDelivered), and waits for the correlated Result/Failure or the
// request's own timeout, whichever comes first (spec.md §4.6).
func (c *Client) Call(ctx context.Context, req *wire.Request) (interface{}, error) {
	if req.UID == "" {
		req.UID = uuid.NewString()
	}
	if err := c.ensureSubscribed(ctx); err != nil {
		return nil, err
	}

	entry := &pendingEntry{ch: make(chan interface{}, 1)}
	c.mu.Lock()
	c.pending[req.UID] = entry
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.UID)
		c.mu.Unlock()
		if !c.served {
			c.teardownOneShot()
		}
	}()

	n, err := c.transport.Publish(ctx, req, c.outboundTopic)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if n == 0 {
		return nil, rpcerr.New(rpcerr.KindNotDelivered)
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout*float64(time.Second)))
		defer cancel()
	}

	select {
	case <-callCtx.Done():
		return nil, rpcerr.New(rpcerr.KindTimeout)
	case reply := <-entry.ch:
		switch v := reply.(type) {
		case *wire.Result:
			return v.Data, nil
		case *wire.Failure:
			return nil, failureToError(v)
		default:
			return nil, fmt.Errorf("client: unexpected reply type %T", reply)
		}
	}
}

// SubscribeCall publishes req and, once at least one subscriber is
// confirmed, returns a live Subscription delivering DataPoints as they
// arrive. Requires served mode (spec.md §4.6).
func (c *Client) SubscribeCall(ctx context.Context, req *wire.SubscribeRequest) (*Subscription, error) {
	c.mu.Lock()
	served := c.served
	c.mu.Unlock()
	if !served {
		return nil, fmt.Errorf("client: SubscribeCall requires Serve to be running")
	}
	if req.UID == "" {
		req.UID = uuid.NewString()
	}

	sub := newSubscription(req.UID, req.Namespace, c)
	c.mu.Lock()
	c.subscriptions[req.UID] = sub
	c.mu.Unlock()

	n, err := c.transport.Publish(ctx, req, c.outboundTopic)
	if err != nil {
		c.removeSubscription(req.UID)
		return nil, fmt.Errorf("client: %w", err)
	}
	if n == 0 {
		c.removeSubscription(req.UID)
		return nil, rpcerr.New(rpcerr.KindNotDelivered)
	}
	return sub, nil
}

func (c *Client) removeSubscription(uid string) {
	c.mu.Lock()
	delete(c.subscriptions, uid)
	c.mu.Unlock()
}

// route delivers one decoded envelope to its pending call or live
// subscription. An envelope whose uid matches neither is silently
// dropped - spec.md §9 leaves this case implementation-defined.
func (c *Client) route(envelope interface{}) {
	switch env := envelope.(type) {
	case *wire.Result:
		c.deliverPending(env.UID, env)

	case *wire.Failure:
		c.mu.Lock()
		sub, isSub := c.subscriptions[env.UID]
		if isSub {
			delete(c.subscriptions, env.UID)
		}
		c.mu.Unlock()
		if isSub {
			sub.terminate(failureToError(env))
			return
		}
		c.deliverPending(env.UID, env)

	case *wire.DataPoint:
		c.mu.Lock()
		sub, ok := c.subscriptions[env.UID]
		c.mu.Unlock()
		if ok {
			sub.push(env.Data)
		}

	case *wire.Notice:
		c.mu.Lock()
		handler := c.noticeHandler
		c.mu.Unlock()
		if handler != nil {
			handler(env.Namespace, env.Data)
		}
	}
}

func (c *Client) deliverPending(uid string, value interface{}) {
	c.mu.Lock()
	entry, ok := c.pending[uid]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case entry.ch <- value:
	default:
	}
}

// failureToError reconstructs a typed rpcerr.RPCError for well-known
// built-in kinds, falling back to WrappedFailure for anything else
// (spec.md §9's error-class round-trip note).
func failureToError(f *wire.Failure) error {
	if rpcerr.IsBuiltin(f.ClassName) {
		return rpcerr.New(rpcerr.Kind(f.ClassName), f.Args...)
	}
	switch rpcerr.Kind(f.ClassName) {
	case rpcerr.KindUnknownNamespace, rpcerr.KindNamespaceCollision, rpcerr.KindTimeout,
		rpcerr.KindNotDelivered, rpcerr.KindSubscriptionClosed, rpcerr.KindUnknownType,
		rpcerr.KindUnknownExtType, rpcerr.KindUnknownRecord:
		return rpcerr.New(rpcerr.Kind(f.ClassName), f.Args...)
	}
	return &rpcerr.WrappedFailure{ClassName: f.ClassName, Args: f.Args}
}

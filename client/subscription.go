package client

import (
	"context"
	"io"
	"sync"

	"github.com/tenzoki/pubsubrpc/rpcerr"
	"github.com/tenzoki/pubsubrpc/wire"
)

type streamItem struct {
	value interface{}
	err   error // set only on the terminal item
}

// Subscription is the client-side half of a streaming call (spec.md
// §3's Subscription lifecycle): it exists from SubscribeCall until Close
// or a server Failure. A server-side stream that returns without a Failure
// sends nothing to the client, so it does not end the Subscription.
type Subscription struct {
	uid       string
	namespace string
	client    *Client

	items     chan streamItem
	closeOnce sync.Once
}

func newSubscription(uid, namespace string, c *Client) *Subscription {
	return &Subscription{
		uid:       uid,
		namespace: namespace,
		client:    c,
		items:     make(chan streamItem, 64),
	}
}

func (s *Subscription) push(value interface{}) {
	s.items <- streamItem{value: value}
}

// terminate queues one terminal item carrying err (io.EOF if nil) behind
// any values already queued; the Next call that reads it returns err. Each
// call queues its own terminal item, and a Next issued after the last
// terminal item was read blocks until its ctx is done.
func (s *Subscription) terminate(err error) {
	if err == nil {
		err = io.EOF
	}
	select {
	case s.items <- streamItem{err: err}:
	default:
		go func() { s.items <- streamItem{err: err} }()
	}
}

// Next blocks until the next DataPoint value arrives, or returns the
// subscription's terminal error: rpcerr.SubscriptionClosed after Close, or
// the reconstructed error from a server Failure.
func (s *Subscription) Next(ctx context.Context) (interface{}, error) {
	select {
	case item := <-s.items:
		if item.err != nil {
			return nil, item.err
		}
		return item.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the subscription down: publishes an UnsubscribeRequest,
// removes it from the client's table, discards any DataPoints still
// queued, and unblocks any Next in progress with SubscriptionClosed.
// Idempotent.
func (s *Subscription) Close(ctx context.Context) error {
	var publishErr error
	s.closeOnce.Do(func() {
		s.client.removeSubscription(s.uid)
		req := &wire.UnsubscribeRequest{UID: s.uid, Namespace: s.namespace}
		_, publishErr = s.client.transport.Publish(ctx, req, s.client.outboundTopic)
		for drained := false; !drained; {
			select {
			case <-s.items:
			default:
				drained = true
			}
		}
		s.terminate(rpcerr.New(rpcerr.KindSubscriptionClosed))
	})
	return publishErr
}

package server

import (
	"context"
	"sync"

	"github.com/tenzoki/pubsubrpc/transport"
	"github.com/tenzoki/pubsubrpc/wire"
)

// Publisher is the server-side half of a streaming subscription (spec.md
// §4.4): it wraps one caller's reply address and tracks whether that
// caller is still listening. A streaming executor calls Publish for every
// frame it wants to emit and is expected to stop once Active reports
// false.
type Publisher struct {
	uid       string
	namespace string
	replyTo   string
	transport transport.Transport

	mu         sync.Mutex
	active     bool
	onInactive func()
}

func newPublisher(uid, namespace, replyTo string, t transport.Transport, onInactive func()) *Publisher {
	return &Publisher{
		uid:        uid,
		namespace:  namespace,
		replyTo:    replyTo,
		transport:  t,
		active:     true,
		onInactive: onInactive,
	}
}

// Active reports whether this Publisher still has a listening subscriber.
func (p *Publisher) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// SetInactive idempotently marks this Publisher dead, per spec.md §4.4.
func (p *Publisher) SetInactive() {
	p.mu.Lock()
	already := !p.active
	p.active = false
	p.mu.Unlock()
	if !already && p.onInactive != nil {
		p.onInactive()
	}
}

// Publish wraps value in a DataPoint and publishes it on the caller's
// reply address. If the Publisher is already inactive it returns 0
// immediately without touching the Transport. If the publish reaches zero
// subscribers - the caller is gone - the Publisher marks itself inactive
// before returning, so the caller's next Active() check (or the next
// Publish call) sees the change.
func (p *Publisher) Publish(ctx context.Context, value interface{}) (int, error) {
	if !p.Active() {
		return 0, nil
	}
	dp := &wire.DataPoint{UID: p.uid, Namespace: p.namespace, Data: value}
	n, err := p.transport.Publish(ctx, dp, p.replyTo)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		p.SetInactive()
	}
	return n, nil
}

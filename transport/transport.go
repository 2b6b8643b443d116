// Package transport implements the Transport contract of spec.md §4.2 over
// Redis: topic-addressed publish returning a subscriber count, a blocking
// subscribe loop delivering decoded envelopes to a callback, reply-address
// rewriting, and a large-payload sideband through the kv package. Redis is
// the reference broker because one client serves both the PUBSUB path and
// the KV path, exactly as spec.md §4.2's "key/value broker with PUBSUB"
// note describes and as the original implementation's redis commlayer
// does.
package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tenzoki/pubsubrpc/codec"
	"github.com/tenzoki/pubsubrpc/kv"
	"github.com/tenzoki/pubsubrpc/wire"
)

// SidebandThreshold is the default byte size above which Publish routes a
// Result/DataPoint's data through the KV sideband instead of inlining it.
const SidebandThreshold = 64 * 1024

// EventHandler receives one decoded envelope as it arrives off the bound
// reply topic, along with the topic it arrived on.
type EventHandler func(envelope interface{}, topic string)

// Transport is the contract both client and server code against; see
// spec.md §4.2. Implementations must be safe for one subscribe loop
// running concurrently with Publish calls from other goroutines.
type Transport interface {
	// DoSubscribe idempotently binds to the reply topic. Must complete
	// before any Publish that expects a reply.
	DoSubscribe(ctx context.Context) error

	// Publish encodes envelope and hands it to the broker on topic,
	// returning the number of subscribers that received it. If envelope
	// is Addressable, its reply-to field is rewritten to this Transport's
	// bound reply topic first.
	Publish(ctx context.Context, envelope interface{}, topic string) (int, error)

	// Subscribe blocks, decoding envelopes off the bound reply topic and
	// invoking onEvent for each, until Unsubscribe is called or ctx is
	// cancelled.
	Subscribe(ctx context.Context, onEvent EventHandler) error

	// Unsubscribe idempotently stops the Subscribe loop.
	Unsubscribe() error

	// Close unsubscribes and releases broker handles owned by this
	// Transport (not the shared *redis.Client, which the caller owns).
	Close() error

	// Serialization returns the Codec bound to this Transport.
	Serialization() *codec.Codec

	// ReplyTopic returns the topic this Transport is (or will be) bound to.
	ReplyTopic() string
}

// RedisTransport is the reference Transport implementation.
type RedisTransport struct {
	client     *redis.Client
	codec      *codec.Codec
	kv         kv.Store
	replyTopic string
	threshold  int

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// New returns a RedisTransport bound to replyTopic, publishing through
// client and spilling oversized payloads into store.
func New(client *redis.Client, c *codec.Codec, store kv.Store, replyTopic string) *RedisTransport {
	return &RedisTransport{
		client:     client,
		codec:      c,
		kv:         store,
		replyTopic: replyTopic,
		threshold:  SidebandThreshold,
	}
}

func (t *RedisTransport) Serialization() *codec.Codec { return t.codec }
func (t *RedisTransport) ReplyTopic() string          { return t.replyTopic }

func (t *RedisTransport) DoSubscribe(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub != nil {
		return nil
	}
	ps := t.client.Subscribe(ctx, t.replyTopic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("transport: subscribe %s: %w", t.replyTopic, err)
	}
	t.pubsub = ps
	return nil
}

func (t *RedisTransport) Publish(ctx context.Context, envelope interface{}, topic string) (int, error) {
	if addr, ok := envelope.(wire.Addressable); ok {
		addr.SetReplyTo(t.replyTopic)
	}
	if err := t.offloadSideband(ctx, envelope); err != nil {
		return 0, err
	}

	rec, ok := envelope.(codec.Recordable)
	if !ok {
		return 0, fmt.Errorf("transport: %T is not a recordable envelope", envelope)
	}
	payload, err := t.codec.Encode(rec, true)
	if err != nil {
		return 0, fmt.Errorf("transport: encode: %w", err)
	}

	n, err := t.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("transport: publish %s: %w", topic, err)
	}
	return int(n), nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, onEvent EventHandler) error {
	t.mu.Lock()
	ps := t.pubsub
	t.mu.Unlock()
	if ps == nil {
		return fmt.Errorf("transport: Subscribe called before DoSubscribe")
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			decoded, err := t.codec.Decode([]byte(msg.Payload), true)
			if err != nil {
				log.Printf("[transport] dropping undecodable message on %s: %v", msg.Channel, err)
				continue
			}
			if err := t.inlineSideband(ctx, decoded); err != nil {
				log.Printf("[transport] sideband fetch failed on %s: %v", msg.Channel, err)
				continue
			}
			onEvent(decoded, msg.Channel)
		}
	}
}

func (t *RedisTransport) Unsubscribe() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub == nil {
		return nil
	}
	err := t.pubsub.Close()
	t.pubsub = nil
	return err
}

func (t *RedisTransport) Close() error {
	return t.Unsubscribe()
}

// dataPointer returns the address of envelope's data field if it carries
// one subject to sideband rewriting (Result and DataPoint, per spec.md
// §4.2's "large-payload sideband" note - Failure/Notice/requests never
// carry a sideband-eligible payload in this design).
func dataPointer(envelope interface{}) (*interface{}, bool) {
	switch v := envelope.(type) {
	case *wire.Result:
		return &v.Data, true
	case *wire.DataPoint:
		return &v.Data, true
	}
	return nil, false
}

func (t *RedisTransport) offloadSideband(ctx context.Context, envelope interface{}) error {
	dataPtr, ok := dataPointer(envelope)
	if !ok || *dataPtr == nil {
		return nil
	}
	encoded, err := t.codec.Encode(*dataPtr, false)
	if err != nil {
		return fmt.Errorf("transport: encode sideband candidate: %w", err)
	}
	if len(encoded) <= t.threshold {
		return nil
	}
	key, err := t.kv.Put(ctx, encoded, kv.MinTTL)
	if err != nil {
		return fmt.Errorf("transport: sideband put: %w", err)
	}
	*dataPtr = map[string]interface{}{"kv_key": key}
	return nil
}

func (t *RedisTransport) inlineSideband(ctx context.Context, envelope interface{}) error {
	dataPtr, ok := dataPointer(envelope)
	if !ok {
		return nil
	}
	m, ok := (*dataPtr).(map[string]interface{})
	if !ok || len(m) != 1 {
		return nil
	}
	key, ok := m["kv_key"].(string)
	if !ok {
		return nil
	}
	raw, err := t.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("transport: sideband get %s: %w", key, err)
	}
	value, err := t.codec.Decode(raw, false)
	if err != nil {
		return fmt.Errorf("transport: decode sideband value: %w", err)
	}
	*dataPtr = value
	return nil
}

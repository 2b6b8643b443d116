package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/pubsubrpc/codec"
	"github.com/tenzoki/pubsubrpc/kv"
	"github.com/tenzoki/pubsubrpc/wire"
)

func newTestTransport(t *testing.T, replyTopic string) *RedisTransport {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := codec.New()
	wire.RegisterTypes(c)
	store := kv.NewRedisStore(client, "sideband:")
	return New(client, c, store, replyTopic)
}

func TestPublishRewritesReplyTo(t *testing.T) {
	ctx := context.Background()
	sender := newTestTransport(t, "reply:sender")
	require.NoError(t, sender.DoSubscribe(ctx))
	defer sender.Close()

	req := &wire.Request{Namespace: "TEST", Stack: []wire.Call{{Method: "Ping"}}}
	_, err := sender.Publish(ctx, req, "requests")
	require.NoError(t, err)
	require.Equal(t, "reply:sender", req.ReplyTo)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := codec.New()
	wire.RegisterTypes(c)
	store := kv.NewRedisStore(client, "sideband:")

	server := New(client, c, store, "reply:server")
	clientSide := New(client, c, store, "reply:client")

	require.NoError(t, clientSide.DoSubscribe(ctx))

	received := make(chan interface{}, 1)
	go func() {
		_ = clientSide.Subscribe(ctx, func(envelope interface{}, topic string) {
			received <- envelope
		})
	}()
	time.Sleep(50 * time.Millisecond)

	result := &wire.Result{UID: "abc", Namespace: "TEST", Data: "pong"}
	n, err := server.Publish(ctx, result, "reply:client")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case env := <-received:
		res, ok := env.(*wire.Result)
		require.True(t, ok)
		require.Equal(t, "pong", res.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestOffloadAndInlineSideband(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t, "reply:big")
	tr.threshold = 8 // force the sideband path for a small payload

	big := strings.Repeat("x", 64)
	result := &wire.Result{UID: "abc", Namespace: "TEST", Data: big}

	require.NoError(t, tr.offloadSideband(ctx, result))
	m, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, m, "kv_key")

	require.NoError(t, tr.inlineSideband(ctx, result))
	require.Equal(t, big, result.Data)
}

func TestOffloadSkipsSmallPayloads(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t, "reply:small")

	result := &wire.Result{UID: "abc", Namespace: "TEST", Data: "tiny"}
	require.NoError(t, tr.offloadSideband(ctx, result))
	require.Equal(t, "tiny", result.Data)
}

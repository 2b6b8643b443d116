// Command rpc-demo-client drives the TEST namespace exposed by
// rpc-demo-server through a simple call, a chained call, and a streaming
// subscription with cancel, mirroring original_source/examples/basic/client.py
// and spec.md §8 scenarios 1, 2, and 5.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tenzoki/pubsubrpc/client"
	"github.com/tenzoki/pubsubrpc/codec"
	"github.com/tenzoki/pubsubrpc/config"
	"github.com/tenzoki/pubsubrpc/kv"
	"github.com/tenzoki/pubsubrpc/transport"
	"github.com/tenzoki/pubsubrpc/wire"
)

// item mirrors the server's Item record so the client can decode a
// GetItem result without importing the server's main package.
type item struct {
	Key   string
	Value interface{}
}

func (i *item) RecordName() string { return "Item" }

func (i *item) ToFields() map[string]interface{} {
	return map[string]interface{}{"key": i.Key, "value": i.Value}
}

func (i *item) FromFields(f map[string]interface{}) error {
	i.Key, _ = f["key"].(string)
	i.Value = f["value"]
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	outboundTopic := flag.String("outbound-topic", "rpc:requests", "the server's inbound topic")
	flag.Parse()

	cfg := config.FromEnv()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[rpc-demo-client] %v", err)
		}
		cfg = loaded
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Broker.Address,
		Password: cfg.Broker.Password,
		DB:       cfg.Broker.DB,
	})

	c := codec.New()
	wire.RegisterTypes(c)
	c.RegisterRecord("Item", func() codec.Recordable { return &item{} })
	store := kv.NewRedisStore(redisClient, cfg.KVKeyPrefix)

	replyTopic := "rpc:reply:" + uuid.NewString()
	t := transport.New(redisClient, c, store, replyTopic)

	rpcClient := client.New(t, *outboundTopic)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := rpcClient.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[rpc-demo-client] serve ended: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond) // let Serve bind before the first call

	simpleCall(ctx, rpcClient)
	chainedCall(ctx, rpcClient)
	getItemCall(ctx, rpcClient)
	streamingWithCancel(ctx, rpcClient)
}

func getItemCall(ctx context.Context, c *client.Client) {
	req := &wire.Request{
		Namespace: "TEST",
		Timeout:   30,
		Stack: []wire.Call{
			{Method: "GetItem", Positional: []interface{}{"answer"}},
		},
	}
	result, err := c.Call(ctx, req)
	if err != nil {
		log.Fatalf("[rpc-demo-client] get item call: %v", err)
	}
	got, ok := result.(*item)
	if !ok {
		log.Fatalf("[rpc-demo-client] expected *item, got %T", result)
	}
	log.Printf("[rpc-demo-client] GetItem(%q) = %v", got.Key, got.Value)
}

func simpleCall(ctx context.Context, c *client.Client) {
	req := &wire.Request{
		Namespace: "TEST",
		Timeout:   30,
		Stack: []wire.Call{
			{Method: "Multiply", Positional: []interface{}{100.0, 100.0}},
		},
	}
	result, err := c.Call(ctx, req)
	if err != nil {
		log.Fatalf("[rpc-demo-client] simple call: %v", err)
	}
	log.Printf("[rpc-demo-client] Multiply(100, 100) = %v", result)
}

func chainedCall(ctx context.Context, c *client.Client) {
	req := &wire.Request{
		Namespace: "TEST",
		Timeout:   30,
		Stack: []wire.Call{
			{Method: "Base"},
			{Method: "Multiply", Positional: []interface{}{2.0}},
		},
	}
	result, err := c.Call(ctx, req)
	if err != nil {
		log.Fatalf("[rpc-demo-client] chained call: %v", err)
	}
	log.Printf("[rpc-demo-client] Base().Multiply(2) = %v", result)
}

func streamingWithCancel(ctx context.Context, c *client.Client) {
	req := &wire.SubscribeRequest{
		Namespace: "TEST",
		Timeout:   30,
		Stack:     []wire.Call{{Method: "Stream"}},
	}
	sub, err := c.SubscribeCall(ctx, req)
	if err != nil {
		log.Fatalf("[rpc-demo-client] subscribe call: %v", err)
	}

	for {
		value, err := sub.Next(ctx)
		if err != nil {
			log.Printf("[rpc-demo-client] stream ended: %v", err)
			return
		}
		log.Printf("[rpc-demo-client] data point: %v", value)
		if n, ok := value.(float64); ok && n > 5 {
			_ = sub.Close(ctx)
			return
		}
	}
}

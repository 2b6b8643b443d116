// Command rpc-demo-server registers a small TEST namespace service and
// serves it over Redis, exercising a simple call, a chained call, and a
// streaming subscription (spec.md §8 scenarios 1, 2, 5), mirroring
// original_source/examples/basic/server.py.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tenzoki/pubsubrpc/codec"
	"github.com/tenzoki/pubsubrpc/config"
	"github.com/tenzoki/pubsubrpc/executor"
	"github.com/tenzoki/pubsubrpc/kv"
	"github.com/tenzoki/pubsubrpc/server"
	"github.com/tenzoki/pubsubrpc/transport"
	"github.com/tenzoki/pubsubrpc/wire"
)

// Item is a user-defined record, the Go-native stand-in for the original
// implementation's examples/dataclass registered model: any type
// implementing codec.Recordable round-trips through Call/Result exactly
// like the framework's own envelopes, once registered by name.
type Item struct {
	Key   string
	Value interface{}
}

func (i *Item) RecordName() string { return "Item" }

func (i *Item) ToFields() map[string]interface{} {
	return map[string]interface{}{"key": i.Key, "value": i.Value}
}

func (i *Item) FromFields(f map[string]interface{}) error {
	i.Key, _ = f["key"].(string)
	i.Value = f["value"]
	return nil
}

// Service is the target object the TEST namespace's DefaultExecutor walks.
// Multiply and GetItem back a plain single-step call; Base returns a Box
// so Base().Multiply(n) demonstrates a chained call over two Call steps;
// Stream backs the streaming-with-cancel scenario.
type Service struct {
	data map[string]interface{}
}

func newService() *Service {
	return &Service{data: map[string]interface{}{"foo": "bar", "answer": 42.0}}
}

func (s *Service) Multiply(x, y float64) float64 { return x * y }

func (s *Service) GetItem(key string) interface{} {
	return &Item{Key: key, Value: s.data[key]}
}

// Box is an intermediate result a chained Call stack can land on, the
// Go-side stand-in for the original implementation's
// node.filter(...).reproject_to(...) style chains.
type Box struct{ Value float64 }

func (b *Box) Multiply(n float64) float64 { return b.Value * n }

func (s *Service) Base() *Box { return &Box{Value: 50} }

// Stream implements executor.Streamer: it counts 0..19, checking pub.Active
// between frames exactly as spec.md §4.4 requires of streaming executors.
func (s *Service) Stream(ctx context.Context, pub executor.Publisher) error {
	for i := 0; i < 20; i++ {
		if !pub.Active() {
			return nil
		}
		if _, err := pub.Publish(ctx, float64(i)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	inboundTopic := flag.String("inbound-topic", "rpc:requests", "topic this server listens for Requests on")
	flag.Parse()

	cfg := config.FromEnv()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[rpc-demo-server] %v", err)
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
	c.RegisterRecord("Item", func() codec.Recordable { return &Item{} })
	store := kv.NewRedisStore(redisClient, cfg.KVKeyPrefix)

	// The server's reply topic is the client's outbound topic in reverse:
	// clients publish on inboundTopic and listen on their own reply
	// topic, so the server only ever needs to subscribe to inboundTopic.
	t := transport.New(redisClient, c, store, *inboundTopic)

	srv := server.New(t)
	srv.SetDebug(cfg.Debug)

	svc := newService()
	if err := srv.Register("TEST", executor.New("TEST", svc)); err != nil {
		log.Fatalf("[rpc-demo-server] register: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("[rpc-demo-server] serving namespace TEST on %s", *inboundTopic)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("[rpc-demo-server] serve: %v", err)
	}
}

package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/pubsubrpc/codec"
	"github.com/tenzoki/pubsubrpc/executor"
	"github.com/tenzoki/pubsubrpc/rpcerr"
	"github.com/tenzoki/pubsubrpc/transport"
	"github.com/tenzoki/pubsubrpc/wire"
)

type published struct {
	envelope interface{}
	topic    string
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []published
	codec     *codec.Codec
	subs      int
}

func newFakeTransport() *fakeTransport {
	c := codec.New()
	wire.RegisterTypes(c)
	return &fakeTransport{codec: c, subs: 1}
}

func (f *fakeTransport) DoSubscribe(ctx context.Context) error { return nil }

func (f *fakeTransport) Publish(ctx context.Context, envelope interface{}, topic string) (int, error) {
	f.mu.Lock()
	f.sent = append(f.sent, published{envelope: envelope, topic: topic})
	f.mu.Unlock()
	return f.subs, nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, onEvent transport.EventHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Unsubscribe() error        { return nil }
func (f *fakeTransport) Close() error              { return nil }
func (f *fakeTransport) Serialization() *codec.Codec { return f.codec }
func (f *fakeTransport) ReplyTopic() string        { return "reply:test" }

func (f *fakeTransport) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeDispatcher struct {
	result       interface{}
	err          error
	canStream    bool
	streamCalled chan struct{}
	block        chan struct{} // if set, Call blocks until closed, ignoring ctx
	panicWith    interface{}   // if set, Call panics with this value instead of returning
}

func (d *fakeDispatcher) Call(ctx context.Context, stack []wire.Call) (interface{}, error) {
	if d.panicWith != nil {
		panic(d.panicWith)
	}
	if d.block != nil {
		<-d.block
	}
	return d.result, d.err
}

func (d *fakeDispatcher) CanStream() bool { return d.canStream }

func (d *fakeDispatcher) Stream(ctx context.Context, pub executor.Publisher) error {
	if d.streamCalled != nil {
		close(d.streamCalled)
	}
	<-ctx.Done()
	return nil
}

func TestRegisterRejectsDuplicateNamespace(t *testing.T) {
	s := New(newFakeTransport())
	require.NoError(t, s.Register("TEST", &fakeDispatcher{}))
	err := s.Register("TEST", &fakeDispatcher{})
	var collision *rpcerr.NamespaceCollision
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "TEST", collision.Namespace)
}

func TestHandleRequestPublishesResult(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("TEST", &fakeDispatcher{result: 42.0}))

	req := &wire.Request{UID: "u1", Namespace: "TEST", ReplyTo: "reply:caller"}
	s.dispatch(context.Background(), req)

	got := tr.last()
	result, ok := got.envelope.(*wire.Result)
	require.True(t, ok)
	assert.Equal(t, 42.0, result.Data)
	assert.Equal(t, "reply:caller", got.topic)
}

func TestHandleRequestUnknownNamespace(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)

	req := &wire.Request{UID: "u1", Namespace: "GHOST", ReplyTo: "reply:caller"}
	s.dispatch(context.Background(), req)

	got := tr.last()
	failure, ok := got.envelope.(*wire.Failure)
	require.True(t, ok)
	assert.Equal(t, string(rpcerr.KindUnknownNamespace), failure.ClassName)
}

func TestHandleRequestDispatcherError(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("TEST", &fakeDispatcher{err: errors.New("boom")}))

	req := &wire.Request{UID: "u1", Namespace: "TEST", ReplyTo: "reply:caller"}
	s.dispatch(context.Background(), req)

	got := tr.last()
	failure, ok := got.envelope.(*wire.Failure)
	require.True(t, ok)
	// errors.New's concrete type, not a hardcoded catch-all name.
	assert.Equal(t, "errorString", failure.ClassName)
	assert.Equal(t, []interface{}{"boom"}, failure.Args)
}

// customException stands in for a user-raised exception type: classify
// should report its own type name rather than collapsing it to RuntimeError
// (spec.md §8 scenario 4's CustomException round-trip).
type customException struct{ msg string }

func (e *customException) Error() string { return e.msg }

func TestHandleRequestDispatcherErrorPreservesConcreteTypeName(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("TEST", &fakeDispatcher{err: &customException{msg: "boom"}}))

	req := &wire.Request{UID: "u1", Namespace: "TEST", ReplyTo: "reply:caller"}
	s.dispatch(context.Background(), req)

	got := tr.last()
	failure, ok := got.envelope.(*wire.Failure)
	require.True(t, ok)
	assert.Equal(t, "customException", failure.ClassName)
	assert.Equal(t, []interface{}{"boom"}, failure.Args)
}

// namedException implements rpcerr.ClassNamer directly, which classify
// must prefer over both rpcerr.Kind and the Go type name.
type namedException struct{ msg string }

func (e *namedException) Error() string     { return e.msg }
func (e *namedException) ClassName() string { return "AppError" }

func TestHandleRequestDispatcherErrorHonorsClassNamer(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("TEST", &fakeDispatcher{err: &namedException{msg: "boom"}}))

	req := &wire.Request{UID: "u1", Namespace: "TEST", ReplyTo: "reply:caller"}
	s.dispatch(context.Background(), req)

	got := tr.last()
	failure, ok := got.envelope.(*wire.Failure)
	require.True(t, ok)
	assert.Equal(t, "AppError", failure.ClassName)
}

func TestHandleRequestTimesOutWhenDispatcherOverruns(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("TEST", &fakeDispatcher{block: make(chan struct{})}))

	req := &wire.Request{UID: "u1", Namespace: "TEST", Timeout: 0.02, ReplyTo: "reply:caller"}

	done := make(chan struct{})
	go func() {
		s.dispatch(context.Background(), req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return after the request's timeout elapsed")
	}

	got := tr.last()
	failure, ok := got.envelope.(*wire.Failure)
	require.True(t, ok)
	assert.Equal(t, string(rpcerr.KindTimeout), failure.ClassName)
}

func TestHandleRequestOverrunDoesNotStallLaterRequests(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("SLOW", &fakeDispatcher{block: make(chan struct{})}))
	require.NoError(t, s.Register("FAST", &fakeDispatcher{result: 1.0}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := make(chan queueItem, 2)
	queue <- queueItem{envelope: &wire.Request{UID: "slow", Namespace: "SLOW", Timeout: 0.02, ReplyTo: "reply:slow"}}
	queue <- queueItem{envelope: &wire.Request{UID: "fast", Namespace: "FAST", ReplyTo: "reply:fast"}}
	close(queue)
	s.queue = queue

	done := make(chan struct{})
	go func() {
		_ = s.processQueue(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		for _, p := range tr.sent {
			if p.topic == "reply:fast" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "the fast request's dispatch goroutine should run concurrently with the slow one's overrun")
}

func TestHandleRequestRecoversFromPanic(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("TEST", &fakeDispatcher{panicWith: "kaboom"}))

	req := &wire.Request{UID: "u1", Namespace: "TEST", ReplyTo: "reply:caller"}
	s.dispatch(context.Background(), req)

	got := tr.last()
	failure, ok := got.envelope.(*wire.Failure)
	require.True(t, ok)
	assert.Contains(t, failure.Args[0], "kaboom")
}

func TestHandleRequestRPCError(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("TEST", &fakeDispatcher{err: rpcerr.New(rpcerr.KindKeyError, "missing")}))

	req := &wire.Request{UID: "u1", Namespace: "TEST", ReplyTo: "reply:caller"}
	s.dispatch(context.Background(), req)

	got := tr.last()
	failure, ok := got.envelope.(*wire.Failure)
	require.True(t, ok)
	assert.Equal(t, string(rpcerr.KindKeyError), failure.ClassName)
	assert.Equal(t, []interface{}{"missing"}, failure.Args)
}

func TestHandleSubscribeRejectsNonStreamingDispatcher(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	require.NoError(t, s.Register("TEST", &fakeDispatcher{canStream: false}))

	req := &wire.SubscribeRequest{UID: "u1", Namespace: "TEST", ReplyTo: "reply:caller"}
	s.dispatch(context.Background(), req)

	got := tr.last()
	failure, ok := got.envelope.(*wire.Failure)
	require.True(t, ok)
	assert.Equal(t, "NotImplemented", failure.ClassName)
}

func TestHandleSubscribeStartsStreamAndUnsubscribeStopsIt(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr)
	started := make(chan struct{})
	require.NoError(t, s.Register("TEST", &fakeDispatcher{canStream: true, streamCalled: started}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := &wire.SubscribeRequest{UID: "u1", Namespace: "TEST", ReplyTo: "reply:caller"}
	s.dispatch(ctx, req)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("stream never started")
	}

	s.mu.RLock()
	pub, exists := s.publishers["u1"]
	s.mu.RUnlock()
	require.True(t, exists)

	s.dispatch(ctx, &wire.UnsubscribeRequest{UID: "u1", Namespace: "TEST"})

	s.mu.RLock()
	_, stillExists := s.publishers["u1"]
	s.mu.RUnlock()
	assert.False(t, stillExists)
	assert.False(t, pub.Active())
}

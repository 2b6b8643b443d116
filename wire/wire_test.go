package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/pubsubrpc/codec"
)

func newTestCodec() *codec.Codec {
	c := codec.New()
	RegisterTypes(c)
	return c
}

func roundtrip(t *testing.T, c *codec.Codec, rec codec.Recordable) interface{} {
	t.Helper()
	encoded, err := c.Encode(rec, false)
	require.NoError(t, err)
	decoded, err := c.Decode(encoded, false)
	require.NoError(t, err)
	return decoded
}

func TestRequestRoundTrip(t *testing.T) {
	c := newTestCodec()
	req := &Request{
		UID:       "u1",
		Namespace: "TEST",
		Timeout:   30,
		Stack: []Call{
			{Method: "Base"},
			{Method: "Multiply", Positional: []interface{}{2.0}, Named: map[string]interface{}{}},
		},
		ReplyTo: "reply:topic",
	}
	got := roundtrip(t, c, req)
	decoded, ok := got.(*Request)
	require.True(t, ok)
	assert.Equal(t, "u1", decoded.UID)
	assert.Equal(t, "TEST", decoded.Namespace)
	assert.Equal(t, 30.0, decoded.Timeout)
	assert.Equal(t, "reply:topic", decoded.ReplyTo)
	require.Len(t, decoded.Stack, 2)
	assert.Equal(t, "Base", decoded.Stack[0].Method)
	assert.Equal(t, "Multiply", decoded.Stack[1].Method)
	assert.Equal(t, []interface{}{2.0}, decoded.Stack[1].Positional)
}

func TestSubscribeRequestRoundTrip(t *testing.T) {
	c := newTestCodec()
	req := &SubscribeRequest{UID: "u2", Namespace: "TEST", Timeout: 10, Stack: []Call{{Method: "Stream"}}}
	got := roundtrip(t, c, req)
	decoded, ok := got.(*SubscribeRequest)
	require.True(t, ok)
	assert.Equal(t, "u2", decoded.UID)
	require.Len(t, decoded.Stack, 1)
	assert.Equal(t, "Stream", decoded.Stack[0].Method)
}

func TestUnsubscribeRequestRoundTrip(t *testing.T) {
	c := newTestCodec()
	req := &UnsubscribeRequest{UID: "u3", Namespace: "TEST", ReplyTo: "reply:topic"}
	got := roundtrip(t, c, req)
	decoded, ok := got.(*UnsubscribeRequest)
	require.True(t, ok)
	assert.Equal(t, "u3", decoded.UID)
	assert.Equal(t, "reply:topic", decoded.ReplyTo)
}

func TestResultRoundTrip(t *testing.T) {
	c := newTestCodec()
	res := &Result{UID: "u1", Namespace: "TEST", Data: 10000.0}
	got := roundtrip(t, c, res)
	decoded, ok := got.(*Result)
	require.True(t, ok)
	assert.Equal(t, 10000.0, decoded.Data)
}

func TestDataPointRoundTrip(t *testing.T) {
	c := newTestCodec()
	dp := &DataPoint{UID: "u5", Namespace: "TEST", Data: 3.0}
	got := roundtrip(t, c, dp)
	decoded, ok := got.(*DataPoint)
	require.True(t, ok)
	assert.Equal(t, 3.0, decoded.Data)
}

func TestFailureRoundTrip(t *testing.T) {
	c := newTestCodec()
	f := &Failure{UID: "u6", Namespace: "TEST", ClassName: "KeyError", Args: []interface{}{"missing"}}
	got := roundtrip(t, c, f)
	decoded, ok := got.(*Failure)
	require.True(t, ok)
	assert.Equal(t, "KeyError", decoded.ClassName)
	assert.Equal(t, []interface{}{"missing"}, decoded.Args)
}

func TestNoticeRoundTrip(t *testing.T) {
	c := newTestCodec()
	n := &Notice{UID: "u7", Namespace: "TEST", Data: "hello"}
	got := roundtrip(t, c, n)
	decoded, ok := got.(*Notice)
	require.True(t, ok)
	assert.Equal(t, "hello", decoded.Data)
}

func TestAddressableSetReplyTo(t *testing.T) {
	var addr Addressable = &Request{}
	addr.SetReplyTo("reply:x")
	assert.Equal(t, "reply:x", addr.GetReplyTo())
}

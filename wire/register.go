package wire

import "github.com/tenzoki/pubsubrpc/codec"

// RegisterTypes binds every envelope variant's record name to a
// reconstruction factory on c. Both client and server codecs must call
// this before encoding or decoding any envelope, since an unregistered record name fails closed with
// codec.ErrUnknownRecord/ErrUnknownType rather than falling back to a
// generic map.
func RegisterTypes(c *codec.Codec) {
	c.RegisterRecord("Call", func() codec.Recordable { return newCall() })
	c.RegisterRecord("Request", func() codec.Recordable { return newRequest() })
	c.RegisterRecord("SubscribeRequest", func() codec.Recordable { return newSubscribeRequest() })
	c.RegisterRecord("UnsubscribeRequest", func() codec.Recordable { return newUnsubscribeRequest() })
	c.RegisterRecord("Result", func() codec.Recordable { return newResult() })
	c.RegisterRecord("DataPoint", func() codec.Recordable { return newDataPoint() })
	c.RegisterRecord("Failure", func() codec.Recordable { return newFailure() })
	c.RegisterRecord("Notice", func() codec.Recordable { return newNotice() })
}

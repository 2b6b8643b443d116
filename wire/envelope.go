// Package wire defines the tagged-union envelope model that travels over
// the broker: requests, results, failures, streamed data points, and the
// subscription control messages, plus the Call a request stack is built
// from. Every type here is a codec.Recordable so the codec can encode and
// decode it as a self-describing user record (see the codec package).
package wire

// Call is one chained method/property invocation inside a Request's stack.
// Semantics is left-to-right: the result of Call[i] becomes the receiver
// for Call[i+1].
type Call struct {
	Method     string
	Positional []interface{}
	Named      map[string]interface{}
}

func (c *Call) RecordName() string { return "Call" }

func (c *Call) ToFields() map[string]interface{} {
	named := c.Named
	if named == nil {
		named = map[string]interface{}{}
	}
	positional := c.Positional
	if positional == nil {
		positional = []interface{}{}
	}
	return map[string]interface{}{
		"method":     c.Method,
		"positional": positional,
		"named":      named,
	}
}

func (c *Call) FromFields(f map[string]interface{}) error {
	c.Method, _ = f["method"].(string)
	c.Positional, _ = toSlice(f["positional"])
	c.Named, _ = toStringMap(f["named"])
	return nil
}

func newCall() Recordable { return &Call{} }

// Request asks the server to dispatch Stack against the executor
// registered under Namespace, within Timeout seconds. ReplyTo is filled in
// by the Transport at publish time, not by the caller.
type Request struct {
	UID       string
	Namespace string
	Timeout   float64
	Stack     []Call
	ReplyTo   string
}

func (r *Request) RecordName() string { return "Request" }
func (r *Request) GetUID() string     { return r.UID }
func (r *Request) GetNamespace() string { return r.Namespace }
func (r *Request) GetReplyTo() string { return r.ReplyTo }
func (r *Request) SetReplyTo(topic string) { r.ReplyTo = topic }

func (r *Request) ToFields() map[string]interface{} {
	return map[string]interface{}{
		"uid":       r.UID,
		"namespace": r.Namespace,
		"timeout":   r.Timeout,
		"stack":     callsToRecords(r.Stack),
		"reply_to":  r.ReplyTo,
	}
}

func (r *Request) FromFields(f map[string]interface{}) error {
	r.UID, _ = f["uid"].(string)
	r.Namespace, _ = f["namespace"].(string)
	r.Timeout = toFloat(f["timeout"])
	r.Stack = recordsToCalls(f["stack"])
	r.ReplyTo, _ = f["reply_to"].(string)
	return nil
}

func newRequest() Recordable { return &Request{} }

// SubscribeRequest has the same shape as Request but signals streaming
// semantics: the server opens a Publisher instead of a one-shot call.
type SubscribeRequest struct {
	UID       string
	Namespace string
	Timeout   float64
	Stack     []Call
	ReplyTo   string
}

func (r *SubscribeRequest) RecordName() string    { return "SubscribeRequest" }
func (r *SubscribeRequest) GetUID() string        { return r.UID }
func (r *SubscribeRequest) GetNamespace() string  { return r.Namespace }
func (r *SubscribeRequest) GetReplyTo() string    { return r.ReplyTo }
func (r *SubscribeRequest) SetReplyTo(topic string) { r.ReplyTo = topic }

func (r *SubscribeRequest) ToFields() map[string]interface{} {
	return map[string]interface{}{
		"uid":       r.UID,
		"namespace": r.Namespace,
		"timeout":   r.Timeout,
		"stack":     callsToRecords(r.Stack),
		"reply_to":  r.ReplyTo,
	}
}

func (r *SubscribeRequest) FromFields(f map[string]interface{}) error {
	r.UID, _ = f["uid"].(string)
	r.Namespace, _ = f["namespace"].(string)
	r.Timeout = toFloat(f["timeout"])
	r.Stack = recordsToCalls(f["stack"])
	r.ReplyTo, _ = f["reply_to"].(string)
	return nil
}

func newSubscribeRequest() Recordable { return &SubscribeRequest{} }

// UnsubscribeRequest tears down the subscription identified by UID.
type UnsubscribeRequest struct {
	UID       string
	Namespace string
	ReplyTo   string
}

func (r *UnsubscribeRequest) RecordName() string    { return "UnsubscribeRequest" }
func (r *UnsubscribeRequest) GetUID() string        { return r.UID }
func (r *UnsubscribeRequest) GetNamespace() string  { return r.Namespace }
func (r *UnsubscribeRequest) GetReplyTo() string    { return r.ReplyTo }
func (r *UnsubscribeRequest) SetReplyTo(topic string) { r.ReplyTo = topic }

func (r *UnsubscribeRequest) ToFields() map[string]interface{} {
	return map[string]interface{}{
		"uid":       r.UID,
		"namespace": r.Namespace,
		"reply_to":  r.ReplyTo,
	}
}

func (r *UnsubscribeRequest) FromFields(f map[string]interface{}) error {
	r.UID, _ = f["uid"].(string)
	r.Namespace, _ = f["namespace"].(string)
	r.ReplyTo, _ = f["reply_to"].(string)
	return nil
}

func newUnsubscribeRequest() Recordable { return &UnsubscribeRequest{} }

// Result carries the value a Request produced. Data may have already been
// rewritten to a {kv_key: ...} pointer by the Transport; callers of the
// codec never see that rewrite, only the Transport layer does.
type Result struct {
	UID       string
	Namespace string
	Data      interface{}
}

func (r *Result) RecordName() string   { return "Result" }
func (r *Result) GetUID() string       { return r.UID }
func (r *Result) GetNamespace() string { return r.Namespace }

func (r *Result) ToFields() map[string]interface{} {
	return map[string]interface{}{"uid": r.UID, "namespace": r.Namespace, "data": r.Data}
}

func (r *Result) FromFields(f map[string]interface{}) error {
	r.UID, _ = f["uid"].(string)
	r.Namespace, _ = f["namespace"].(string)
	r.Data = f["data"]
	return nil
}

func newResult() Recordable { return &Result{} }

// DataPoint is one streamed frame published by a server-side Publisher.
type DataPoint struct {
	UID       string
	Namespace string
	Data      interface{}
}

func (d *DataPoint) RecordName() string   { return "DataPoint" }
func (d *DataPoint) GetUID() string       { return d.UID }
func (d *DataPoint) GetNamespace() string { return d.Namespace }

func (d *DataPoint) ToFields() map[string]interface{} {
	return map[string]interface{}{"uid": d.UID, "namespace": d.Namespace, "data": d.Data}
}

func (d *DataPoint) FromFields(f map[string]interface{}) error {
	d.UID, _ = f["uid"].(string)
	d.Namespace, _ = f["namespace"].(string)
	d.Data = f["data"]
	return nil
}

func newDataPoint() Recordable { return &DataPoint{} }

// Failure reports that a Request, SubscribeRequest, or a live subscription
// terminated with an error. ClassName is the abstract error kind name; Args
// mirrors the error's positional arguments so the client can reconstruct
// or wrap it (see rpcerr).
type Failure struct {
	UID       string
	Namespace string
	ClassName string
	Args      []interface{}
}

func (f *Failure) RecordName() string   { return "Failure" }
func (f *Failure) GetUID() string       { return f.UID }
func (f *Failure) GetNamespace() string { return f.Namespace }

func (f *Failure) ToFields() map[string]interface{} {
	args := f.Args
	if args == nil {
		args = []interface{}{}
	}
	return map[string]interface{}{
		"uid": f.UID, "namespace": f.Namespace,
		"class_name": f.ClassName, "args": args,
	}
}

func (f *Failure) FromFields(m map[string]interface{}) error {
	f.UID, _ = m["uid"].(string)
	f.Namespace, _ = m["namespace"].(string)
	f.ClassName, _ = m["class_name"].(string)
	f.Args, _ = toSlice(m["args"])
	return nil
}

func newFailure() Recordable { return &Failure{} }

// Notice is a free-form push from either side, not tied to a pending call.
type Notice struct {
	UID       string
	Namespace string
	Data      interface{}
}

func (n *Notice) RecordName() string   { return "Notice" }
func (n *Notice) GetUID() string       { return n.UID }
func (n *Notice) GetNamespace() string { return n.Namespace }

func (n *Notice) ToFields() map[string]interface{} {
	return map[string]interface{}{"uid": n.UID, "namespace": n.Namespace, "data": n.Data}
}

func (n *Notice) FromFields(f map[string]interface{}) error {
	n.UID, _ = f["uid"].(string)
	n.Namespace, _ = f["namespace"].(string)
	n.Data = f["data"]
	return nil
}

func newNotice() Recordable { return &Notice{} }

// Recordable is implemented by every envelope variant (and by Call) so the
// codec can encode/decode it as a self-describing user record keyed by
// RecordName. User applications can implement it too to register their own
// record types with a Codec.
type Recordable interface {
	RecordName() string
	ToFields() map[string]interface{}
	FromFields(map[string]interface{}) error
}

// Addressable is implemented by the envelope kinds that carry a reply
// address the Transport rewrites at publish time (spec.md §3 invariant 4).
type Addressable interface {
	Recordable
	GetReplyTo() string
	SetReplyTo(string)
}

func callsToRecords(calls []Call) []interface{} {
	out := make([]interface{}, len(calls))
	for i := range calls {
		out[i] = &calls[i]
	}
	return out
}

func recordsToCalls(v interface{}) []Call {
	raw, ok := toSlice(v)
	if !ok {
		return nil
	}
	out := make([]Call, 0, len(raw))
	for _, item := range raw {
		switch c := item.(type) {
		case *Call:
			out = append(out, *c)
		case map[string]interface{}:
			var call Call
			_ = call.FromFields(c)
			out = append(out, call)
		}
	}
	return out
}

func toSlice(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	s, ok := v.([]interface{})
	return s, ok
}

func toStringMap(v interface{}) (map[string]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Package codec implements the self-describing binary envelope codec: a
// msgpack-based encoder/decoder with an explicit, per-instance registry of
// extension handlers keyed by both a value's runtime type (for encoding)
// and a numeric wire extension code (for decoding).
//
// Unlike vmihailenco/msgpack's package-global RegisterExt table, every
// Codec carries its own registry so unrelated Codecs (and unrelated
// Clients/Servers within one process) don't share hidden state - see the
// design note on global registries in spec.md §9. The container and
// extension framing (maps, arrays, ext headers) is produced and parsed
// directly against the documented msgpack wire format in lowlevel.go;
// msgpack.Marshal/Unmarshal is used for the scalar leaves (numbers,
// strings, bools, raw binary), which is the stable, well-known entry
// point of vmihailenco/msgpack.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Extension codes for the built-in handlers. The exact code chosen for
// user records is an implementation detail but must match on both ends of
// a conversation; this codec uses a single code (extUserRecord) for every
// registered record type, dispatched by the embedded record name.
const (
	extNDArray         int8 = 1
	extStructuredArray int8 = 2
	extTimestamp       int8 = 3
	extUserRecord      int8 = 4

	extGeometryBase int8 = 100 // 100-108: WKB-encoded geometry primitives
)

// maxLen is the minimum required string/extension length per spec.md §4.1
// ("at least 2 GiB - 1"). Nothing in the package checks against it; the
// 32-bit length forms in lowlevel.go can carry payloads of this size.
const maxLen = 1<<31 - 1

// Error kinds returned by Encode/Decode, matching spec.md §7.
var (
	ErrUnknownType    = fmt.Errorf("codec: unknown type")
	ErrUnknownExtType = fmt.Errorf("codec: unknown extension type")
	ErrUnknownRecord  = fmt.Errorf("codec: unknown record")
)

type recordFactory func() Recordable

// Recordable mirrors wire.Recordable; defined again here so codec has no
// dependency on the wire package (wire depends on codec, not vice versa).
type Recordable interface {
	RecordName() string
	ToFields() map[string]interface{}
	FromFields(map[string]interface{}) error
}

type customHandler struct {
	extCode int8
	encode  func(v interface{}) ([]byte, bool) // ok=false if v isn't this handler's type
	decode  func(data []byte) (interface{}, error)
}

// Codec is a registry of extension handlers plus the top-level
// encode/decode entry points. The zero value is not usable; use New.
type Codec struct {
	mu       sync.RWMutex
	records  map[string]recordFactory
	handlers []customHandler // checked in registration order for encode dispatch
	byExt    map[int8]customHandler
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// New returns a Codec with the built-in handlers (numeric array, structured
// array, timestamp, user record, geometry) already registered.
func New() *Codec {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("codec: failed to initialize zstd encoder: %v", err))
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("codec: failed to initialize zstd decoder: %v", err))
	}

	c := &Codec{
		records: make(map[string]recordFactory),
		byExt:   make(map[int8]customHandler),
		enc:     enc,
		dec:     dec,
	}
	registerBuiltins(c)
	return c
}

// RegisterRecord registers a record definition by name: a zero-value
// factory used to reconstruct the concrete type on decode. Registration is
// idempotent; re-registering a name replaces the binding.
func (c *Codec) RegisterRecord(name string, factory func() Recordable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[name] = factory
}

// RegisterHandler registers a custom (runtime-value -> encoder) and
// (ext_code -> decoder) pair for a type the built-in handlers don't cover.
// Registration is idempotent per ext code; re-registering the same code
// replaces the binding.
func (c *Codec) RegisterHandler(extCode int8, encode func(v interface{}) ([]byte, bool), decode func([]byte) (interface{}, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := customHandler{extCode: extCode, encode: encode, decode: decode}
	for i, existing := range c.handlers {
		if existing.extCode == extCode {
			c.handlers[i] = h
			c.byExt[extCode] = h
			return
		}
	}
	c.handlers = append(c.handlers, h)
	c.byExt[extCode] = h
}

// Encode serializes value to bytes. When compress is true the top-level
// output is wrapped with zstd; recursive handler invocations (e.g. nested
// user records) always encode uncompressed, per spec.md §4.1.
func (c *Codec) Encode(value interface{}, compress bool) ([]byte, error) {
	raw, err := c.encodeAny(value)
	if err != nil {
		return nil, err
	}
	if !compress {
		return raw, nil
	}
	return c.enc.EncodeAll(raw, nil), nil
}

// Decode deserializes data into a value. A nil payload short-circuits to a
// nil result (spec.md §4.1 "Decoding a nil payload yields nil"). When
// compressed is true the outer zstd frame is reversed before decoding.
func (c *Codec) Decode(data []byte, compressed bool) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	raw := data
	if compressed {
		var err error
		raw, err = c.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd decompress: %w", err)
		}
	}
	r := newReader(bytes.NewReader(raw))
	return c.decodeAny(r)
}

// encodeAny returns the complete, self-contained msgpack encoding of value:
// a scalar (via msgpack.Marshal), a recursively-built container, or an
// extension frame. The result is always a valid standalone msgpack value,
// so it can be embedded verbatim inside a surrounding container.
func (c *Codec) encodeAny(value interface{}) ([]byte, error) {
	if value == nil {
		return msgpack.Marshal(nil)
	}

	// 1. Records (ext 4): any value implementing Recordable, provided its
	// record name has been registered.
	if rec, ok := value.(Recordable); ok {
		return c.encodeRecord(rec)
	}

	switch v := value.(type) {
	case map[string]interface{}:
		return c.encodeMap(v)
	case []interface{}:
		return c.encodeArray(v)
	}

	// 2. Built-in and custom extension handlers, by runtime type.
	c.mu.RLock()
	handlers := c.handlers
	c.mu.RUnlock()
	for _, h := range handlers {
		if payload, ok := h.encode(value); ok {
			return extFrame(h.extCode, payload), nil
		}
	}

	// 3. Native scalar msgpack types: pass through to the library.
	if isNativeScalar(value) {
		return msgpack.Marshal(value)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownType, reflect.TypeOf(value))
}

func (c *Codec) encodeRecord(rec Recordable) ([]byte, error) {
	name := rec.RecordName()
	c.mu.RLock()
	_, registered := c.records[name]
	c.mu.RUnlock()
	if !registered {
		return nil, fmt.Errorf("%w: record %q not registered", ErrUnknownType, name)
	}
	nameBytes, err := msgpack.Marshal(name)
	if err != nil {
		return nil, err
	}
	fieldsBytes, err := c.encodeMap(rec.ToFields())
	if err != nil {
		return nil, err
	}
	inner := make([]byte, 0, len(nameBytes)+len(fieldsBytes)+1)
	inner = append(inner, arrayHeader(2)...)
	inner = append(inner, nameBytes...)
	inner = append(inner, fieldsBytes...)
	return extFrame(extUserRecord, inner), nil
}

func (c *Codec) encodeMap(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := mapHeader(len(m))
	for _, k := range keys {
		kb, err := msgpack.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := c.encodeAny(m[k])
		if err != nil {
			return nil, err
		}
		out = append(out, kb...)
		out = append(out, vb...)
	}
	return out, nil
}

func (c *Codec) encodeArray(a []interface{}) ([]byte, error) {
	out := arrayHeader(len(a))
	for _, item := range a {
		b, err := c.encodeAny(item)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// decodeAny reads exactly one msgpack value from r: a container (recursing
// for elements/entries), an extension frame (dispatched through the
// registry), or a scalar leaf decoded via msgpack.Unmarshal.
func (c *Codec) decodeAny(r *reader) (interface{}, error) {
	lead, err := r.peekByte()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	switch {
	case isMapLead(lead):
		if _, err := r.readByte(); err != nil {
			return nil, err
		}
		n, err := r.readMapCount(lead)
		if err != nil {
			return nil, err
		}
		out := make(map[string]interface{}, n)
		for i := 0; i < n; i++ {
			key, err := c.decodeAny(r)
			if err != nil {
				return nil, err
			}
			val, err := c.decodeAny(r)
			if err != nil {
				return nil, err
			}
			ks, _ := key.(string)
			out[ks] = val
		}
		return out, nil

	case isArrayLead(lead):
		if _, err := r.readByte(); err != nil {
			return nil, err
		}
		n, err := r.readArrayCount(lead)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, n)
		for i := 0; i < n; i++ {
			val, err := c.decodeAny(r)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil

	case isExtLead(lead):
		if _, err := r.readByte(); err != nil {
			return nil, err
		}
		extID, length, err := r.readExtHeader(lead)
		if err != nil {
			return nil, err
		}
		payload, err := r.readN(length)
		if err != nil {
			return nil, err
		}
		return c.decodeExt(extID, payload)

	default:
		n, err := r.scalarValueLength(lead)
		if err != nil {
			return nil, err
		}
		raw, err := r.readN(n)
		if err != nil {
			return nil, err
		}
		var v interface{}
		if err := msgpack.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (c *Codec) decodeExt(extID int8, payload []byte) (interface{}, error) {
	if extID == extUserRecord {
		inner, err := c.Decode(payload, false)
		if err != nil {
			return nil, err
		}
		tuple, ok := inner.([]interface{})
		if !ok || len(tuple) != 2 {
			return nil, fmt.Errorf("codec: malformed user record payload")
		}
		name, _ := tuple[0].(string)
		fields, _ := tuple[1].(map[string]interface{})
		c.mu.RLock()
		factory, ok := c.records[name]
		c.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRecord, name)
		}
		rec := factory()
		if err := rec.FromFields(fields); err != nil {
			return nil, err
		}
		return rec, nil
	}

	c.mu.RLock()
	h, ok := c.byExt[extID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: code %d", ErrUnknownExtType, extID)
	}
	return h.decode(payload)
}

// isNativeScalar reports whether v is a plain msgpack-native leaf value
// (not a container, not an extension) that msgpack.Marshal/Unmarshal
// handles directly.
func isNativeScalar(v interface{}) bool {
	switch v.(type) {
	case bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

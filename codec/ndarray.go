package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NDArray is the built-in representation for ext code 1: a dense,
// row-major numeric array with an explicit shape, matching spec.md §4.1's
// "N-dimensional numeric array" built-in. Values are always stored as
// float64 internally; callers working with narrower Go numeric types
// should convert before handing data to Encode.
type NDArray struct {
	Shape []int
	Data  []float64
}

// wire layout: [u32 ndim][u32 shape[0] ... shape[ndim-1]][f64 data[0] ...]
func (a NDArray) marshalPayload() []byte {
	buf := make([]byte, 4+4*len(a.Shape)+8*len(a.Data))
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(len(a.Shape)))
	off += 4
	for _, d := range a.Shape {
		binary.BigEndian.PutUint32(buf[off:], uint32(d))
		off += 4
	}
	for _, v := range a.Data {
		binary.BigEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}
	return buf
}

func unmarshalNDArray(payload []byte) (interface{}, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("codec: truncated ndarray payload")
	}
	ndim := int(binary.BigEndian.Uint32(payload))
	off := 4
	if len(payload) < off+4*ndim {
		return nil, fmt.Errorf("codec: truncated ndarray shape")
	}
	shape := make([]int, ndim)
	n := 1
	for i := 0; i < ndim; i++ {
		shape[i] = int(binary.BigEndian.Uint32(payload[off:]))
		off += 4
		n *= shape[i]
	}
	if len(payload) < off+8*n {
		return nil, fmt.Errorf("codec: truncated ndarray data")
	}
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = math.Float64frombits(binary.BigEndian.Uint64(payload[off:]))
		off += 8
	}
	return NDArray{Shape: shape, Data: data}, nil
}

// StructuredArray is the built-in representation for ext code 2: a
// record-like array where every row shares the same named fields, the
// numeric analogue of a table. Rows are encoded as an ordinary nested
// msgpack array-of-maps so the existing container machinery in codec.go
// handles the recursive structure; this type only carries the field order
// so round trips are stable.
type StructuredArray struct {
	Fields []string
	Rows   []map[string]interface{}
}

func registerNDArray(c *Codec) {
	c.RegisterHandler(extNDArray,
		func(v interface{}) ([]byte, bool) {
			a, ok := v.(NDArray)
			if !ok {
				return nil, false
			}
			return a.marshalPayload(), true
		},
		unmarshalNDArray,
	)

	c.RegisterHandler(extStructuredArray,
		func(v interface{}) ([]byte, bool) {
			sa, ok := v.(StructuredArray)
			if !ok {
				return nil, false
			}
			rows := make([]interface{}, len(sa.Rows))
			for i, row := range sa.Rows {
				rows[i] = row
			}
			payload, err := c.Encode(map[string]interface{}{
				"fields": toInterfaceSlice(sa.Fields),
				"rows":   rows,
			}, false)
			if err != nil {
				return nil, false
			}
			return payload, true
		},
		func(payload []byte) (interface{}, error) {
			v, err := c.Decode(payload, false)
			if err != nil {
				return nil, err
			}
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("codec: malformed structured array payload")
			}
			fieldsRaw, _ := m["fields"].([]interface{})
			fields := make([]string, len(fieldsRaw))
			for i, f := range fieldsRaw {
				fields[i], _ = f.(string)
			}
			rowsRaw, _ := m["rows"].([]interface{})
			rows := make([]map[string]interface{}, len(rowsRaw))
			for i, r := range rowsRaw {
				rows[i], _ = r.(map[string]interface{})
			}
			return StructuredArray{Fields: fields, Rows: rows}, nil
		},
	)
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/vmihailenco/msgpack/v5"
)

type testRecord struct {
	Name  string
	Count int
}

func (r *testRecord) RecordName() string { return "testRecord" }

func (r *testRecord) ToFields() map[string]interface{} {
	return map[string]interface{}{"name": r.Name, "count": int64(r.Count)}
}

func (r *testRecord) FromFields(f map[string]interface{}) error {
	r.Name, _ = f["name"].(string)
	if n, ok := f["count"].(int64); ok {
		r.Count = int(n)
	}
	return nil
}

func roundtrip(t *testing.T, c *Codec, value interface{}, compress bool) interface{} {
	t.Helper()
	encoded, err := c.Encode(value, compress)
	require.NoError(t, err)
	decoded, err := c.Decode(encoded, compress)
	require.NoError(t, err)
	return decoded
}

func TestEncodeDecodeScalars(t *testing.T) {
	c := New()

	got := roundtrip(t, c, "hello", false)
	assert.Equal(t, "hello", got)

	got = roundtrip(t, c, int64(42), false)
	assert.Equal(t, int64(42), got)

	got = roundtrip(t, c, true, false)
	assert.Equal(t, true, got)
}

func TestDecodeNilPayloadYieldsNil(t *testing.T) {
	c := New()
	got, err := c.Decode(nil, false)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEncodeDecodeMapAndArray(t *testing.T) {
	c := New()
	value := map[string]interface{}{
		"a": int64(1),
		"b": []interface{}{int64(1), int64(2), "three"},
	}
	got := roundtrip(t, c, value, false)
	m, ok := got.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(1), m["a"])
	arr, ok := m["b"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{int64(1), int64(2), "three"}, arr)
}

func TestEncodeDecodeCompressed(t *testing.T) {
	c := New()
	value := map[string]interface{}{"x": "y"}
	got := roundtrip(t, c, value, true)
	assert.Equal(t, value, got)
}

func TestEncodeUnregisteredRecordFails(t *testing.T) {
	c := New()
	_, err := c.Encode(&testRecord{Name: "x"}, false)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestEncodeDecodeUserRecord(t *testing.T) {
	c := New()
	c.RegisterRecord("testRecord", func() Recordable { return &testRecord{} })

	got := roundtrip(t, c, &testRecord{Name: "widget", Count: 7}, false)
	rec, ok := got.(*testRecord)
	require.True(t, ok)
	assert.Equal(t, "widget", rec.Name)
	assert.Equal(t, 7, rec.Count)
}

func TestEncodeUnregisteredRecordReturnsNoBytes(t *testing.T) {
	c := New()
	encoded, err := c.Encode(&testRecord{}, false)
	assert.Error(t, err)
	assert.Nil(t, encoded)
}

func TestEncodeDecodeNDArray(t *testing.T) {
	c := New()
	arr := NDArray{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}
	got := roundtrip(t, c, arr, false)
	decoded, ok := got.(NDArray)
	require.True(t, ok)
	assert.Equal(t, []int{2, 2}, decoded.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4}, decoded.Data)
}

func TestEncodeDecodeTimestamp(t *testing.T) {
	c := New()
	ts := time.Unix(1700000000, 0).UTC()
	got := roundtrip(t, c, ts, false)
	decoded, ok := got.(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, ts, decoded, time.Second)
}

func TestEncodeDecodeGeometry(t *testing.T) {
	c := New()
	point := geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1.5, 2.5})
	got := roundtrip(t, c, point, false)
	decoded, ok := got.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, geom.Coord{1.5, 2.5}, decoded.Coords())
}

func TestRegisterHandlerCustomType(t *testing.T) {
	type celsius float64
	c := New()
	c.RegisterHandler(120,
		func(v interface{}) ([]byte, bool) {
			n, ok := v.(celsius)
			if !ok {
				return nil, false
			}
			b, _ := msgpack.Marshal(float64(n))
			return b, true
		},
		func(data []byte) (interface{}, error) {
			var f float64
			err := msgpack.Unmarshal(data, &f)
			return celsius(f), err
		},
	)
	got := roundtrip(t, c, celsius(36.6), false)
	assert.Equal(t, celsius(36.6), got)
}

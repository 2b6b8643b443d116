package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// This file implements the msgpack container/extension framing the codec
// needs directly against the wire format, rather than through
// vmihailenco/msgpack's streaming Encoder/Decoder. Scalar leaf values
// (numbers, strings, bools, nil, raw binary) are still produced and
// consumed by msgpack.Marshal/Unmarshal - see codec.go - so the library
// owns the fiddly parts (varint-style integer packing, float formats,
// UTF-8 string framing). This file owns only the recursive
// record/array/map/extension structure the registry-driven codec needs.

const (
	mpNil    = 0xc0
	mpFalse  = 0xc2
	mpTrue   = 0xc3
	mpBin8   = 0xc4
	mpBin16  = 0xc5
	mpBin32  = 0xc6
	mpExt8   = 0xc7
	mpExt16  = 0xc8
	mpExt32  = 0xc9
	mpFloat32 = 0xca
	mpFloat64 = 0xcb
	mpUint8  = 0xcc
	mpUint16 = 0xcd
	mpUint32 = 0xce
	mpUint64 = 0xcf
	mpInt8   = 0xd0
	mpInt16  = 0xd1
	mpInt32  = 0xd2
	mpInt64  = 0xd3
	mpFixExt1  = 0xd4
	mpFixExt2  = 0xd5
	mpFixExt4  = 0xd6
	mpFixExt8  = 0xd7
	mpFixExt16 = 0xd8
	mpStr8  = 0xd9
	mpStr16 = 0xda
	mpStr32 = 0xdb
	mpArray16 = 0xdc
	mpArray32 = 0xdd
	mpMap16   = 0xde
	mpMap32   = 0xdf
)

func mapHeader(n int) []byte {
	switch {
	case n <= 0x0f:
		return []byte{0x80 | byte(n)}
	case n <= 0xffff:
		b := make([]byte, 3)
		b[0] = mpMap16
		binary.BigEndian.PutUint16(b[1:], uint16(n))
		return b
	default:
		b := make([]byte, 5)
		b[0] = mpMap32
		binary.BigEndian.PutUint32(b[1:], uint32(n))
		return b
	}
}

func arrayHeader(n int) []byte {
	switch {
	case n <= 0x0f:
		return []byte{0x90 | byte(n)}
	case n <= 0xffff:
		b := make([]byte, 3)
		b[0] = mpArray16
		binary.BigEndian.PutUint16(b[1:], uint16(n))
		return b
	default:
		b := make([]byte, 5)
		b[0] = mpArray32
		binary.BigEndian.PutUint32(b[1:], uint32(n))
		return b
	}
}

func extFrame(extID int8, payload []byte) []byte {
	n := len(payload)
	var head []byte
	switch {
	case n == 1:
		head = []byte{mpFixExt1}
	case n == 2:
		head = []byte{mpFixExt2}
	case n == 4:
		head = []byte{mpFixExt4}
	case n == 8:
		head = []byte{mpFixExt8}
	case n == 16:
		head = []byte{mpFixExt16}
	case n <= 0xff:
		head = []byte{mpExt8, byte(n)}
	case n <= 0xffff:
		head = make([]byte, 3)
		head[0] = mpExt16
		binary.BigEndian.PutUint16(head[1:], uint16(n))
	default:
		head = make([]byte, 5)
		head[0] = mpExt32
		binary.BigEndian.PutUint32(head[1:], uint32(n))
	}
	out := make([]byte, 0, len(head)+1+n)
	out = append(out, head...)
	out = append(out, byte(extID))
	out = append(out, payload...)
	return out
}

// reader walks a msgpack byte stream one value at a time, recognizing
// containers (array/map) and extensions explicitly and delegating scalar
// leaves to msgpack.Unmarshal.
type reader struct {
	br *bufio.Reader
}

func newReader(r io.Reader) *reader {
	return &reader{br: bufio.NewReader(r)}
}

func (r *reader) readByte() (byte, error) {
	return r.br.ReadByte()
}

func (r *reader) peekByte() (byte, error) {
	b, err := r.br.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(r.br, buf)
	return buf, err
}

func (r *reader) readUint(n int) (uint64, error) {
	buf, err := r.readN(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// readExtHeader reads an extension header (any of the fixext/ext8/16/32
// forms) already knowing the lead byte was consumed, returning the
// extension id and the payload length.
func (r *reader) readExtHeader(lead byte) (int8, int, error) {
	var length int
	switch lead {
	case mpFixExt1:
		length = 1
	case mpFixExt2:
		length = 2
	case mpFixExt4:
		length = 4
	case mpFixExt8:
		length = 8
	case mpFixExt16:
		length = 16
	case mpExt8:
		n, err := r.readUint(1)
		if err != nil {
			return 0, 0, err
		}
		length = int(n)
	case mpExt16:
		n, err := r.readUint(2)
		if err != nil {
			return 0, 0, err
		}
		length = int(n)
	case mpExt32:
		n, err := r.readUint(4)
		if err != nil {
			return 0, 0, err
		}
		length = int(n)
	default:
		return 0, 0, fmt.Errorf("codec: not an ext header: 0x%x", lead)
	}
	idByte, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	return int8(idByte), length, nil
}

// scalarValueLength returns the total byte length (including the lead
// byte already peeked) of the scalar msgpack value starting with lead, for
// every code that is not a container or extension header.
func (r *reader) scalarValueLength(lead byte) (int, error) {
	switch {
	case lead <= 0x7f, lead >= 0xe0: // positive/negative fixint
		return 1, nil
	case lead >= 0xa0 && lead <= 0xbf: // fixstr
		return 1 + int(lead&0x1f), nil
	}
	switch lead {
	case mpNil, mpFalse, mpTrue:
		return 1, nil
	case mpUint8, mpInt8:
		return 2, nil
	case mpUint16, mpInt16:
		return 3, nil
	case mpUint32, mpInt32, mpFloat32:
		return 5, nil
	case mpUint64, mpInt64, mpFloat64:
		return 9, nil
	case mpStr8, mpBin8:
		n, err := r.peekLen(1, 1)
		return 1 + 1 + n, err
	case mpStr16, mpBin16:
		n, err := r.peekLen(1, 2)
		return 1 + 2 + n, err
	case mpStr32, mpBin32:
		n, err := r.peekLen(1, 4)
		return 1 + 4 + n, err
	}
	return 0, fmt.Errorf("codec: unsupported leaf code 0x%x", lead)
}

// peekLen peeks skip+width bytes from the current position (the lead byte
// is still unread, so skip=1 steps over it) and decodes the last width
// bytes as a big-endian length without consuming input.
func (r *reader) peekLen(skip, width int) (int, error) {
	buf, err := r.br.Peek(skip + width)
	if err != nil {
		return 0, err
	}
	var v int
	for _, b := range buf[skip:] {
		v = v<<8 | int(b)
	}
	return v, nil
}

func isMapLead(b byte) bool {
	return (b >= 0x80 && b <= 0x8f) || b == mpMap16 || b == mpMap32
}

func isArrayLead(b byte) bool {
	return (b >= 0x90 && b <= 0x9f) || b == mpArray16 || b == mpArray32
}

func isExtLead(b byte) bool {
	switch b {
	case mpFixExt1, mpFixExt2, mpFixExt4, mpFixExt8, mpFixExt16, mpExt8, mpExt16, mpExt32:
		return true
	}
	return false
}

func (r *reader) readMapCount(lead byte) (int, error) {
	if lead >= 0x80 && lead <= 0x8f {
		return int(lead & 0x0f), nil
	}
	if lead == mpMap16 {
		n, err := r.readUint(2)
		return int(n), err
	}
	n, err := r.readUint(4)
	return int(n), err
}

func (r *reader) readArrayCount(lead byte) (int, error) {
	if lead >= 0x90 && lead <= 0x9f {
		return int(lead & 0x0f), nil
	}
	if lead == mpArray16 {
		n, err := r.readUint(2)
		return int(n), err
	}
	n, err := r.readUint(4)
	return int(n), err
}

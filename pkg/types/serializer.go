package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Serializer produces the fixed byte representation of a Value used by the
// page store when a Leaf page is persisted to a chunk (spec.md §3: "a
// serialiser producing a fixed byte representation").
type Serializer interface {
	Encode(v Value) []byte
	Decode(b []byte) (Value, int, error)
}

// BinarySerializer is the default Serializer: a one-byte Kind tag followed
// by the kind-specific little-endian payload.
type BinarySerializer struct{}

func (BinarySerializer) Encode(v Value) []byte {
	buf := []byte{byte(v.Kind)}

	switch v.Kind {
	case KindNull:
		// no payload
	case KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.I64))
		buf = append(buf, b[:]...)
	case KindFloat64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F64))
		buf = append(buf, b[:]...)
	case KindString:
		buf = appendLenPrefixed(buf, []byte(v.Str))
	case KindBytes:
		buf = appendLenPrefixed(buf, v.Bytes)
	}

	return buf
}

func (BinarySerializer) Decode(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, fmt.Errorf("types: decode: empty input")
	}

	kind := Kind(b[0])
	off := 1

	switch kind {
	case KindNull:
		return Null(), off, nil
	case KindBool:
		if len(b[off:]) < 1 {
			return Value{}, 0, fmt.Errorf("types: decode: truncated bool")
		}
		return Bool(b[off] != 0), off + 1, nil
	case KindInt64:
		if len(b[off:]) < 8 {
			return Value{}, 0, fmt.Errorf("types: decode: truncated int64")
		}
		return Int64(int64(binary.LittleEndian.Uint64(b[off:]))), off + 8, nil
	case KindFloat64:
		if len(b[off:]) < 8 {
			return Value{}, 0, fmt.Errorf("types: decode: truncated float64")
		}
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))), off + 8, nil
	case KindString:
		s, n, err := decodeLenPrefixed(b[off:])
		if err != nil {
			return Value{}, 0, fmt.Errorf("types: decode: string: %w", err)
		}
		return String(string(s)), off + n, nil
	case KindBytes:
		s, n, err := decodeLenPrefixed(b[off:])
		if err != nil {
			return Value{}, 0, fmt.Errorf("types: decode: bytes: %w", err)
		}
		return Bytes(s), off + n, nil
	default:
		return Value{}, 0, fmt.Errorf("types: decode: unknown kind %d", kind)
	}
}

func appendLenPrefixed(buf, data []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

func decodeLenPrefixed(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("insufficient data for length prefix")
	}
	length := int(binary.LittleEndian.Uint32(b))
	if len(b[4:]) < length {
		return nil, 0, fmt.Errorf("insufficient data for %d-byte payload", length)
	}
	return b[4 : 4+length], 4 + length, nil
}

// Package types holds the value model and small identifier types shared by
// every layer of the storage core: the opaque typed Value (doubling as Key,
// per the data model), node/shard identifiers, and the replication name used
// to order conflicting writes.
package types

import "fmt"

// Kind tags the payload carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
)

// Value is an opaque, typed value with a total order supplied by a
// Comparator and a fixed byte representation supplied by a Serializer. It
// plays double duty as both Key and Value in the data model: a B-tree key is
// just a Value that happens to be used for ordering.
type Value struct {
	Kind  Kind
	B     bool
	I64   int64
	F64   float64
	Str   string
	Bytes []byte
}

// Null is the distinct null value; it is ordered before every other Kind.
func Null() Value { return Value{Kind: KindNull} }

func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

func Int64(v int64) Value { return Value{Kind: KindInt64, I64: v} }

func Float64(v float64) Value { return Value{Kind: KindFloat64, F64: v} }

func String(v string) Value { return Value{Kind: KindString, Str: v} }

func Bytes(v []byte) Value { return Value{Kind: KindBytes, Bytes: v} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Describe renders a Value for logging; it is deliberately not named
// String() so Value stays a plain struct rather than acquiring an accidental
// fmt.Stringer contract that callers might rely on for hashing/equality.
func (v Value) Describe() string {
	switch v.Kind {
	case KindNull:
		return "<null>"
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindInt64:
		return fmt.Sprintf("%d", v.I64)
	case KindFloat64:
		return fmt.Sprintf("%g", v.F64)
	case KindString:
		return v.Str
	case KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	default:
		return "<unknown>"
	}
}

// SeqN is a monotonically increasing sequence number: undo-log id,
// append-reserved key counter, or chunk generation.
type SeqN = uint64

// NodeID identifies a cluster node by its replication-addressable name.
type NodeID string

// ShardID identifies a logical shard (a replica set of leaf pages).
type ShardID uint32

// ReplicationName totally orders conflicting writes to the same key: ties on
// Counter are broken lexicographically by Coordinator, per spec.md §4.5.
type ReplicationName struct {
	Counter     uint64
	Coordinator NodeID
}

// Compare returns -1, 0, or 1 following spec.md's ordering rule: by Counter,
// then lexicographically by Coordinator host id.
func (n ReplicationName) Compare(other ReplicationName) int {
	switch {
	case n.Counter < other.Counter:
		return -1
	case n.Counter > other.Counter:
		return 1
	case n.Coordinator < other.Coordinator:
		return -1
	case n.Coordinator > other.Coordinator:
		return 1
	default:
		return 0
	}
}

func (n ReplicationName) String() string {
	return fmt.Sprintf("%s#%d", n.Coordinator, n.Counter)
}

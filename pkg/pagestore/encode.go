package pagestore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"lealone/pkg/page"
	"lealone/pkg/types"
)

func writeString(buf *bytes.Buffer, s string) {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
}

func readString(b []byte, off int) (string, int, error) {
	if off+4 > len(b) {
		return "", 0, fmt.Errorf("pagestore: truncated string length")
	}
	n := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if off+n > len(b) {
		return "", 0, fmt.Errorf("pagestore: truncated string data")
	}
	return string(b[off : off+n]), off + n, nil
}

func writeValue(buf *bytes.Buffer, v types.Value, ser types.Serializer) {
	enc := ser.Encode(v)
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(enc)))
	buf.Write(l[:])
	buf.Write(enc)
}

func readValue(b []byte, off int, ser types.Serializer) (types.Value, int, error) {
	if off+4 > len(b) {
		return types.Value{}, 0, fmt.Errorf("pagestore: truncated value length")
	}
	n := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if off+n > len(b) {
		return types.Value{}, 0, fmt.Errorf("pagestore: truncated value data")
	}
	v, _, err := ser.Decode(b[off : off+n])
	if err != nil {
		return types.Value{}, 0, err
	}
	return v, off + n, nil
}

func writeReplicas(buf *bytes.Buffer, replicas []string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(replicas)))
	buf.Write(n[:])
	for _, r := range replicas {
		writeString(buf, r)
	}
}

func readReplicas(b []byte, off int) ([]string, int, error) {
	if off+4 > len(b) {
		return nil, 0, fmt.Errorf("pagestore: truncated replica count")
	}
	n := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	var replicas []string
	if n > 0 {
		replicas = make([]string, 0, n)
	}
	for i := 0; i < n; i++ {
		s, next, err := readString(b, off)
		if err != nil {
			return nil, 0, err
		}
		replicas = append(replicas, s)
		off = next
	}
	return replicas, off, nil
}

// encodePage renders p's own content, not its children's: Node pages store
// each child's already-resolved position (the walk in Save guarantees every
// child has one by the time its parent is encoded) plus the separator key
// used to reach it.
func encodePage(p *page.Page, ser types.Serializer) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Kind))
	writeReplicas(&buf, p.ReplicationHostIds)

	switch p.Kind {
	case page.KindLeaf:
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(p.Keys)))
		buf.Write(n[:])
		for i := range p.Keys {
			writeValue(&buf, p.Keys[i], ser)
			writeValue(&buf, p.Values[i], ser)
		}
	case page.KindNode:
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(p.Separators)))
		buf.Write(n[:])
		for _, sep := range p.Separators {
			writeValue(&buf, sep, ser)
		}
		var cn [4]byte
		binary.LittleEndian.PutUint32(cn[:], uint32(len(p.Children)))
		buf.Write(cn[:])
		for _, c := range p.Children {
			child := c.Page()
			var pos [8]byte
			binary.LittleEndian.PutUint64(pos[:], child.Pos)
			buf.Write(pos[:])
			writeValue(&buf, c.PKey.K, ser)
			buf.WriteByte(boolByte(c.PKey.First))
		}
	case page.KindRemote:
		// nothing beyond the replica list.
	}
	return buf.Bytes()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// decodePage parses one page record. Node children are resolved eagerly via
// readChild, which the caller supplies (ReadPage reads through to the
// store; a future caching layer could memoize by position instead).
func decodePage(b []byte, ser types.Serializer, readChild func(pos uint64) (*page.Page, error)) (*page.Page, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("pagestore: %w: empty page record", errShortPage)
	}
	kind := page.Kind(b[0])
	off := 1

	replicas, off, err := readReplicas(b, off)
	if err != nil {
		return nil, err
	}

	switch kind {
	case page.KindLeaf:
		if off+4 > len(b) {
			return nil, errShortPage
		}
		n := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		keys := make([]types.Value, n)
		values := make([]types.Value, n)
		for i := 0; i < n; i++ {
			k, next, err := readValue(b, off, ser)
			if err != nil {
				return nil, err
			}
			off = next
			v, next, err := readValue(b, off, ser)
			if err != nil {
				return nil, err
			}
			off = next
			keys[i] = k
			values[i] = v
		}
		return page.NewLeaf(keys, values, replicas), nil

	case page.KindNode:
		if off+4 > len(b) {
			return nil, errShortPage
		}
		sepCount := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		separators := make([]types.Value, sepCount)
		for i := 0; i < sepCount; i++ {
			sep, next, err := readValue(b, off, ser)
			if err != nil {
				return nil, err
			}
			separators[i] = sep
			off = next
		}

		if off+4 > len(b) {
			return nil, errShortPage
		}
		childCount := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		children := make([]*page.Reference, childCount)
		for i := 0; i < childCount; i++ {
			if off+8 > len(b) {
				return nil, errShortPage
			}
			pos := binary.LittleEndian.Uint64(b[off:])
			off += 8
			key, next, err := readValue(b, off, ser)
			if err != nil {
				return nil, err
			}
			off = next
			if off+1 > len(b) {
				return nil, errShortPage
			}
			first := b[off] == 1
			off++

			child, err := readChild(pos)
			if err != nil {
				return nil, err
			}
			children[i] = page.NewReference(child, nil, page.Key{K: key, First: first, Pos: pos})
		}
		return page.NewNode(separators, children, replicas), nil

	case page.KindRemote:
		return page.NewRemote(replicas), nil

	default:
		return nil, fmt.Errorf("pagestore: %w: unknown page kind %d", errShortPage, kind)
	}
}

var errShortPage = fmt.Errorf("pagestore: truncated or malformed page record")

// EncodeLeaf renders a standalone Leaf page to bytes using the same record
// format encodePage writes inline into a chunk, exported for the
// replication layer's leaf-page move RPC (spec.md §4.5's moveLeafPage),
// which ships a page image outside of any chunk.
func EncodeLeaf(p *page.Page, ser types.Serializer) ([]byte, error) {
	if !p.IsLeaf() {
		return nil, fmt.Errorf("pagestore: EncodeLeaf: page is not a leaf (kind %s)", p.Kind)
	}
	return encodePage(p, ser), nil
}

// DecodeLeaf parses a byte slice produced by EncodeLeaf back into a Leaf
// page. It never resolves node children since a leaf-page move image is
// always a Leaf record.
func DecodeLeaf(b []byte, ser types.Serializer) (*page.Page, error) {
	p, err := decodePage(b, ser, func(pos uint64) (*page.Page, error) {
		return nil, fmt.Errorf("pagestore: DecodeLeaf: unexpected node record")
	})
	if err != nil {
		return nil, err
	}
	if !p.IsLeaf() {
		return nil, fmt.Errorf("pagestore: DecodeLeaf: decoded page is not a leaf (kind %s)", p.Kind)
	}
	return p, nil
}

func encodeTrailer(rootPos uint64, mapSize int64, maxKey uint64, replicas []string, checksum uint32) []byte {
	var buf bytes.Buffer
	var pos [8]byte
	binary.LittleEndian.PutUint64(pos[:], rootPos)
	buf.Write(pos[:])
	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], uint64(mapSize))
	buf.Write(sz[:])
	var mk [8]byte
	binary.LittleEndian.PutUint64(mk[:], maxKey)
	buf.Write(mk[:])
	writeReplicas(&buf, replicas)
	var cksum [4]byte
	binary.LittleEndian.PutUint32(cksum[:], checksum)
	buf.Write(cksum[:])
	return buf.Bytes()
}

func decodeTrailer(b []byte) (rootPos uint64, mapSize int64, maxKey uint64, replicas []string, checksum uint32, err error) {
	if len(b) < 24 {
		return 0, 0, 0, nil, 0, errShortPage
	}
	rootPos = binary.LittleEndian.Uint64(b[0:8])
	mapSize = int64(binary.LittleEndian.Uint64(b[8:16]))
	maxKey = binary.LittleEndian.Uint64(b[16:24])
	replicas, off, err := readReplicas(b, 24)
	if err != nil {
		return 0, 0, 0, nil, 0, err
	}
	if off+4 > len(b) {
		return 0, 0, 0, nil, 0, errShortPage
	}
	checksum = binary.LittleEndian.Uint32(b[off:])
	return rootPos, mapSize, maxKey, replicas, checksum, nil
}

package pagestore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"lealone/pkg/page"
)

// writeRecord appends one [type][length][payload][crc32] record at the
// store's current write offset and returns the offset its payload's page
// content was written at (the record's start), matching pkg/wal.WAL's
// writeEntry framing.
func (s *Store) writeRecord(recType uint8, payload []byte) (uint64, error) {
	pos := uint64(s.offset)

	var head [recordHeaderSize]byte
	head[0] = recType
	binary.LittleEndian.PutUint32(head[1:], uint32(len(payload)))

	h := crc32.NewIEEE()
	h.Write(head[:])
	h.Write(payload)

	if _, err := s.writer.Write(head[:]); err != nil {
		return 0, err
	}
	if _, err := s.writer.Write(payload); err != nil {
		return 0, err
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], h.Sum32())
	if _, err := s.writer.Write(crcBuf[:]); err != nil {
		return 0, err
	}

	s.offset += int64(recordHeaderSize + len(payload) + 4)
	return pos, nil
}

// save is the shared implementation of Save/ForceSave: it walks root
// bottom-up, writing every not-yet-persisted (Pos==0) descendant page as a
// record, then appends a trailer publishing the new root, map size, max-key
// sequence, and replica list. force controls whether an already-fully-persisted
// root (nothing dirty) still produces a new trailer, used to reseal replica
// metadata onto the current chunk state without any page content changing.
func (s *Store) save(root *page.Page, mapSize int64, maxKey uint64, replicas []string, force bool) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkHash := crc32.NewIEEE()
	dirty := false

	var walk func(p *page.Page) error
	walk = func(p *page.Page) error {
		if p.Pos != 0 {
			return nil
		}
		dirty = true
		if p.IsNode() {
			for _, c := range p.Children {
				if err := walk(c.Page()); err != nil {
					return err
				}
			}
		}
		data := encodePage(p, s.ser)
		pos, err := s.writeRecord(recordPage, data)
		if err != nil {
			return fmt.Errorf("pagestore: write page record: %w", err)
		}
		chunkHash.Write(data)
		p.Pos = pos
		return nil
	}

	if err := walk(root); err != nil {
		return 0, err
	}

	if !dirty && !force {
		return root.Pos, nil
	}

	trailer := encodeTrailer(root.Pos, mapSize, maxKey, replicas, chunkHash.Sum32())
	if _, err := s.writeRecord(recordTrailer, trailer); err != nil {
		return 0, fmt.Errorf("pagestore: write trailer: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return 0, fmt.Errorf("pagestore: flush chunk: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("pagestore: sync chunk: %w", err)
	}

	s.haveRoot = true
	s.rootPos = root.Pos
	s.mapSize = mapSize
	s.maxKey = maxKey
	s.replicas = replicas
	return root.Pos, nil
}

// Save persists every not-yet-written page reachable from root and
// publishes a new trailer, the common path after a structural write.
// Unchanged subtrees (Pos already set) are skipped entirely — an
// incremental checkpoint, not a full rewrite.
func (s *Store) Save(root *page.Page, mapSize int64, maxKey uint64, replicas []string) (uint64, error) {
	return s.save(root, mapSize, maxKey, replicas, false)
}

// ForceSave writes a new trailer even when root has nothing dirty, used to
// seal updated replica metadata onto the chunk.
func (s *Store) ForceSave(root *page.Page, mapSize int64, maxKey uint64, replicas []string) (uint64, error) {
	return s.save(root, mapSize, maxKey, replicas, true)
}

// ReadPage decodes the page record at pos, resolving any Node children by
// reading through to their own positions.
func (s *Store) ReadPage(pos uint64) (*page.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPageLocked(pos)
}

func (s *Store) readPageLocked(pos uint64) (*page.Page, error) {
	payload, err := s.readRecordAt(pos)
	if err != nil {
		return nil, err
	}
	p, err := decodePage(payload, s.ser, s.readPageLocked)
	if err != nil {
		return nil, err
	}
	p.Pos = pos
	return p, nil
}

func (s *Store) readRecordAt(pos uint64) ([]byte, error) {
	var head [recordHeaderSize]byte
	if _, err := s.file.ReadAt(head[:], int64(pos)); err != nil {
		return nil, fmt.Errorf("pagestore: read record header at %d: %w", pos, err)
	}
	length := binary.LittleEndian.Uint32(head[1:])
	payload := make([]byte, length)
	if _, err := s.file.ReadAt(payload, int64(pos)+recordHeaderSize); err != nil {
		return nil, fmt.Errorf("pagestore: read record payload at %d: %w", pos, err)
	}
	return payload, nil
}

// Package pagestore persists pkg/page.Page images into an append-only
// chunk file (C1): a fixed file header, a sequence of self-describing page
// records, and a trailer record that publishes the new root position, map
// size, and replica list as one atomic unit. Grounded on the teacher's
// pkg/wal.WAL (binary.Write/Read little-endian framing over a bufio.Writer,
// fsync before acknowledging) generalized from single log entries to whole
// page images, with pkg/persistance.Manifest's {id, levels, checksum}
// side-file shape folded into an in-band trailer instead of a side file.
package pagestore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"lealone/pkg/dberrors"
	"lealone/pkg/types"
)

var chunkMagic = [4]byte{'L', 'C', 'H', '1'}

const headerSize = 8 // 4-byte magic + 4-byte version

const (
	recordPage uint8 = iota
	recordTrailer
)

// recordHeaderSize is type(1) + length(4).
const recordHeaderSize = 5

// maxRecordSize bounds a single record's payload so a corrupt length field
// cannot force a huge allocation during recovery.
const maxRecordSize = 64 << 20

// Store owns one chunk file. All writes are serialised by mu, matching the
// teacher's WAL which funnels every Append through a single listener
// goroutine; pagestore instead holds a plain mutex around Save and
// ForceSave, which cmd/lealone calls from its checkpoint loop and at
// shutdown.
type Store struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	writer   *bufio.Writer
	offset   int64

	ser types.Serializer

	haveRoot bool
	rootPos  uint64
	mapSize  int64
	maxKey   uint64
	replicas []string
}

// Open opens or creates the chunk file under dir, replaying it to find the
// last valid trailer. Any bytes after the last valid trailer are discarded
// (truncated) — per spec, a partial write is detected by checksum and the
// prior last-chunk remains authoritative.
func Open(dir string, ser types.Serializer) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("pagestore: empty data dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("pagestore: create data dir: %w", err)
	}

	filePath := filepath.Join(dir, "data.chunk")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open chunk file: %w", err)
	}

	s := &Store{filePath: filePath, file: file, ser: ser}
	if err := s.recover(); err != nil {
		file.Close()
		return nil, err
	}
	s.writer = bufio.NewWriter(file)
	return s, nil
}

// recover reads the header (writing one if the file is new) and replays
// records until the first corrupt or truncated one, restoring whichever
// trailer was last valid and truncating the file to just past it.
func (s *Store) recover() error {
	size, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("pagestore: stat chunk file: %w", err)
	}

	if size == 0 {
		var hdr [headerSize]byte
		copy(hdr[:4], chunkMagic[:])
		binary.LittleEndian.PutUint32(hdr[4:], 1)
		if _, err := s.file.WriteAt(hdr[:], 0); err != nil {
			return fmt.Errorf("pagestore: write chunk header: %w", err)
		}
		s.offset = headerSize
		if _, err := s.file.Seek(s.offset, io.SeekStart); err != nil {
			return fmt.Errorf("pagestore: seek to write position: %w", err)
		}
		return nil
	}

	if size < headerSize {
		return fmt.Errorf("pagestore: %w: truncated header", dberrors.ErrCorruptChunk)
	}
	var hdr [headerSize]byte
	if _, err := s.file.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("pagestore: read chunk header: %w", err)
	}
	if [4]byte{hdr[0], hdr[1], hdr[2], hdr[3]} != chunkMagic {
		return fmt.Errorf("pagestore: %w: bad magic", dberrors.ErrCorruptChunk)
	}

	r := io.NewSectionReader(s.file, headerSize, size-headerSize)
	off := int64(headerSize)
	lastGoodEnd := off
	chunkHash := crc32.NewIEEE()

	for {
		recType, payload, ok := readRecord(r)
		if !ok {
			break
		}
		recSize := int64(recordHeaderSize + len(payload) + 4)

		switch recType {
		case recordPage:
			chunkHash.Write(payload)
			off += recSize
		case recordTrailer:
			rootPos, mapSize, maxKey, replicas, checksum, err := decodeTrailer(payload)
			if err != nil {
				goto done
			}
			if checksum != chunkHash.Sum32() {
				goto done
			}
			s.haveRoot = true
			s.rootPos = rootPos
			s.mapSize = mapSize
			s.maxKey = maxKey
			s.replicas = replicas
			off += recSize
			lastGoodEnd = off
			chunkHash = crc32.NewIEEE()
		default:
			goto done
		}
	}

done:
	s.offset = lastGoodEnd
	if lastGoodEnd < size {
		if err := s.file.Truncate(lastGoodEnd); err != nil {
			return fmt.Errorf("pagestore: truncate after corrupt tail: %w", err)
		}
	}
	if _, err := s.file.Seek(s.offset, io.SeekStart); err != nil {
		return fmt.Errorf("pagestore: seek to write position: %w", err)
	}
	return nil
}

// readRecord reads one [type][len][payload][crc32] record from r, returning
// ok=false on EOF-at-boundary or any corruption/truncation.
func readRecord(r io.Reader) (recType uint8, payload []byte, ok bool) {
	var head [recordHeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return 0, nil, false
	}
	recType = head[0]
	length := binary.LittleEndian.Uint32(head[1:])
	if length > maxRecordSize {
		return 0, nil, false
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, false
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return 0, nil, false
	}
	want := binary.LittleEndian.Uint32(crcBuf[:])

	h := crc32.NewIEEE()
	h.Write(head[:])
	h.Write(payload)
	if h.Sum32() != want {
		return 0, nil, false
	}
	return recType, payload, true
}

// RootPos reports the last committed root position, if any chunk has ever
// been saved.
func (s *Store) RootPos() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootPos, s.haveRoot
}

func (s *Store) MapSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapSize
}

// MaxKey reports the last committed append-key sequence value, restored so
// btree.Map.Restore can resume key assignment without reusing a value handed
// out before a restart.
func (s *Store) MaxKey() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxKey
}

func (s *Store) Replicas() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.replicas))
	copy(out, s.replicas)
	return out
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			return fmt.Errorf("pagestore: flush on close: %w", err)
		}
	}
	return s.file.Close()
}

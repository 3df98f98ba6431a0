package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/google/btree"
	"github.com/myuser/mvccdb/internal/storage/wal"
)

const (
	opSet    byte = 1
	opDelete byte = 2
)

// LogStore is a durable Engine. Every write is appended to a WAL and the
// full key directory is kept in a B-tree, rebuilt by replaying the log on
// open. Compact rewrites the log with only live records.
type LogStore struct {
	mu       sync.RWMutex
	path     string
	log      *wal.WAL
	tree     *btree.BTree
	liveSize int64
}

// LogStatus describes a LogStore's key count and space usage.
type LogStatus struct {
	Keys     int
	Size     int64 // total log size in bytes
	LiveSize int64 // bytes held by live records
}

// GarbageRatio is the fraction of the log occupied by superseded records.
func (s LogStatus) GarbageRatio() float64 {
	if s.Size == 0 {
		return 0
	}
	return float64(s.Size-s.LiveSize) / float64(s.Size)
}

// OpenLogStore opens or creates the log at path. If compactRatio is in (0, 1]
// and the replayed log's garbage ratio reaches it, the log is compacted
// before returning.
func OpenLogStore(path string, compactRatio float64) (*LogStore, error) {
	log, err := wal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	s := &LogStore{
		path: path,
		log:  log,
		tree: btree.New(32),
	}
	if err := log.Iterate(s.replay); err != nil {
		log.Close()
		return nil, fmt.Errorf("replay log %s: %w", path, err)
	}

	if compactRatio > 0 && s.statusLocked().GarbageRatio() >= compactRatio {
		if err := s.Compact(); err != nil {
			s.log.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *LogStore) replay(data []byte) error {
	op, key, value, err := decodeLogRecord(data)
	if err != nil {
		return err
	}
	switch op {
	case opSet:
		s.put(key, value)
	case opDelete:
		s.remove(key)
	}
	return nil
}

func (s *LogStore) put(key, value []byte) {
	prev := s.tree.ReplaceOrInsert(&item{key: key, value: value})
	if prev != nil {
		p := prev.(*item)
		s.liveSize -= wal.RecordSize(logRecordSize(p.key, p.value))
	}
	s.liveSize += wal.RecordSize(logRecordSize(key, value))
}

func (s *LogStore) remove(key []byte) {
	prev := s.tree.Delete(&item{key: key})
	if prev != nil {
		p := prev.(*item)
		s.liveSize -= wal.RecordSize(logRecordSize(p.key, p.value))
	}
}

func (s *LogStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.log == nil {
		return ErrClosed
	}
	key, value = clone(key), clone(value)
	if err := s.log.Append(encodeLogRecord(opSet, key, value)); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	s.put(key, value)
	return nil
}

func (s *LogStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.log == nil {
		return nil, ErrClosed
	}
	found := s.tree.Get(&item{key: key})
	if found == nil {
		return nil, nil
	}
	return found.(*item).value, nil
}

func (s *LogStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.log == nil {
		return ErrClosed
	}
	if !s.tree.Has(&item{key: key}) {
		return nil
	}
	if err := s.log.Append(encodeLogRecord(opDelete, key, nil)); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	s.remove(key)
	return nil
}

func (s *LogStore) Scan(start, end []byte, fn ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.log == nil {
		return ErrClosed
	}
	if err := checkRange(start, end); err != nil {
		return err
	}
	ascendRange(s.tree, start, end, fn)
	return nil
}

func (s *LogStore) ReverseScan(start, end []byte, fn ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.log == nil {
		return ErrClosed
	}
	if err := checkRange(start, end); err != nil {
		return err
	}
	descendRange(s.tree, start, end, fn)
	return nil
}

func (s *LogStore) ScanPrefix(prefix []byte, fn ScanFunc) error {
	return s.Scan(prefix, PrefixEnd(prefix), fn)
}

// Status reports key count and log space usage.
func (s *LogStore) Status() LogStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *LogStore) statusLocked() LogStatus {
	return LogStatus{
		Keys:     s.tree.Len(),
		Size:     s.log.Size(),
		LiveSize: s.liveSize,
	}
}

// Compact rewrites the log so it holds exactly one set record per live key,
// then atomically replaces the old log with it.
func (s *LogStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.log == nil {
		return ErrClosed
	}

	tmpPath := s.path + ".compact"
	os.Remove(tmpPath)
	tmp, err := wal.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("compact %s: %w", s.path, err)
	}

	var writeErr error
	s.tree.Ascend(func(i btree.Item) bool {
		it := i.(*item)
		writeErr = tmp.Append(encodeLogRecord(opSet, it.key, it.value))
		return writeErr == nil
	})
	if writeErr != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("compact %s: %w", s.path, writeErr)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("compact %s: %w", s.path, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("compact %s: %w", s.path, err)
	}
	s.log.Close()

	log, err := wal.Open(s.path)
	if err != nil {
		s.log = nil
		return fmt.Errorf("reopen %s after compaction: %w", s.path, err)
	}
	s.log = log
	return nil
}

func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	return err
}

// Record format: Op(1) | KeyLen(uvarint) | Key | Value
func encodeLogRecord(op byte, key, value []byte) []byte {
	buf := make([]byte, 0, logRecordSize(key, value))
	buf = append(buf, op)
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	buf = append(buf, key...)
	return append(buf, value...)
}

func logRecordSize(key, value []byte) int {
	var tmp [binary.MaxVarintLen64]byte
	return 1 + binary.PutUvarint(tmp[:], uint64(len(key))) + len(key) + len(value)
}

func decodeLogRecord(data []byte) (byte, []byte, []byte, error) {
	if len(data) < 1 {
		return 0, nil, nil, fmt.Errorf("%w: empty log record", wal.ErrCorrupt)
	}
	op := data[0]
	if op != opSet && op != opDelete {
		return 0, nil, nil, fmt.Errorf("%w: unknown log op %d", wal.ErrCorrupt, op)
	}
	keyLen, n := binary.Uvarint(data[1:])
	if n <= 0 || uint64(len(data)-1-n) < keyLen {
		return 0, nil, nil, fmt.Errorf("%w: bad key length", wal.ErrCorrupt)
	}
	rest := data[1+n:]
	key := rest[:keyLen]
	value := rest[keyLen:]
	return op, key, clone(value), nil
}

package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleStore is a durable Engine backed by a Pebble LSM tree.
// Writes are synced before they return.
type PebbleStore struct {
	mu  sync.RWMutex
	db  *pebble.DB
	dir string
}

// OpenPebbleStore opens or creates a Pebble database in dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db, dir: dir}, nil
}

func (s *PebbleStore) Set(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (s *PebbleStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	return clone(val), nil
}

func (s *PebbleStore) Delete(key []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

func (s *PebbleStore) Scan(start, end []byte, fn ScanFunc) error {
	return s.iterate(start, end, false, fn)
}

func (s *PebbleStore) ReverseScan(start, end []byte, fn ScanFunc) error {
	return s.iterate(start, end, true, fn)
}

func (s *PebbleStore) ScanPrefix(prefix []byte, fn ScanFunc) error {
	return s.iterate(prefix, PrefixEnd(prefix), false, fn)
}

func (s *PebbleStore) iterate(start, end []byte, reverse bool, fn ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}
	if err := checkRange(start, end); err != nil {
		return err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: end,
	})
	if err != nil {
		return fmt.Errorf("pebble iterator: %w", err)
	}

	valid, step := iter.First, iter.Next
	if reverse {
		valid, step = iter.Last, iter.Prev
	}
	for ok := valid(); ok; ok = step() {
		value, err := iter.ValueAndErr()
		if err != nil {
			iter.Close()
			return fmt.Errorf("pebble value: %w", err)
		}
		// The iterator reuses its buffers between steps.
		if !fn(clone(iter.Key()), clone(value)) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return fmt.Errorf("pebble scan: %w", err)
	}
	return iter.Close()
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

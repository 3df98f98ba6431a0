package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

// MemoryStore implements Engine on an in-memory B-tree.
// It never fails except on precondition violations.
type MemoryStore struct {
	mu     sync.RWMutex
	tree   *btree.BTree
	closed bool
}

type item struct {
	key   []byte
	value []byte
}

func (i *item) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*item).key) < 0
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree: btree.New(32),
	}
}

func (s *MemoryStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.tree.ReplaceOrInsert(&item{key: clone(key), value: clone(value)})
	return nil
}

func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	found := s.tree.Get(&item{key: key})
	if found == nil {
		return nil, nil
	}
	return found.(*item).value, nil
}

func (s *MemoryStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.tree.Delete(&item{key: key})
	return nil
}

func (s *MemoryStore) Scan(start, end []byte, fn ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if err := checkRange(start, end); err != nil {
		return err
	}
	ascendRange(s.tree, start, end, fn)
	return nil
}

func (s *MemoryStore) ReverseScan(start, end []byte, fn ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if err := checkRange(start, end); err != nil {
		return err
	}
	descendRange(s.tree, start, end, fn)
	return nil
}

func (s *MemoryStore) ScanPrefix(prefix []byte, fn ScanFunc) error {
	return s.Scan(prefix, PrefixEnd(prefix), fn)
}

// Len returns the number of keys in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ascendRange visits [start, end) of a tree of *item in ascending order.
func ascendRange(tree *btree.BTree, start, end []byte, fn ScanFunc) {
	visit := func(i btree.Item) bool {
		it := i.(*item)
		return fn(it.key, it.value)
	}
	switch {
	case start == nil && end == nil:
		tree.Ascend(visit)
	case end == nil:
		tree.AscendGreaterOrEqual(&item{key: start}, visit)
	case start == nil:
		tree.AscendLessThan(&item{key: end}, visit)
	default:
		tree.AscendRange(&item{key: start}, &item{key: end}, visit)
	}
}

// descendRange visits [start, end) of a tree of *item in descending order.
func descendRange(tree *btree.BTree, start, end []byte, fn ScanFunc) {
	visit := func(i btree.Item) bool {
		it := i.(*item)
		if start != nil && bytes.Compare(it.key, start) < 0 {
			return false
		}
		if end != nil && bytes.Equal(it.key, end) {
			// DescendLessOrEqual includes the pivot; end is exclusive.
			return true
		}
		return fn(it.key, it.value)
	}
	if end == nil {
		tree.Descend(visit)
		return
	}
	tree.DescendLessOrEqual(&item{key: end}, visit)
}

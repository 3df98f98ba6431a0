package storage

import (
	"bytes"
	"errors"
)

var (
	// ErrInvalidRange is returned when a scan's start bound sorts after its end bound.
	ErrInvalidRange = errors.New("storage: invalid range")
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("storage: engine closed")
)

// ScanFunc is called for each key-value pair in a scan.
// Returning false stops the iteration. The slices must not be modified.
type ScanFunc func(key, value []byte) bool

// Engine defines the interface for the local storage engine.
// It is an ordered byte-keyed store with no knowledge of versions.
// Implementations are not required to be safe for concurrent use;
// callers serialize access.
type Engine interface {
	// Set writes a key-value pair, replacing any existing value.
	Set(key, value []byte) error

	// Get retrieves a value by key. It returns nil, nil if the key is absent.
	// Values of present keys are never nil.
	Get(key []byte) ([]byte, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Scan iterates over [start, end) in ascending key order.
	// A nil start or end leaves that side unbounded.
	// fn must not call back into the engine.
	Scan(start, end []byte, fn ScanFunc) error

	// ReverseScan iterates over [start, end) in descending key order.
	ReverseScan(start, end []byte, fn ScanFunc) error

	// ScanPrefix iterates over every key starting with prefix in ascending order.
	ScanPrefix(prefix []byte, fn ScanFunc) error

	// Close closes the storage engine.
	Close() error
}

// PrefixEnd returns the smallest key that is greater than every key with
// the given prefix, or nil if there is none (the prefix is all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func checkRange(start, end []byte) error {
	if start != nil && end != nil && bytes.Compare(start, end) > 0 {
		return ErrInvalidRange
	}
	return nil
}

func clone(b []byte) []byte {
	return append([]byte{}, b...)
}

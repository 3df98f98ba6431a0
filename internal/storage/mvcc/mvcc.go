// Package mvcc implements snapshot-isolated transactions on top of an
// ordered byte store.
//
// Every write is stored as a new version record keyed by (logical key,
// version). A transaction sees the newest version of each key that was
// written either by itself or by a transaction that committed before it
// began. Conflicting writes are detected eagerly, at write time, so Commit
// never fails on a conflict.
//
// All engine access is serialized by a single mutex held for the duration of
// each operation, which makes every conflict check and the write it guards
// one atomic unit.
package mvcc

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/myuser/mvccdb/internal/metrics"
	"github.com/myuser/mvccdb/internal/storage"
)

// formatVersion is stored as unversioned metadata and checked on open.
const formatVersion = "1"

var formatKey = []byte("format_version")

// MVCC is a transactional, multi-version key-value store.
type MVCC struct {
	mu     sync.Mutex
	engine storage.Engine
	txns   txnRegistry
	live   map[uint64]*Transaction // transactions begun by this process and not yet finished
	cfg    config
	logger *slog.Logger
}

// Status summarizes the stored state.
type Status struct {
	NextVersion uint64
	ActiveTxns  int
	Keys        int // distinct logical keys with at least one version record
	Versions    int // version records, including tombstones
	Tombstones  int
}

// New wraps engine and runs crash recovery before returning, so no
// transaction left active by a previous process survives. The MVCC takes
// ownership of engine; Close closes it.
func New(engine storage.Engine, opts ...Option) (*MVCC, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	m := &MVCC{
		engine: engine,
		txns:   txnRegistry{engine: engine},
		live:   make(map[uint64]*Transaction),
		cfg:    cfg,
		logger: cfg.logger,
	}

	if err := m.checkFormat(); err != nil {
		return nil, err
	}
	if _, err := m.Recover(); err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	return m, nil
}

func (m *MVCC) checkFormat() error {
	stored, err := m.GetUnversioned(formatKey)
	if err != nil {
		return err
	}
	if stored == nil {
		return m.SetUnversioned(formatKey, []byte(formatVersion))
	}
	if string(stored) != formatVersion {
		return fmt.Errorf("%w: unsupported storage format %q", ErrCorrupt, stored)
	}
	return nil
}

// Begin starts a transaction. Its snapshot is the set of transactions active
// at this instant; none of their writes will ever be visible to it.
func (m *MVCC) Begin() (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, err := m.txns.allActive()
	if err != nil {
		return nil, err
	}
	version, err := m.txns.begin()
	if err != nil {
		return nil, err
	}
	metrics.TxnBegun.Inc()
	metrics.TxnActive.Inc()

	t := &Transaction{
		m:        m,
		version:  version,
		snapshot: snapshot,
	}
	m.live[version] = t
	m.logger.Debug("transaction begun", "version", version, "concurrent", len(snapshot))
	return t, nil
}

// Update runs fn in a new transaction and commits it. If fn returns an
// error the transaction is rolled back and the error returned. Conflicts are
// not retried; retry policy belongs to the caller.
func (m *MVCC) Update(fn func(*Transaction) error) error {
	txn, err := m.Begin()
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		if rbErr := txn.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxnDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return txn.Commit()
}

// View runs fn in a new transaction that is always rolled back.
func (m *MVCC) View(fn func(*Transaction) error) error {
	txn, err := m.Begin()
	if err != nil {
		return err
	}
	err = fn(txn)
	if rbErr := txn.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxnDone) {
		return errors.Join(err, rbErr)
	}
	return err
}

// GetUnversioned reads a metadata key outside of any transaction.
// Returns nil, nil if the key is absent.
func (m *MVCC) GetUnversioned(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Get(unversionedKey(key))
}

// SetUnversioned writes a metadata key outside of any transaction.
func (m *MVCC) SetUnversioned(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Set(unversionedKey(key), value)
}

// Status scans the store and reports version and key counts.
func (m *MVCC) Status() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st Status
	next, err := m.txns.peekVersion()
	if err != nil {
		return st, err
	}
	st.NextVersion = next
	active, err := m.txns.allActive()
	if err != nil {
		return st, err
	}
	st.ActiveTxns = len(active)

	var (
		lastKey   []byte
		decodeErr error
	)
	err = m.engine.ScanPrefix([]byte{nsVersion}, func(k, v []byte) bool {
		key, _, err := DecodeVersionKey(k)
		if err != nil {
			decodeErr = err
			return false
		}
		st.Versions++
		if len(v) == 1 && v[0] == tagTombstone {
			st.Tombstones++
		}
		if lastKey == nil || !bytes.Equal(key, lastKey) {
			st.Keys++
			lastKey = key
		}
		return true
	})
	if err != nil {
		return st, err
	}
	return st, decodeErr
}

// Engine returns the underlying engine. Callers must not write to it while
// the MVCC is in use.
func (m *MVCC) Engine() storage.Engine {
	return m.engine
}

// Close closes the underlying engine. Transactions still active are left
// in the active set and rolled back by recovery on the next open.
func (m *MVCC) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Close()
}

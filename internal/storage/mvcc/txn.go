package mvcc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/myuser/mvccdb/internal/metrics"
	"github.com/myuser/mvccdb/internal/storage"
)

// txnState describes the transaction lifecycle:
// active -> committed | rolledBack
type txnState int

const (
	txnActive txnState = iota
	txnCommitted
	txnRolledBack
)

// ScanResult is one visible key-value pair returned by a prefix scan.
type ScanResult struct {
	Key   []byte
	Value []byte
}

// Transaction is a snapshot-isolated unit of work.
// It is safe to use from multiple goroutines, though operations are
// serialized.
type Transaction struct {
	m        *MVCC
	version  uint64
	snapshot map[uint64]struct{} // versions active when this transaction began
	state    txnState
}

// Version returns the transaction's version.
func (t *Transaction) Version() uint64 {
	return t.version
}

// isVisible reports whether a record written at version v can be seen.
func (t *Transaction) isVisible(v uint64) bool {
	if v == t.version {
		return true
	}
	if v > t.version {
		return false
	}
	_, concurrent := t.snapshot[v]
	return !concurrent
}

func (t *Transaction) checkActive() error {
	if t.state != txnActive {
		return ErrTxnDone
	}
	return nil
}

// Get returns the newest value of key visible to this transaction,
// or nil, nil if there is none or it was deleted.
func (t *Transaction) Get(key []byte) ([]byte, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return nil, err
	}

	var (
		value   []byte
		scanErr error
	)
	// Seeking to our own version skips everything newer.
	start := EncodeVersionKey(key, t.version)
	end := storage.PrefixEnd(versionKeyPrefix(key))
	err := t.m.engine.Scan(start, end, func(k, v []byte) bool {
		_, version, err := DecodeVersionKey(k)
		if err != nil {
			scanErr = err
			return false
		}
		if !t.isVisible(version) {
			return true
		}
		value, _, scanErr = decodeValue(v)
		return false
	})
	if err == nil {
		err = scanErr
	}
	if err != nil {
		return nil, t.abortLocked(fmt.Errorf("get %q: %w", key, err))
	}
	return value, nil
}

// Set writes value for key at this transaction's version.
// On error the transaction is rolled back.
func (t *Transaction) Set(key, value []byte) error {
	return t.write(key, encodeValue(value))
}

// Delete writes a tombstone for key at this transaction's version.
// On error the transaction is rolled back.
func (t *Transaction) Delete(key []byte) error {
	return t.write(key, encodeTombstone())
}

func (t *Transaction) write(key, record []byte) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return err
	}
	if err := t.checkConflictLocked(key); err != nil {
		return t.abortLocked(err)
	}
	// Index first, so a crash between the two writes leaves a record that
	// recovery can find.
	if err := t.m.engine.Set(txnWriteKey(t.version, key), []byte{}); err != nil {
		return t.abortLocked(fmt.Errorf("index write of %q: %w", key, err))
	}
	if err := t.m.engine.Set(EncodeVersionKey(key, t.version), record); err != nil {
		return t.abortLocked(fmt.Errorf("write %q: %w", key, err))
	}
	return nil
}

// checkConflictLocked fails if the newest version of key is one this
// transaction cannot see: either a concurrent transaction's write or a
// write by a transaction that began later.
func (t *Transaction) checkConflictLocked(key []byte) error {
	var (
		latest  uint64
		found   bool
		scanErr error
	)
	err := t.m.engine.ScanPrefix(versionKeyPrefix(key), func(k, _ []byte) bool {
		found = true
		_, latest, scanErr = DecodeVersionKey(k)
		return false
	})
	if err == nil {
		err = scanErr
	}
	if err != nil {
		return fmt.Errorf("conflict check on %q: %w", key, err)
	}
	if found && !t.isVisible(latest) {
		metrics.TxnConflicts.Inc()
		t.m.logger.Debug("write-write conflict", "version", t.version, "key", key, "holder", latest)
		return fmt.Errorf("%w: key %q written by version %d", ErrConflict, key, latest)
	}
	return nil
}

// ScanPrefix returns every visible, non-deleted key starting with prefix,
// in ascending key order.
func (t *Transaction) ScanPrefix(prefix []byte) ([]ScanResult, error) {
	return t.scanPrefix(prefix, false)
}

// ReverseScanPrefix is ScanPrefix in descending key order.
func (t *Transaction) ReverseScanPrefix(prefix []byte) ([]ScanResult, error) {
	return t.scanPrefix(prefix, true)
}

func (t *Transaction) scanPrefix(prefix []byte, reverse bool) ([]ScanResult, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return nil, err
	}

	start := versionScanPrefix(prefix)
	end := storage.PrefixEnd(start)

	var results []ScanResult
	var err error
	if reverse {
		results, err = t.reverseMergeLocked(start, end)
	} else {
		results, err = t.mergeLocked(start, end)
	}
	if err != nil {
		return nil, t.abortLocked(fmt.Errorf("scan prefix %q: %w", prefix, err))
	}
	return results, nil
}

// mergeLocked walks version records in ascending physical order, where each
// key's versions run newest first, and keeps the first visible one per key.
func (t *Transaction) mergeLocked(start, end []byte) ([]ScanResult, error) {
	var (
		results  []ScanResult
		current  []byte
		resolved bool
		scanErr  error
	)
	err := t.m.engine.Scan(start, end, func(k, v []byte) bool {
		key, version, err := DecodeVersionKey(k)
		if err != nil {
			scanErr = err
			return false
		}
		if current == nil || !bytes.Equal(key, current) {
			current, resolved = key, false
		}
		if resolved || !t.isVisible(version) {
			return true
		}
		resolved = true
		value, live, err := decodeValue(v)
		if err != nil {
			scanErr = err
			return false
		}
		if live {
			results = append(results, ScanResult{Key: key, Value: value})
		}
		return true
	})
	if err == nil {
		err = scanErr
	}
	return results, err
}

// reverseMergeLocked walks version records in descending physical order,
// where each key's versions run oldest first, so the last visible version
// seen before the key changes is the one to return.
func (t *Transaction) reverseMergeLocked(start, end []byte) ([]ScanResult, error) {
	var (
		results   []ScanResult
		current   []byte
		candidate []byte
		scanErr   error
	)
	flush := func() error {
		if candidate == nil {
			return nil
		}
		value, live, err := decodeValue(candidate)
		if err != nil {
			return err
		}
		if live {
			results = append(results, ScanResult{Key: current, Value: value})
		}
		candidate = nil
		return nil
	}
	err := t.m.engine.ReverseScan(start, end, func(k, v []byte) bool {
		key, version, err := DecodeVersionKey(k)
		if err != nil {
			scanErr = err
			return false
		}
		if current == nil || !bytes.Equal(key, current) {
			if scanErr = flush(); scanErr != nil {
				return false
			}
			current = key
		}
		if t.isVisible(version) {
			candidate = v
		}
		return true
	})
	if err == nil {
		err = scanErr
	}
	if err == nil {
		err = flush()
	}
	return results, err
}

// Commit makes the transaction's writes visible to transactions that begin
// afterwards. Conflicts were caught at write time, so Commit only fails on
// storage errors.
func (t *Transaction) Commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return err
	}
	keys, err := t.m.txns.writtenKeys(t.version)
	if err != nil {
		return t.abortLocked(fmt.Errorf("commit %d: %w", t.version, err))
	}
	// Clearing the active marker is the commit point.
	if err := t.m.txns.commit(t.version); err != nil {
		return t.abortLocked(fmt.Errorf("commit %d: %w", t.version, err))
	}
	t.state = txnCommitted
	delete(t.m.live, t.version)
	metrics.TxnFinished.WithLabelValues(metrics.OutcomeCommitted).Inc()
	metrics.TxnActive.Dec()

	// Leftover index entries are harmless; recovery removes them.
	for _, key := range keys {
		if err := t.m.engine.Delete(txnWriteKey(t.version, key)); err != nil {
			t.m.logger.Warn("failed to clear written-by index after commit",
				"version", t.version, "key", key, "error", err)
			break
		}
	}
	t.m.logger.Debug("transaction committed", "version", t.version, "writes", len(keys))
	return nil
}

// Rollback discards every write made by the transaction. Rolling back a
// transaction that was already rolled back is a no-op; rolling back a
// committed one returns ErrTxnDone.
func (t *Transaction) Rollback() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	switch t.state {
	case txnRolledBack:
		return nil
	case txnCommitted:
		return ErrTxnDone
	}
	return t.rollbackLocked()
}

func (t *Transaction) rollbackLocked() error {
	n, err := t.m.rollbackVersionLocked(t.version)
	// Even a failed rollback ends the transaction; recovery finishes the
	// job on the next open since the active marker is still present.
	t.state = txnRolledBack
	delete(t.m.live, t.version)
	metrics.TxnFinished.WithLabelValues(metrics.OutcomeRolledBack).Inc()
	metrics.TxnActive.Dec()
	if err != nil {
		return fmt.Errorf("rollback %d: %w", t.version, err)
	}
	t.m.logger.Debug("transaction rolled back", "version", t.version, "writes", n)
	return nil
}

// abortLocked rolls the transaction back after cause and returns cause,
// joined with any rollback failure.
func (t *Transaction) abortLocked(cause error) error {
	if err := t.rollbackLocked(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// rollbackVersionLocked deletes every version record written at version,
// its written-by index entries, and finally its active marker.
func (m *MVCC) rollbackVersionLocked(version uint64) (int, error) {
	keys, err := m.txns.writtenKeys(version)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := m.engine.Delete(EncodeVersionKey(key, version)); err != nil {
			return 0, fmt.Errorf("undo write of %q: %w", key, err)
		}
		if err := m.engine.Delete(txnWriteKey(version, key)); err != nil {
			return 0, fmt.Errorf("clear written-by index of %q: %w", key, err)
		}
	}
	if err := m.txns.rollback(version); err != nil {
		return 0, err
	}
	return len(keys), nil
}

package mvcc

import (
	"fmt"

	"github.com/myuser/mvccdb/internal/storage"
	"github.com/myuser/mvccdb/internal/storage/keycode"
)

// txnRegistry is the version allocator and the persisted active-transaction
// set. Callers hold the MVCC lock.
type txnRegistry struct {
	engine storage.Engine
}

// peekVersion returns the version the next begin will receive.
func (r txnRegistry) peekVersion() (uint64, error) {
	raw, err := r.engine.Get(nextVersionKey())
	if err != nil {
		return 0, fmt.Errorf("read next version: %w", err)
	}
	if raw == nil {
		return 1, nil
	}
	v, rest, err := keycode.DecodeUint64(raw)
	if err != nil || len(rest) != 0 {
		return 0, fmt.Errorf("%w: next version record %x", ErrCorrupt, raw)
	}
	return v, nil
}

// begin allocates a version, persists the new high-water mark and marks the
// version active.
func (r txnRegistry) begin() (uint64, error) {
	version, err := r.peekVersion()
	if err != nil {
		return 0, err
	}
	if err := r.engine.Set(nextVersionKey(), keycode.AppendUint64(nil, version+1)); err != nil {
		return 0, fmt.Errorf("persist next version: %w", err)
	}
	if err := r.engine.Set(txnActiveKey(version), []byte{}); err != nil {
		return 0, fmt.Errorf("mark version %d active: %w", version, err)
	}
	return version, nil
}

// allActive returns every version currently marked active.
func (r txnRegistry) allActive() (map[uint64]struct{}, error) {
	active := make(map[uint64]struct{})
	var decodeErr error
	err := r.engine.ScanPrefix([]byte{nsTxnActive}, func(k, _ []byte) bool {
		v, err := decodeTxnActiveKey(k)
		if err != nil {
			decodeErr = err
			return false
		}
		active[v] = struct{}{}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan active set: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return active, nil
}

// commit removes version from the active set, making its writes visible to
// transactions that begin afterwards.
func (r txnRegistry) commit(version uint64) error {
	return r.clear(version)
}

// rollback removes version from the active set. Its writes must already be gone.
func (r txnRegistry) rollback(version uint64) error {
	return r.clear(version)
}

func (r txnRegistry) clear(version uint64) error {
	if err := r.engine.Delete(txnActiveKey(version)); err != nil {
		return fmt.Errorf("clear active marker %d: %w", version, err)
	}
	return nil
}

// writtenKeys returns the logical keys in version's written-by index.
func (r txnRegistry) writtenKeys(version uint64) ([][]byte, error) {
	var (
		keys      [][]byte
		decodeErr error
	)
	err := r.engine.ScanPrefix(txnWritePrefix(version), func(k, _ []byte) bool {
		_, key, err := decodeTxnWriteKey(k)
		if err != nil {
			decodeErr = err
			return false
		}
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan written-by index of %d: %w", version, err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return keys, nil
}

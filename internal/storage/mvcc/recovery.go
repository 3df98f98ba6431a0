package mvcc

import (
	"fmt"

	"github.com/myuser/mvccdb/internal/metrics"
)

// Recover rolls back every transaction left active by a previous process
// and removes written-by index entries of committed transactions that were
// interrupted before clearing them. Transactions begun through this MVCC are
// left alone. It returns the number of transactions rolled back and is safe
// to run any number of times.
func (m *MVCC) Recover() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.txns.allActive()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for version := range active {
		if _, ok := m.live[version]; ok {
			continue
		}
		n, err := m.rollbackVersionLocked(version)
		if err != nil {
			return recovered, fmt.Errorf("roll back abandoned transaction %d: %w", version, err)
		}
		recovered++
		m.logger.Info("rolled back abandoned transaction", "version", version, "writes", n)
	}
	metrics.RecoveredTxns.Add(float64(recovered))

	orphans, err := m.orphanedIndexLocked(active)
	if err != nil {
		return recovered, err
	}
	for _, k := range orphans {
		if err := m.engine.Delete(k); err != nil {
			return recovered, fmt.Errorf("clear orphaned index entry %x: %w", k, err)
		}
	}
	if len(orphans) > 0 {
		m.logger.Info("cleared orphaned written-by index entries", "count", len(orphans))
	}
	return recovered, nil
}

// orphanedIndexLocked returns written-by index keys whose version was not
// active. Such a version committed, so its records stay and only the index
// entry goes.
func (m *MVCC) orphanedIndexLocked(active map[uint64]struct{}) ([][]byte, error) {
	var (
		orphans   [][]byte
		decodeErr error
	)
	err := m.engine.ScanPrefix([]byte{nsTxnWrite}, func(k, _ []byte) bool {
		version, _, err := decodeTxnWriteKey(k)
		if err != nil {
			decodeErr = err
			return false
		}
		if _, ok := active[version]; !ok {
			orphans = append(orphans, append([]byte{}, k...))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan written-by index: %w", err)
	}
	return orphans, decodeErr
}

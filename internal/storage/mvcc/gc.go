package mvcc

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/myuser/mvccdb/internal/metrics"
)

// GC deletes version records that no present or future transaction can
// read, and returns how many it removed.
//
// The floor is the lowest version that some transaction may still need to
// tell apart: the next version to be allocated, every active version, and
// every version in a live transaction's snapshot. For each logical key, the
// newest record below the floor is kept and older ones are deleted. Records
// at or above the floor are never touched, and a tombstone below the floor
// is kept while it is the newest record of its key.
func (m *MVCC) GC() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	floor, err := m.gcFloorLocked()
	if err != nil {
		return 0, fmt.Errorf("gc: %w", err)
	}

	var (
		garbage [][]byte
		current []byte
		keptOne bool
		scanErr error
	)
	// Collect first: engines do not allow mutation from a scan callback.
	err = m.engine.ScanPrefix([]byte{nsVersion}, func(k, _ []byte) bool {
		key, version, err := DecodeVersionKey(k)
		if err != nil {
			scanErr = err
			return false
		}
		if current == nil || !bytes.Equal(key, current) {
			current, keptOne = key, false
		}
		if version >= floor {
			return true
		}
		if !keptOne {
			keptOne = true
			return true
		}
		garbage = append(garbage, append([]byte{}, k...))
		return true
	})
	if err == nil {
		err = scanErr
	}
	if err != nil {
		return 0, fmt.Errorf("gc: %w", err)
	}

	for i, k := range garbage {
		if err := m.engine.Delete(k); err != nil {
			metrics.GCVersionsDeleted.Add(float64(i))
			return i, fmt.Errorf("gc: delete %x: %w", k, err)
		}
	}
	metrics.GCRuns.Inc()
	metrics.GCVersionsDeleted.Add(float64(len(garbage)))
	m.logger.Info("gc finished", "floor", floor, "deleted", len(garbage), "took", time.Since(start))
	return len(garbage), nil
}

func (m *MVCC) gcFloorLocked() (uint64, error) {
	floor, err := m.txns.peekVersion()
	if err != nil {
		return 0, err
	}
	active, err := m.txns.allActive()
	if err != nil {
		return 0, err
	}
	for v := range active {
		floor = min(floor, v)
	}
	for _, t := range m.live {
		floor = min(floor, t.version)
		for v := range t.snapshot {
			floor = min(floor, v)
		}
	}
	return floor, nil
}

// RunGC calls GC every configured interval until ctx is done. It returns
// immediately if the interval is not positive.
func (m *MVCC) RunGC(ctx context.Context) {
	if m.cfg.gcInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.GC(); err != nil {
				m.logger.Warn("background gc failed", "error", err)
			}
		}
	}
}

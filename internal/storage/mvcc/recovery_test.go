package mvcc

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/myuser/mvccdb/internal/storage"
)

// snapshot copies every record in the engine, in order.
func snapshot(t *testing.T, e storage.Engine) [][2][]byte {
	t.Helper()
	var out [][2][]byte
	err := e.Scan(nil, nil, func(k, v []byte) bool {
		out = append(out, [2][]byte{append([]byte{}, k...), append([]byte{}, v...)})
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return out
}

func equalRecords(a, b [][2][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i][0], b[i][0]) || !bytes.Equal(a[i][1], b[i][1]) {
			return false
		}
	}
	return true
}

func TestRecoverAbandonedTransaction(t *testing.T) {
	e := storage.NewMemoryStore()
	crashed := newMVCC(t, e)

	setup := begin(t, crashed)
	set(t, setup, "a", "committed")
	commit(t, setup)

	inflight := begin(t, crashed)
	set(t, inflight, "a", "lost")
	set(t, inflight, "b", "lost")
	// The process dies here: a second MVCC over the same engine stands in
	// for the restart.

	m := newMVCC(t, e)
	st, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.ActiveTxns != 0 || st.Versions != 1 {
		t.Errorf("after recovery: want 1 version and no active txns, got %+v", st)
	}

	txn := begin(t, m)
	expectGet(t, txn, "a", "committed", true)
	expectGet(t, txn, "b", "", false)
	set(t, txn, "a", "new")
	commit(t, txn)

	before := snapshot(t, e)
	n, err := m.Recover()
	if err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	if n != 0 {
		t.Errorf("second Recover: want 0 rolled back, got %d", n)
	}
	if !equalRecords(before, snapshot(t, e)) {
		t.Error("second Recover changed the store")
	}
}

func TestRecoverKeepsLiveTransactions(t *testing.T) {
	m := newMVCC(t, storage.NewMemoryStore())
	defer m.Close()

	txn := begin(t, m)
	set(t, txn, "k", "v")

	n, err := m.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 0 {
		t.Errorf("Recover: want 0 rolled back, got %d", n)
	}
	expectGet(t, txn, "k", "v", true)
	commit(t, txn)
}

func TestRecoverOrphanedIndex(t *testing.T) {
	e := storage.NewMemoryStore()
	m := newMVCC(t, e)

	txn := begin(t, m)
	set(t, txn, "k", "v")
	commit(t, txn)

	// A crash after the commit point but before the index was cleared.
	if err := e.Set(txnWriteKey(txn.Version(), []byte("k")), []byte{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	n, err := m.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 0 {
		t.Errorf("Recover: want 0 rolled back, got %d", n)
	}
	var entries int
	e.ScanPrefix([]byte{nsTxnWrite}, func(_, _ []byte) bool {
		entries++
		return true
	})
	if entries != 0 {
		t.Errorf("written-by index: want empty, got %d entries", entries)
	}
	reader := begin(t, m)
	expectGet(t, reader, "k", "v", true)
}

func TestRecoverAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")
	s, err := storage.OpenLogStore(path, 0)
	if err != nil {
		t.Fatalf("OpenLogStore: %v", err)
	}
	m := newMVCC(t, s)

	setup := begin(t, m)
	set(t, setup, "k", "durable")
	commit(t, setup)

	inflight := begin(t, m)
	set(t, inflight, "k", "lost")
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = storage.OpenLogStore(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	m = newMVCC(t, s)
	defer m.Close()

	txn := begin(t, m)
	if txn.Version() <= inflight.Version() {
		t.Errorf("version reused after recovery: %d <= %d", txn.Version(), inflight.Version())
	}
	expectGet(t, txn, "k", "durable", true)
}

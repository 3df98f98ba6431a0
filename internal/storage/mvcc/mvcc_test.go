package mvcc

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/myuser/mvccdb/internal/storage"
)

type storeFactory struct {
	name string
	open func(t *testing.T) storage.Engine
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) storage.Engine {
			return storage.NewMemoryStore()
		}},
		{"log", func(t *testing.T) storage.Engine {
			s, err := storage.OpenLogStore(filepath.Join(t.TempDir(), "data.log"), 0)
			if err != nil {
				t.Fatalf("OpenLogStore: %v", err)
			}
			return s
		}},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMVCC(t *testing.T, e storage.Engine) *MVCC {
	t.Helper()
	m, err := New(e, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func begin(t *testing.T, m *MVCC) *Transaction {
	t.Helper()
	txn, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return txn
}

func set(t *testing.T, txn *Transaction, k, v string) {
	t.Helper()
	if err := txn.Set([]byte(k), []byte(v)); err != nil {
		t.Fatalf("txn %d Set(%q): %v", txn.Version(), k, err)
	}
}

func commit(t *testing.T, txn *Transaction) {
	t.Helper()
	if err := txn.Commit(); err != nil {
		t.Fatalf("txn %d Commit: %v", txn.Version(), err)
	}
}

// expectGet checks a point read. With found false the key must be invisible.
func expectGet(t *testing.T, txn *Transaction, k, want string, found bool) {
	t.Helper()
	got, err := txn.Get([]byte(k))
	if err != nil {
		t.Fatalf("txn %d Get(%q): %v", txn.Version(), k, err)
	}
	if !found {
		if got != nil {
			t.Errorf("txn %d Get(%q): want not found, got %q", txn.Version(), k, got)
		}
		return
	}
	if got == nil || string(got) != want {
		t.Errorf("txn %d Get(%q): want %q, got %q", txn.Version(), k, want, got)
	}
}

func TestMVCC(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			t.Run("SnapshotIsolation", func(t *testing.T) { testSnapshotIsolation(t, newMVCC(t, f.open(t))) })
			t.Run("ReadYourOwnWrites", func(t *testing.T) { testReadYourOwnWrites(t, newMVCC(t, f.open(t))) })
			t.Run("RollbackAtomicity", func(t *testing.T) { testRollbackAtomicity(t, newMVCC(t, f.open(t))) })
			t.Run("WriteWriteConflict", func(t *testing.T) { testWriteWriteConflict(t, newMVCC(t, f.open(t))) })
			t.Run("ConcreteScenario", func(t *testing.T) { testConcreteScenario(t, newMVCC(t, f.open(t))) })
			t.Run("Tombstones", func(t *testing.T) { testTombstones(t, newMVCC(t, f.open(t))) })
			t.Run("ScanPrefix", func(t *testing.T) { testScanPrefix(t, newMVCC(t, f.open(t))) })
			t.Run("FinishedTransaction", func(t *testing.T) { testFinishedTransaction(t, newMVCC(t, f.open(t))) })
		})
	}
}

func testSnapshotIsolation(t *testing.T, m *MVCC) {
	defer m.Close()

	t1 := begin(t, m)
	set(t, t1, "k", "v1")

	early := begin(t, m) // t1 is active, so early never sees its writes
	commit(t, t1)
	expectGet(t, early, "k", "", false)

	late := begin(t, m)
	expectGet(t, late, "k", "v1", true)
	expectGet(t, early, "k", "", false)
}

func testReadYourOwnWrites(t *testing.T, m *MVCC) {
	defer m.Close()

	txn := begin(t, m)
	set(t, txn, "k", "first")
	expectGet(t, txn, "k", "first", true)

	set(t, txn, "k", "second")
	expectGet(t, txn, "k", "second", true)

	// Overwrites within one transaction replace the record.
	st, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Versions != 1 {
		t.Errorf("Versions: want 1, got %d", st.Versions)
	}

	other := begin(t, m)
	expectGet(t, other, "k", "", false)
	commit(t, txn)
}

func testRollbackAtomicity(t *testing.T, m *MVCC) {
	defer m.Close()

	setup := begin(t, m)
	set(t, setup, "a", "orig")
	commit(t, setup)

	txn := begin(t, m)
	set(t, txn, "a", "changed")
	set(t, txn, "b", "new")
	if err := txn.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	after := begin(t, m)
	expectGet(t, after, "a", "orig", true)
	expectGet(t, after, "b", "", false)
	commit(t, after)

	st, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Versions != 1 || st.ActiveTxns != 0 {
		t.Errorf("after rollback: want 1 version and no active txns, got %+v", st)
	}
	var leftovers int
	m.Engine().ScanPrefix([]byte{nsTxnWrite}, func(_, _ []byte) bool {
		leftovers++
		return true
	})
	if leftovers != 0 {
		t.Errorf("written-by index: want empty, got %d entries", leftovers)
	}
}

func testWriteWriteConflict(t *testing.T, m *MVCC) {
	defer m.Close()

	t1 := begin(t, m)
	set(t, t1, "k", "t1")

	t2 := begin(t, m)
	set(t, t2, "other", "x")
	err := t2.Set([]byte("k"), []byte("t2"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("t2 Set: want ErrConflict, got %v", err)
	}
	// The conflict rolled t2 back, including its earlier write.
	if _, err := t2.Get([]byte("k")); !errors.Is(err, ErrTxnDone) {
		t.Errorf("t2 Get after conflict: want ErrTxnDone, got %v", err)
	}

	commit(t, t1)

	t3 := begin(t, m)
	set(t, t3, "k", "t3")
	expectGet(t, t3, "other", "", false)
	commit(t, t3)

	// A transaction that began before a committed write to k cannot
	// overwrite it.
	t4 := begin(t, m)
	t5 := begin(t, m)
	set(t, t5, "k", "t5")
	commit(t, t5)
	if err := t4.Delete([]byte("k")); !errors.Is(err, ErrConflict) {
		t.Errorf("t4 Delete: want ErrConflict, got %v", err)
	}

	// After a rollback the key is free again.
	t6 := begin(t, m)
	set(t, t6, "k", "t6")
	if err := t6.Rollback(); err != nil {
		t.Fatalf("t6 Rollback: %v", err)
	}
	t7 := begin(t, m)
	set(t, t7, "k", "t7")
	commit(t, t7)
}

func testConcreteScenario(t *testing.T, m *MVCC) {
	defer m.Close()

	t1 := begin(t, m)
	set(t, t1, "a", "1")
	commit(t, t1)

	t2 := begin(t, m)
	expectGet(t, t2, "a", "1", true)

	t3 := begin(t, m)
	set(t, t3, "a", "2")
	commit(t, t3)

	expectGet(t, t2, "a", "1", true)
	commit(t, t2)
}

func testTombstones(t *testing.T, m *MVCC) {
	defer m.Close()

	t1 := begin(t, m)
	set(t, t1, "k", "v")
	commit(t, t1)

	reader := begin(t, m)

	t2 := begin(t, m)
	if err := t2.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectGet(t, t2, "k", "", false)
	commit(t, t2)

	// The deletion happened after reader began.
	expectGet(t, reader, "k", "v", true)

	t3 := begin(t, m)
	expectGet(t, t3, "k", "", false)
	set(t, t3, "k", "again")
	commit(t, t3)

	t4 := begin(t, m)
	expectGet(t, t4, "k", "again", true)
}

func testScanPrefix(t *testing.T, m *MVCC) {
	defer m.Close()

	err := m.Update(func(txn *Transaction) error {
		for _, kv := range [][2]string{
			{"user/1", "alice"},
			{"user/2", "bob"},
			{"user/3", "carol"},
			{"user\x00", "nul"},
			{"users", "not a match"},
			{"other", "x"},
		} {
			if err := txn.Set([]byte(kv[0]), []byte(kv[1])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	reader := begin(t, m)

	writer := begin(t, m)
	set(t, writer, "user/4", "dave")
	set(t, writer, "user/2", "robert")
	if err := writer.Delete([]byte("user/3")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	wantKeys := func(t *testing.T, got []ScanResult, want ...string) {
		t.Helper()
		if len(got) != len(want) {
			t.Fatalf("want %d results %q, got %d: %v", len(want), want, len(got), got)
		}
		for i := range want {
			if string(got[i].Key) != want[i] {
				t.Errorf("result %d: want key %q, got %q", i, want[i], got[i].Key)
			}
		}
	}

	// Uncommitted writes are visible to their writer only.
	got, err := writer.ScanPrefix([]byte("user/"))
	if err != nil {
		t.Fatalf("ScanPrefix: %v", err)
	}
	wantKeys(t, got, "user/1", "user/2", "user/4")
	if string(got[1].Value) != "robert" {
		t.Errorf("user/2: want robert, got %q", got[1].Value)
	}

	got, err = writer.ReverseScanPrefix([]byte("user/"))
	if err != nil {
		t.Fatalf("ReverseScanPrefix: %v", err)
	}
	wantKeys(t, got, "user/4", "user/2", "user/1")
	if string(got[1].Value) != "robert" {
		t.Errorf("reverse user/2: want robert, got %q", got[1].Value)
	}
	commit(t, writer)

	got, err = reader.ScanPrefix([]byte("user/"))
	if err != nil {
		t.Fatalf("reader ScanPrefix: %v", err)
	}
	wantKeys(t, got, "user/1", "user/2", "user/3")
	if string(got[1].Value) != "bob" {
		t.Errorf("reader user/2: want bob, got %q", got[1].Value)
	}

	got, err = reader.ReverseScanPrefix([]byte("user"))
	if err != nil {
		t.Fatalf("reader ReverseScanPrefix: %v", err)
	}
	wantKeys(t, got, "users", "user/3", "user/2", "user/1", "user\x00")

	got, err = reader.ScanPrefix(nil)
	if err != nil {
		t.Fatalf("ScanPrefix(nil): %v", err)
	}
	if len(got) != 6 {
		t.Errorf("ScanPrefix(nil): want 6 results, got %d", len(got))
	}
}

func testFinishedTransaction(t *testing.T, m *MVCC) {
	defer m.Close()

	committed := begin(t, m)
	set(t, committed, "k", "v")
	commit(t, committed)

	if err := committed.Commit(); !errors.Is(err, ErrTxnDone) {
		t.Errorf("second Commit: want ErrTxnDone, got %v", err)
	}
	if err := committed.Rollback(); !errors.Is(err, ErrTxnDone) {
		t.Errorf("Rollback after Commit: want ErrTxnDone, got %v", err)
	}
	if err := committed.Set([]byte("k"), []byte("x")); !errors.Is(err, ErrTxnDone) {
		t.Errorf("Set after Commit: want ErrTxnDone, got %v", err)
	}
	if _, err := committed.ScanPrefix(nil); !errors.Is(err, ErrTxnDone) {
		t.Errorf("ScanPrefix after Commit: want ErrTxnDone, got %v", err)
	}

	rolled := begin(t, m)
	if err := rolled.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := rolled.Rollback(); err != nil {
		t.Errorf("second Rollback: want nil, got %v", err)
	}
	if err := rolled.Commit(); !errors.Is(err, ErrTxnDone) {
		t.Errorf("Commit after Rollback: want ErrTxnDone, got %v", err)
	}
	if _, err := rolled.Get([]byte("k")); !errors.Is(err, ErrTxnDone) {
		t.Errorf("Get after Rollback: want ErrTxnDone, got %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	m := newMVCC(t, storage.NewMemoryStore())
	defer m.Close()

	boom := errors.New("boom")
	err := m.Update(func(txn *Transaction) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update: want boom, got %v", err)
	}

	err = m.View(func(txn *Transaction) error {
		v, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		if v != nil {
			t.Errorf("Get after failed Update: want not found, got %q", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestUpdateReturnsConflict(t *testing.T) {
	m := newMVCC(t, storage.NewMemoryStore())
	defer m.Close()

	holder := begin(t, m)
	set(t, holder, "k", "held")

	err := m.Update(func(txn *Transaction) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Update: want ErrConflict, got %v", err)
	}
	commit(t, holder)
}

func TestVersionsIncrease(t *testing.T) {
	m := newMVCC(t, storage.NewMemoryStore())
	defer m.Close()

	var last uint64
	for i := 0; i < 5; i++ {
		txn := begin(t, m)
		if txn.Version() <= last {
			t.Fatalf("version %d not greater than %d", txn.Version(), last)
		}
		last = txn.Version()
		commit(t, txn)
	}
	st, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.NextVersion != last+1 {
		t.Errorf("NextVersion: want %d, got %d", last+1, st.NextVersion)
	}
}

func TestVersionsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")
	open := func() *MVCC {
		s, err := storage.OpenLogStore(path, 0)
		if err != nil {
			t.Fatalf("OpenLogStore: %v", err)
		}
		return newMVCC(t, s)
	}

	m := open()
	txn := begin(t, m)
	set(t, txn, "k", "v")
	commit(t, txn)
	first := txn.Version()
	m.Close()

	m = open()
	defer m.Close()
	txn = begin(t, m)
	if txn.Version() <= first {
		t.Errorf("version after reopen: want > %d, got %d", first, txn.Version())
	}
	expectGet(t, txn, "k", "v", true)
}

func TestUnversioned(t *testing.T) {
	m := newMVCC(t, storage.NewMemoryStore())
	defer m.Close()

	got, err := m.GetUnversioned([]byte("missing"))
	if err != nil || got != nil {
		t.Fatalf("GetUnversioned(missing): want nil, nil, got %q, %v", got, err)
	}
	if err := m.SetUnversioned([]byte("meta"), []byte("value")); err != nil {
		t.Fatalf("SetUnversioned: %v", err)
	}
	got, err = m.GetUnversioned([]byte("meta"))
	if err != nil || !bytes.Equal(got, []byte("value")) {
		t.Fatalf("GetUnversioned: want value, got %q, %v", got, err)
	}

	// Metadata is not visible to transactions.
	txn := begin(t, m)
	expectGet(t, txn, "meta", "", false)
}

func TestFormatVersionMismatch(t *testing.T) {
	e := storage.NewMemoryStore()
	if err := e.Set(unversionedKey(formatKey), []byte("99")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := New(e, WithLogger(quietLogger())); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("New: want ErrCorrupt, got %v", err)
	}
}

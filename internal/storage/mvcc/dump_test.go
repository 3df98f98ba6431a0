package mvcc

import (
	"testing"

	"github.com/myuser/mvccdb/internal/storage"
)

func TestDump(t *testing.T) {
	m := newMVCC(t, storage.NewMemoryStore())
	defer m.Close()

	v1 := writeCommitted(t, m, "k", "v")
	del := begin(t, m)
	if err := del.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var kinds []RecordKind
	var versions []Record
	err := m.Dump(func(r Record) bool {
		kinds = append(kinds, r.Kind)
		if r.Kind == RecordVersion {
			versions = append(versions, r)
		}
		return true
	})
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	want := []RecordKind{RecordNextVersion, RecordActiveTxn, RecordWrittenBy, RecordVersion, RecordVersion, RecordUnversioned}
	if len(kinds) != len(want) {
		t.Fatalf("kinds: want %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("record %d: want %s, got %s", i, want[i], kinds[i])
		}
	}

	if !versions[0].Tombstone || versions[0].Version != del.Version() {
		t.Errorf("first version record: want tombstone at %d, got %s", del.Version(), versions[0])
	}
	if versions[1].Tombstone || versions[1].Version != v1 || string(versions[1].Value) != "v" {
		t.Errorf("second version record: want v at %d, got %s", v1, versions[1])
	}
	if got := versions[1].String(); got != `version "k"@1 = "v"` {
		t.Errorf("String: got %s", got)
	}

	var n int
	m.Dump(func(Record) bool {
		n++
		return false
	})
	if n != 1 {
		t.Errorf("Dump did not stop: visited %d", n)
	}
}

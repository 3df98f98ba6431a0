package mvcc

import (
	"fmt"

	"github.com/myuser/mvccdb/internal/storage/keycode"
)

// RecordKind identifies what a physical record holds.
type RecordKind int

const (
	RecordNextVersion RecordKind = iota
	RecordActiveTxn
	RecordWrittenBy
	RecordVersion
	RecordUnversioned
)

func (k RecordKind) String() string {
	switch k {
	case RecordNextVersion:
		return "next-version"
	case RecordActiveTxn:
		return "active"
	case RecordWrittenBy:
		return "written-by"
	case RecordVersion:
		return "version"
	case RecordUnversioned:
		return "unversioned"
	default:
		return fmt.Sprintf("RecordKind(%d)", int(k))
	}
}

// Record is one decoded physical record.
type Record struct {
	Kind      RecordKind
	Key       []byte // logical key; nil for bookkeeping records without one
	Version   uint64
	Value     []byte
	Tombstone bool
}

func (r Record) String() string {
	switch r.Kind {
	case RecordNextVersion, RecordActiveTxn:
		return fmt.Sprintf("%s %d", r.Kind, r.Version)
	case RecordWrittenBy:
		return fmt.Sprintf("%s %d %q", r.Kind, r.Version, r.Key)
	case RecordVersion:
		if r.Tombstone {
			return fmt.Sprintf("%s %q@%d tombstone", r.Kind, r.Key, r.Version)
		}
		return fmt.Sprintf("%s %q@%d = %q", r.Kind, r.Key, r.Version, r.Value)
	default:
		return fmt.Sprintf("%s %q = %q", r.Kind, r.Key, r.Value)
	}
}

// Dump decodes every physical record in key order and passes it to fn
// until fn returns false. Records are decoded while the lock is held, so fn
// runs afterwards and may call back into the MVCC.
func (m *MVCC) Dump(fn func(Record) bool) error {
	records, err := m.decodeAll()
	if err != nil {
		return err
	}
	for _, r := range records {
		if !fn(r) {
			return nil
		}
	}
	return nil
}

func (m *MVCC) decodeAll() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		records   []Record
		decodeErr error
	)
	err := m.engine.Scan(nil, nil, func(k, v []byte) bool {
		r, err := decodeRecord(k, v)
		if err != nil {
			decodeErr = err
			return false
		}
		records = append(records, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return records, decodeErr
}

func decodeRecord(k, v []byte) (Record, error) {
	if len(k) == 0 {
		return Record{}, fmt.Errorf("%w: empty key", ErrCorrupt)
	}
	switch k[0] {
	case nsNextVersion:
		next, _, err := keycode.DecodeUint64(v)
		if err != nil {
			return Record{}, fmt.Errorf("%w: next version: %w", ErrCorrupt, err)
		}
		return Record{Kind: RecordNextVersion, Version: next}, nil
	case nsTxnActive:
		version, err := decodeTxnActiveKey(k)
		return Record{Kind: RecordActiveTxn, Version: version}, err
	case nsTxnWrite:
		version, key, err := decodeTxnWriteKey(k)
		return Record{Kind: RecordWrittenBy, Key: key, Version: version}, err
	case nsVersion:
		key, version, err := DecodeVersionKey(k)
		if err != nil {
			return Record{}, err
		}
		value, live, err := decodeValue(v)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: RecordVersion, Key: key, Version: version, Value: value, Tombstone: !live}, nil
	case nsUnversioned:
		key, _, err := keycode.DecodeBytes(k[1:])
		if err != nil {
			return Record{}, fmt.Errorf("%w: unversioned key: %w", ErrCorrupt, err)
		}
		return Record{Kind: RecordUnversioned, Key: key, Value: append([]byte{}, v...)}, nil
	default:
		return Record{}, fmt.Errorf("%w: unknown namespace 0x%02x", ErrCorrupt, k[0])
	}
}

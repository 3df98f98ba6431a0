package mvcc

import (
	"fmt"

	"github.com/myuser/mvccdb/internal/storage/keycode"
)

// Physical key namespaces. User data lives under nsVersion; the others are
// reserved for transaction bookkeeping.
//
//	0x00                          -> next version (u64 BE)
//	0x01 | version                -> active transaction marker
//	0x02 | version | logical key  -> written-by index entry
//	0x03 | logical key | ^version -> version record
//	0x04 | key                    -> unversioned metadata
const (
	nsNextVersion byte = 0x00
	nsTxnActive   byte = 0x01
	nsTxnWrite    byte = 0x02
	nsVersion     byte = 0x03
	nsUnversioned byte = 0x04
)

// Version record value tags.
const (
	tagTombstone byte = 0x00
	tagValue     byte = 0x01
)

// EncodeVersionKey returns the physical key for a logical key at version.
// For one logical key, newer versions sort first.
func EncodeVersionKey(key []byte, version uint64) []byte {
	buf := make([]byte, 0, len(key)+11)
	buf = append(buf, nsVersion)
	buf = keycode.AppendBytes(buf, key)
	return keycode.AppendInvertedUint64(buf, version)
}

// DecodeVersionKey splits a physical key into its logical key and version.
func DecodeVersionKey(pk []byte) ([]byte, uint64, error) {
	if len(pk) == 0 || pk[0] != nsVersion {
		return nil, 0, fmt.Errorf("%w: %x is not a version key", ErrCorrupt, pk)
	}
	key, rest, err := keycode.DecodeBytes(pk[1:])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: version key %x: %w", ErrCorrupt, pk, err)
	}
	version, rest, err := keycode.DecodeInvertedUint64(rest)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: version key %x: %w", ErrCorrupt, pk, err)
	}
	if len(rest) != 0 {
		return nil, 0, fmt.Errorf("%w: version key %x has %d trailing bytes", ErrCorrupt, pk, len(rest))
	}
	return key, version, nil
}

// versionKeyPrefix covers every version of exactly one logical key.
func versionKeyPrefix(key []byte) []byte {
	return keycode.AppendBytes([]byte{nsVersion}, key)
}

// versionScanPrefix covers every version of every logical key starting with prefix.
func versionScanPrefix(prefix []byte) []byte {
	return keycode.AppendBytesPrefix([]byte{nsVersion}, prefix)
}

func nextVersionKey() []byte {
	return []byte{nsNextVersion}
}

func txnActiveKey(version uint64) []byte {
	return keycode.AppendUint64([]byte{nsTxnActive}, version)
}

func decodeTxnActiveKey(k []byte) (uint64, error) {
	if len(k) != 9 || k[0] != nsTxnActive {
		return 0, fmt.Errorf("%w: %x is not an active transaction key", ErrCorrupt, k)
	}
	v, _, err := keycode.DecodeUint64(k[1:])
	return v, err
}

func txnWritePrefix(version uint64) []byte {
	return keycode.AppendUint64([]byte{nsTxnWrite}, version)
}

func txnWriteKey(version uint64, key []byte) []byte {
	return keycode.AppendBytes(txnWritePrefix(version), key)
}

func decodeTxnWriteKey(k []byte) (uint64, []byte, error) {
	if len(k) == 0 || k[0] != nsTxnWrite {
		return 0, nil, fmt.Errorf("%w: %x is not a written-by key", ErrCorrupt, k)
	}
	version, rest, err := keycode.DecodeUint64(k[1:])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: written-by key %x: %w", ErrCorrupt, k, err)
	}
	key, rest, err := keycode.DecodeBytes(rest)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: written-by key %x: %w", ErrCorrupt, k, err)
	}
	if len(rest) != 0 {
		return 0, nil, fmt.Errorf("%w: written-by key %x has trailing bytes", ErrCorrupt, k)
	}
	return version, key, nil
}

func unversionedKey(key []byte) []byte {
	return keycode.AppendBytes([]byte{nsUnversioned}, key)
}

func encodeValue(value []byte) []byte {
	buf := make([]byte, 0, len(value)+1)
	buf = append(buf, tagValue)
	return append(buf, value...)
}

func encodeTombstone() []byte {
	return []byte{tagTombstone}
}

// decodeValue returns the value held by a version record and whether the
// record is live. A tombstone decodes as nil, false.
func decodeValue(raw []byte) ([]byte, bool, error) {
	if len(raw) == 0 {
		return nil, false, fmt.Errorf("%w: empty version record", ErrCorrupt)
	}
	switch raw[0] {
	case tagTombstone:
		if len(raw) != 1 {
			return nil, false, fmt.Errorf("%w: tombstone with payload", ErrCorrupt)
		}
		return nil, false, nil
	case tagValue:
		return append([]byte{}, raw[1:]...), true, nil
	default:
		return nil, false, fmt.Errorf("%w: unknown record tag 0x%02x", ErrCorrupt, raw[0])
	}
}

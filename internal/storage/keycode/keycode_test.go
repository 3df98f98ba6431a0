package keycode

import (
	"bytes"
	"errors"
	"sort"
	"testing"
)

func TestBytesRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		[]byte("a"),
		{0x00},
		{0x00, 0xff},
		{'a', 0x00, 'b'},
		{0xff, 0xff, 0x00, 0x00},
	}
	for _, in := range inputs {
		enc := AppendBytes(nil, in)
		got, rest, err := DecodeBytes(append(enc, 0x42))
		if err != nil {
			t.Fatalf("DecodeBytes(%x): %v", enc, err)
		}
		if !bytes.Equal(got, in) {
			t.Errorf("round trip %x: got %x", in, got)
		}
		if !bytes.Equal(rest, []byte{0x42}) {
			t.Errorf("round trip %x: rest %x, want 42", in, rest)
		}
	}
}

func TestBytesOrdering(t *testing.T) {
	// Sorted by raw value; the encodings must sort identically.
	raw := [][]byte{
		{},
		{0x00},
		{0x00, 0x00},
		{0x00, 0x01},
		{0x01},
		[]byte("a"),
		{'a', 0x00},
		{'a', 0x00, 'z'},
		[]byte("ab"),
		{0xff},
	}
	enc := make([][]byte, len(raw))
	for i, r := range raw {
		enc[i] = AppendBytes(nil, r)
	}
	if !sort.SliceIsSorted(enc, func(i, j int) bool { return bytes.Compare(enc[i], enc[j]) < 0 }) {
		t.Fatalf("encoded keys are not in raw order: %x", enc)
	}
}

func TestBytesPrefix(t *testing.T) {
	prefix := []byte{'t', 0x00}
	tests := []struct {
		key  []byte
		want bool
	}{
		{[]byte{'t', 0x00}, true},
		{[]byte{'t', 0x00, 'x'}, true},
		{[]byte{'t'}, false},
		{[]byte{'t', 0x01}, false},
		{[]byte("tx"), false},
	}
	p := AppendBytesPrefix(nil, prefix)
	for _, tt := range tests {
		got := bytes.HasPrefix(AppendBytes(nil, tt.key), p)
		if got != tt.want {
			t.Errorf("key %x has prefix %x: got %v, want %v", tt.key, prefix, got, tt.want)
		}
	}
}

func TestDecodeBytesCorrupt(t *testing.T) {
	for _, in := range [][]byte{
		[]byte("abc"),
		{'a', 0x00},
		{'a', 0x00, 0x07},
	} {
		if _, _, err := DecodeBytes(in); !errors.Is(err, ErrCorrupt) {
			t.Errorf("DecodeBytes(%x): want ErrCorrupt, got %v", in, err)
		}
	}
}

func TestInvertedUint64(t *testing.T) {
	old := AppendInvertedUint64(nil, 50)
	newer := AppendInvertedUint64(nil, 100)
	if bytes.Compare(newer, old) >= 0 {
		t.Errorf("expected newer value to sort before older")
	}
	v, rest, err := DecodeInvertedUint64(newer)
	if err != nil || v != 100 || len(rest) != 0 {
		t.Errorf("DecodeInvertedUint64: got %d, %x, %v", v, rest, err)
	}
	if _, _, err := DecodeUint64([]byte{1, 2, 3}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("short uint64: want ErrCorrupt, got %v", err)
	}
}

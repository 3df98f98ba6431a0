// Package keycode provides order-preserving byte encodings for composite keys.
//
// Every encoding sorts the same way its decoded value does under
// bytes.Compare, so composite keys built by concatenation keep the
// ordering of their components.
package keycode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorrupt is returned when input cannot be decoded.
var ErrCorrupt = errors.New("keycode: malformed key")

// AppendBytes escapes b and appends it with a terminator.
// 0x00 is written as 0x00 0xff and the string ends with 0x00 0x00, so no
// encoded string is a prefix of another and ordering is preserved.
func AppendBytes(dst, b []byte) []byte {
	dst = AppendBytesPrefix(dst, b)
	return append(dst, 0x00, 0x00)
}

// AppendBytesPrefix escapes b without the terminator. Every key encoded with
// AppendBytes whose input starts with b starts with this encoding.
func AppendBytesPrefix(dst, b []byte) []byte {
	for _, c := range b {
		if c == 0x00 {
			dst = append(dst, 0x00, 0xff)
		} else {
			dst = append(dst, c)
		}
	}
	return dst
}

// DecodeBytes reads one escaped string from the front of src and returns it
// together with the remaining input.
func DecodeBytes(src []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		if src[i] != 0x00 {
			out = append(out, src[i])
			continue
		}
		if i+1 >= len(src) {
			return nil, nil, fmt.Errorf("%w: unterminated byte string", ErrCorrupt)
		}
		switch src[i+1] {
		case 0x00:
			return out, src[i+2:], nil
		case 0xff:
			out = append(out, 0x00)
			i++
		default:
			return nil, nil, fmt.Errorf("%w: invalid escape 0x%02x", ErrCorrupt, src[i+1])
		}
	}
	return nil, nil, fmt.Errorf("%w: unterminated byte string", ErrCorrupt)
}

// AppendUint64 appends v in big-endian order.
func AppendUint64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

// DecodeUint64 reads a big-endian uint64 from the front of src.
func DecodeUint64(src []byte) (uint64, []byte, error) {
	if len(src) < 8 {
		return 0, nil, fmt.Errorf("%w: need 8 bytes for uint64, have %d", ErrCorrupt, len(src))
	}
	return binary.BigEndian.Uint64(src), src[8:], nil
}

// AppendInvertedUint64 appends MaxUint64 - v, so larger values sort first.
func AppendInvertedUint64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, math.MaxUint64-v)
}

// DecodeInvertedUint64 is the inverse of AppendInvertedUint64.
func DecodeInvertedUint64(src []byte) (uint64, []byte, error) {
	inv, rest, err := DecodeUint64(src)
	if err != nil {
		return 0, nil, err
	}
	return math.MaxUint64 - inv, rest, nil
}

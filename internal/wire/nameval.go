package wire

import (
	"encoding/binary"
)

// NameValue is one decoded (name, value) pair from a PARAMS record,
// preserving the order the bytes were written in (spec.md §3).
type NameValue struct {
	Name  []byte
	Value []byte
}

// readLength decodes one name/value length prefix at buf[idx:], returning
// the length and the index just past the prefix. It uses the 1-byte form
// when the high bit of the first byte is clear, else the 4-byte big-endian
// form with that bit masked off (spec.md §3, §4.1).
func readLength(buf []byte, idx int) (int, int, error) {
	if idx >= len(buf) {
		return 0, 0, wrap(ErrMalformedParams, "length prefix past end of buffer", nil)
	}
	if buf[idx]&0x80 == 0 {
		return int(buf[idx]), idx + 1, nil
	}
	if idx+4 > len(buf) {
		return 0, 0, wrap(ErrMalformedParams, "4-byte length prefix past end of buffer", nil)
	}
	n := binary.BigEndian.Uint32(buf[idx : idx+4])
	n &^= 1 << 31
	return int(n), idx + 4, nil
}

// writeLength appends the length prefix for n using the 1-byte form iff
// n <= 127, else the 4-byte form with the high bit set (invariant 6).
func writeLength(dst []byte, n int) []byte {
	if n <= 127 {
		return append(dst, byte(n))
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n)|(1<<31))
	return append(dst, b[:]...)
}

// DecodeNameValuePairs decodes an entire PARAMS content buffer into an
// ordered list of pairs. An empty buffer yields an empty, non-nil slice
// (spec.md §4.1: "empty input yields an empty sequence").
func DecodeNameValuePairs(buf []byte) ([]NameValue, error) {
	pairs := make([]NameValue, 0)
	idx := 0
	for idx < len(buf) {
		nameLen, next, err := readLength(buf, idx)
		if err != nil {
			return nil, err
		}
		idx = next

		valLen, next, err := readLength(buf, idx)
		if err != nil {
			return nil, err
		}
		idx = next

		if idx+nameLen+valLen > len(buf) {
			return nil, wrap(ErrMalformedParams, "content shorter than declared name/value lengths", nil)
		}
		if nameLen == 0 {
			return nil, wrap(ErrMalformedParams, "empty name", nil)
		}

		name := make([]byte, nameLen)
		copy(name, buf[idx:idx+nameLen])
		idx += nameLen

		value := make([]byte, valLen)
		copy(value, buf[idx:idx+valLen])
		idx += valLen

		pairs = append(pairs, NameValue{Name: name, Value: value})
	}
	return pairs, nil
}

// EncodeNameValuePairs is the exact dual of DecodeNameValuePairs: encoding
// then decoding any valid pair list returns the original list in order
// (invariant 5).
func EncodeNameValuePairs(pairs []NameValue) []byte {
	var buf []byte
	for _, p := range pairs {
		buf = writeLength(buf, len(p.Name))
		buf = writeLength(buf, len(p.Value))
		buf = append(buf, p.Name...)
		buf = append(buf, p.Value...)
	}
	return buf
}

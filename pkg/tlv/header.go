package tlv

import (
	"bytes"
	"fmt"
)

// Some OpenPGP card structures are not plain TLV trees: the extended header list
// of a key import holds a 7F48 template made of tag+length pairs without values.
// These helpers write and read raw headers for such cases.

// AppendTag appends the big-endian bytes of a tag, without leading zeros.
func AppendTag(b []byte, tag uint32) []byte {
	switch {
	case tag > 0xFFFFFF:
		return append(b, byte(tag>>24), byte(tag>>16), byte(tag>>8), byte(tag))
	case tag > 0xFFFF:
		return append(b, byte(tag>>16), byte(tag>>8), byte(tag))
	case tag > 0xFF:
		return append(b, byte(tag>>8), byte(tag))
	default:
		return append(b, byte(tag))
	}
}

// AppendLength appends a BER definite length in its minimal form.
func AppendLength(b []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(b, byte(n))
	case n <= 0xFF:
		return append(b, 0x81, byte(n))
	case n <= 0xFFFF:
		return append(b, 0x82, byte(n>>8), byte(n))
	default:
		return append(b, 0x83, byte(n>>16), byte(n>>8), byte(n))
	}
}

// AppendHeader appends a tag followed by a length.
func AppendHeader(b []byte, tag uint32, n int) []byte {
	return AppendLength(AppendTag(b, tag), n)
}

// AppendTLV appends a complete primitive data object.
func AppendTLV(b []byte, tag uint32, value []byte) []byte {
	return append(AppendHeader(b, tag, len(value)), value...)
}

// ReadHeader parses the tag and length at the start of data. It fails with
// ErrTruncated if the announced value does not fit in data.
func ReadHeader(data []byte) (tag uint32, length int, headerLen int, err error) {
	if len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("%w: empty input", ErrTruncated)
	}

	i := 0
	tag = uint32(data[i])
	i++
	if data[0]&0x1F == 0x1F {
		for {
			if i >= len(data) {
				return 0, 0, 0, fmt.Errorf("%w: multi-byte tag", ErrTruncated)
			}
			if i >= 4 {
				return 0, 0, 0, fmt.Errorf("%w: tag longer than 4 bytes", ErrMalformed)
			}
			tag = tag<<8 | uint32(data[i])
			i++
			if data[i-1]&0x80 == 0 {
				break
			}
		}
	}

	if i >= len(data) {
		return 0, 0, 0, fmt.Errorf("%w: missing length", ErrTruncated)
	}
	first := data[i]
	i++
	switch {
	case first < 0x80:
		length = int(first)
	case first == 0x80:
		return 0, 0, 0, fmt.Errorf("%w: indefinite length", ErrMalformed)
	default:
		count := int(first & 0x7F)
		if count > 3 {
			return 0, 0, 0, fmt.Errorf("%w: length on %d bytes", ErrMalformed, count)
		}
		if i+count > len(data) {
			return 0, 0, 0, fmt.Errorf("%w: long form length", ErrTruncated)
		}
		for _, b := range data[i : i+count] {
			length = length<<8 | int(b)
		}
		i += count
	}

	if i+length > len(data) {
		return 0, 0, 0, fmt.Errorf("%w: value of %d bytes, %d available", ErrTruncated, length, len(data)-i)
	}
	return tag, length, i, nil
}

// Unwrap strips the header of a single data object with the expected tag and
// returns its value. Data that does not start with the tag is returned as is.
func Unwrap(data []byte, tag uint32) ([]byte, error) {
	if !bytes.HasPrefix(data, AppendTag(nil, tag)) {
		return data, nil
	}
	_, length, hl, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	return data[hl : hl+length], nil
}

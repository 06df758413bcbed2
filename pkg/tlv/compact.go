package tlv

import "fmt"

// COMPACT-TLV (ISO 7816-4 §5.2.2):
// A single byte holds the tag in its high nibble and the length (0-15) in its
// low nibble, immediately followed by the value. Only the historical bytes of the
// ATR use it.

// CompactEntry is one compact-TLV data object.
type CompactEntry struct {
	Tag   byte
	Value []byte
}

// DecodeCompact walks a compact-TLV stream. On a truncated object it returns the
// entries read so far together with an ErrTruncated error.
func DecodeCompact(data []byte) ([]CompactEntry, error) {
	var entries []CompactEntry
	for i := 0; i < len(data); {
		tl := data[i]
		tag, length := tl>>4, int(tl&0x0F)
		i++
		if i+length > len(data) {
			return entries, fmt.Errorf("%w: compact tag %X needs %d bytes, %d left", ErrTruncated, tag, length, len(data)-i)
		}
		entries = append(entries, CompactEntry{Tag: tag, Value: data[i : i+length]})
		i += length
	}
	return entries, nil
}

// EncodeCompact is the inverse of DecodeCompact.
func EncodeCompact(entries ...CompactEntry) ([]byte, error) {
	var out []byte
	for _, e := range entries {
		if e.Tag > 0x0F || len(e.Value) > 0x0F {
			return nil, fmt.Errorf("%w: compact tag %X with %d bytes", ErrMalformed, e.Tag, len(e.Value))
		}
		out = append(out, e.Tag<<4|byte(len(e.Value)))
		out = append(out, e.Value...)
	}
	return out, nil
}

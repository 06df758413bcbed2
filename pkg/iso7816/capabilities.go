package iso7816

import (
	"errors"
	"fmt"

	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// HISTORICAL BYTES (ISO 7816-4 §8.1.1):
// The first byte is the category indicator.
//   - 0x00: compact-TLV objects followed by a 3-byte status indicator that is not
//     TLV encoded. Walking stops at the first object overrunning the buffer.
//   - 0x80: compact-TLV objects only.
//
// The "card capabilities" object is tag 7 with length 3 (TL byte 0x73). Its third
// byte holds the command chaining (0x80) and extended Lc/Le (0x40) flags.

const (
	historicalCategoryStatusLast = 0x00
	historicalCategoryTLVOnly    = 0x80

	compactTagCapabilities = 0x7

	capabilityChaining = 0x80
	capabilityExtended = 0x40
)

// CardCapabilities holds the transport features advertised in the historical bytes.
// The zero value (no chaining, no extended length) applies when they are not advertised.
type CardCapabilities struct {
	HasChaining bool
	HasExtended bool
}

// ParseCardCapabilities extracts the chaining and extended length flags from the
// historical bytes of the card. A missing capabilities object is not an error.
func ParseCardCapabilities(historical []byte) (CardCapabilities, error) {
	var caps CardCapabilities
	if len(historical) == 0 {
		return caps, nil
	}

	var objects []byte
	switch historical[0] {
	case historicalCategoryStatusLast:
		if len(historical) < 2 {
			return caps, nil
		}
		objects = historical[1 : len(historical)-1]
	case historicalCategoryTLVOnly:
		objects = historical[1:]
	default:
		return caps, fmt.Errorf("%w: invalid historical bytes category indicator 0x%02X", ErrProtocolViolation, historical[0])
	}

	entries, err := tlv.DecodeCompact(objects)
	if err != nil && !errors.Is(err, tlv.ErrTruncated) {
		return caps, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	for _, e := range entries {
		if e.Tag == compactTagCapabilities && len(e.Value) == 3 {
			caps.HasChaining = e.Value[2]&capabilityChaining != 0
			caps.HasExtended = e.Value[2]&capabilityExtended != 0
		}
	}
	return caps, nil
}

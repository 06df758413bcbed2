package iso7816

import (
	"bytes"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
// 1. Header:
//   - CLA (Class): Security, Chaining, Logical Channel.
//   - INS (Instruction): The specific command to execute.
//   - P1, P2 (Parameters): Command modifiers.
//
// 2. Body:
//   - Lc (Length Command): Number of bytes in the data field.
//   - Data: The command payload.
//   - Le (Length Expected): Maximum number of bytes expected in the response.
//
// ENCODING CASES (ISO 7816-4 §5.1):
//
//	Case 1   header only
//	Case 2S  header | Le(1)                  Le 0x00 encodes 256
//	Case 2E  header | 00 | Le(2)             Le 0x0000 encodes 65536
//	Case 3S  header | Lc(1) | data
//	Case 3E  header | 00 | Lc(2) | data
//	Case 4S  header | Lc(1) | data | Le(1)
//	Case 4E  header | 00 | Lc(2) | data | Le(2)
//
// The case is never stored: it follows from len(Data) and Ne. Extended form is used as
// soon as Nc > 255 or Ne > 256, and then applies to both length fields.
//
// RESPONSE APDU (R-APDU):
// An optional body followed by the mandatory SW1-SW2 trailer.

// APDU Limits and Constants according to ISO 7816-3.
const (
	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode (1 byte).
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne) encodable in Short Length mode.
	// In Short mode, 0x00 encodes 256.
	MaxShortLe = 256

	// MaxExtendedLc is the theoretical limit for Lc in Extended mode (16-bit unsigned).
	MaxExtendedLc = 65535

	// MaxExtendedLe is the maximum Ne encodable in Extended Length mode.
	// In Extended mode, 0x0000 encodes 65536.
	MaxExtendedLe = 65536

	// MaxAPDUBufferSize defines a safe buffer limit for Extended APDUs.
	// Calculation: Header(4) + ExtLc(3) + MaxData(65535) + ExtLe(2) + Safety Margin(1).
	MaxAPDUBufferSize = 4 + 3 + MaxExtendedLc + 2 + 1
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// IsExtended reports whether the command needs extended length fields.
func (c *CommandAPDU) IsExtended() bool {
	return len(c.Data) > MaxShortLc || c.Ne > MaxShortLe
}

// Bytes encodes the CommandAPDU into its byte representation (C-APDU).
// It automatically handles the selection between Short and Extended encoding
// based on the length of Data (Nc) and the expected response length (Ne).
func (c *CommandAPDU) Bytes() ([]byte, error) {
	nc := len(c.Data)
	ne := c.Ne

	if ne < 0 || ne > MaxExtendedLe {
		return nil, fmt.Errorf("%w: Ne %d out of range [0, %d]", ErrProtocolViolation, ne, MaxExtendedLe)
	}
	if nc > MaxExtendedLc {
		return nil, fmt.Errorf("%w: Nc %d exceeds %d", ErrProtocolViolation, nc, MaxExtendedLc)
	}

	class, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Class: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.Grow(4 + 3 + nc + 2)

	// 1. Encode Header
	buf.WriteByte(class)
	buf.WriteByte(byte(c.Instruction.Raw))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	isExtended := c.IsExtended()

	// 2. Encode Lc Field & Data Field
	if nc > 0 {
		if !isExtended {
			buf.WriteByte(byte(nc))
		} else {
			buf.WriteByte(0x00)
			buf.WriteByte(byte(nc >> 8))
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	// 3. Encode Le Field
	if ne > 0 {
		if !isExtended {
			// 256 wraps to 0x00
			buf.WriteByte(byte(ne))
		} else {
			// Without Lc, a leading 00 distinguishes Le from Lc.
			if nc == 0 {
				buf.WriteByte(0x00)
			}
			// 65536 wraps to 0x0000
			buf.WriteByte(byte(ne >> 8))
			buf.WriteByte(byte(ne))
		}
	}

	return buf.Bytes(), nil
}

// ParseCommandAPDU decodes a raw C-APDU, detecting the ISO 7816-4 case from the
// length and content of the body. It is the exact inverse of Bytes.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: command too short: length %d", ErrProtocolViolation, len(raw))
	}

	cla, err := NewClass(raw[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	ins, err := NewInstruction(InsCode(raw[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	cmd := &CommandAPDU{Class: cla, Instruction: ins, P1: raw[2], P2: raw[3]}
	body := raw[4:]

	switch {
	case len(body) == 0:
		// Case 1
		return cmd, nil

	case len(body) == 1:
		// Case 2S
		cmd.Ne = decodeShortLe(body[0])
		return cmd, nil

	case body[0] != 0x00:
		// Case 3S / 4S
		lc := int(body[0])
		switch len(body) {
		case 1 + lc:
			cmd.Data = copyBytes(body[1:])
		case 1 + lc + 1:
			cmd.Data = copyBytes(body[1 : 1+lc])
			cmd.Ne = decodeShortLe(body[1+lc])
		default:
			return nil, fmt.Errorf("%w: short Lc %d inconsistent with body length %d", ErrProtocolViolation, lc, len(body))
		}
		return cmd, nil

	case len(body) == 3:
		// Case 2E
		cmd.Ne = decodeExtendedLe(body[1], body[2])
		return cmd, nil

	case len(body) > 3:
		// Case 3E / 4E
		lc := int(body[1])<<8 | int(body[2])
		if lc == 0 {
			return nil, fmt.Errorf("%w: extended Lc of zero", ErrProtocolViolation)
		}
		switch len(body) {
		case 3 + lc:
			cmd.Data = copyBytes(body[3:])
		case 3 + lc + 2:
			cmd.Data = copyBytes(body[3 : 3+lc])
			cmd.Ne = decodeExtendedLe(body[3+lc], body[4+lc])
		default:
			return nil, fmt.Errorf("%w: extended Lc %d inconsistent with body length %d", ErrProtocolViolation, lc, len(body))
		}
		return cmd, nil

	default:
		return nil, fmt.Errorf("%w: malformed body of length %d", ErrProtocolViolation, len(body))
	}
}

func decodeShortLe(b byte) int {
	if b == 0x00 {
		return MaxShortLe
	}
	return int(b)
}

func decodeExtendedLe(hi, lo byte) int {
	le := int(hi)<<8 | int(lo)
	if le == 0 {
		return MaxExtendedLe
	}
	return le
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// FitsShort reports whether the data field can be carried by a short APDU.
func (c *CommandAPDU) FitsShort() bool {
	return len(c.Data) <= MaxShortLc
}

// Short returns a copy of the command with Ne clamped to MaxShortLe.
// The data field is shared with the receiver.
func (c *CommandAPDU) Short() *CommandAPDU {
	short := *c
	if short.Ne > MaxShortLe {
		short.Ne = MaxShortLe
	}
	return &short
}

// Chain splits the data field into blocks of at most blockSize bytes.
// Every block but the last carries the chaining bit in CLA. All blocks keep
// the same Ne, clamped to the short maximum since each block is a short APDU.
func (c *CommandAPDU) Chain(blockSize int) ([]*CommandAPDU, error) {
	if blockSize < 1 || blockSize > MaxShortLc {
		return nil, fmt.Errorf("%w: chaining block size %d out of range [1, %d]", ErrProtocolViolation, blockSize, MaxShortLc)
	}

	ne := c.Ne
	if ne > MaxShortLe {
		ne = MaxShortLe
	}

	if len(c.Data) == 0 {
		return []*CommandAPDU{NewCommandAPDU(c.Class, c.Instruction, c.P1, c.P2, nil, ne)}, nil
	}

	var blocks []*CommandAPDU
	for offset := 0; offset < len(c.Data); offset += blockSize {
		end := min(offset+blockSize, len(c.Data))

		cls := c.Class
		cls.IsChained = end < len(c.Data)
		if cls.IsProprietary {
			if cls.IsChained {
				cls.Raw |= ClassChainingMask
			} else {
				cls.Raw &^= ClassChainingMask
			}
		}

		blocks = append(blocks, NewCommandAPDU(cls, c.Instruction, c.P1, c.P2, c.Data[offset:end], ne))
	}
	return blocks, nil
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: response too short: length %d", ErrProtocolViolation, len(raw))
	}

	indexSW1 := len(raw) - 2
	data := raw[:indexSW1]
	sw1 := raw[indexSW1]
	sw2 := raw[indexSW1+1]

	return &ResponseAPDU{
		Data:   data,
		Status: NewStatusWord(sw1, sw2),
	}, nil
}

// Bytes encodes the response as body followed by SW1 SW2.
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}

// IsSuccess reports whether the final status is exactly 9000.
// Unlike StatusWord.IsSuccess, a pending 61XX does not count: by the time a
// ResponseAPDU reaches callers, the client has already drained it.
func (r *ResponseAPDU) IsSuccess() bool {
	return r.Status == SW_NO_ERROR
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}

package scp11

import (
	"crypto/subtle"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

const macSize = 8

// Session is an established SCP11b channel. It implements iso7816.SecureChannel.
// A Session is either complete or cleared, never partially built.
type Session struct {
	sEnc, sMac, sRmac []byte
	macChain          []byte
	counter           uint16
}

func newSession(sEnc, sMac, sRmac, receipt []byte) *Session {
	return &Session{
		sEnc:     sEnc,
		sMac:     sMac,
		sRmac:    sRmac,
		macChain: append([]byte(nil), receipt...),
	}
}

// Established reports whether the session still holds its keys.
func (s *Session) Established() bool {
	return s != nil && s.sEnc != nil
}

// Clear zeroes every secret and ends the session.
func (s *Session) Clear() {
	if s == nil {
		return
	}
	for _, b := range [][]byte{s.sEnc, s.sMac, s.sRmac, s.macChain} {
		clear(b)
	}
	s.sEnc, s.sMac, s.sRmac, s.macChain = nil, nil, nil, nil
	s.counter = 0
}

func (s *Session) fail(format string, args ...any) error {
	s.Clear()
	return failure(format, args...)
}

// Wrap encrypts and MACs a command. The plaintext data field of cmd is left
// untouched, intermediate buffers are cleared.
func (s *Session) Wrap(cmd *iso7816.CommandAPDU) (*iso7816.CommandAPDU, error) {
	if !s.Established() {
		return nil, failure("no session")
	}

	s.counter++
	if s.counter == 0 {
		return nil, s.fail("send counter exhausted")
	}

	var data []byte
	if len(cmd.Data) > 0 {
		iv, err := aesECBEncrypt(s.sEnc, counterBlock(0x00, s.counter))
		if err != nil {
			return nil, s.fail("command IV: %v", err)
		}
		padded := pad80(cmd.Data)
		data, err = aesCBCEncrypt(s.sEnc, iv, padded)
		clear(padded)
		if err != nil {
			return nil, s.fail("command encryption: %v", err)
		}
	}

	wrapped := iso7816.NewCommandAPDU(
		cmd.Class.WithSecureMessaging(iso7816.SMProprietary),
		cmd.Instruction, cmd.P1, cmd.P2, nil, cmd.Ne,
	)
	// The answer always carries an R-MAC.
	if wrapped.Ne == 0 {
		wrapped.Ne = iso7816.MaxShortLe
	}

	cla, err := wrapped.Class.Encode()
	if err != nil {
		return nil, s.fail("class: %v", err)
	}
	header := []byte{cla, byte(cmd.Instruction.Raw), cmd.P1, cmd.P2}

	// The MAC covers Lc in the form the command is encoded with, which
	// depends on Ne as well as on the data length.
	wrapped.Data = append(data, make([]byte, macSize)...)
	lc := lcField(len(wrapped.Data), wrapped.IsExtended())

	mac, err := aesCMAC(s.sMac, s.macChain, header, lc, data)
	if err != nil {
		return nil, s.fail("command MAC: %v", err)
	}
	copy(s.macChain, mac)

	copy(wrapped.Data[len(data):], mac[:macSize])
	return wrapped, nil
}

// lcField encodes Lc for a command of n data bytes.
func lcField(n int, extended bool) []byte {
	if !extended {
		return []byte{byte(n)}
	}
	return []byte{0x00, byte(n >> 8), byte(n)}
}

// Unwrap checks the R-MAC of a response and decrypts its data field.
// Error statuses without data are passed through, since the card cannot
// protect them.
func (s *Session) Unwrap(resp *iso7816.ResponseAPDU) (*iso7816.ResponseAPDU, error) {
	if !s.Established() {
		return nil, failure("no session")
	}

	if len(resp.Data) == 0 && isUnprotectedError(resp.Status) {
		return resp, nil
	}
	if len(resp.Data) < macSize {
		return nil, s.fail("response of %d bytes cannot carry a MAC", len(resp.Data))
	}

	body := resp.Data[:len(resp.Data)-macSize]
	received := resp.Data[len(resp.Data)-macSize:]

	expected, err := aesCMAC(s.sRmac, s.macChain, body, []byte{resp.Status.SW1(), resp.Status.SW2()})
	if err != nil {
		return nil, s.fail("response MAC: %v", err)
	}
	if subtle.ConstantTimeCompare(expected[:macSize], received) != 1 {
		return nil, s.fail("response MAC mismatch")
	}

	out := &iso7816.ResponseAPDU{Status: resp.Status}
	if len(body) == 0 {
		return out, nil
	}

	iv, err := aesECBEncrypt(s.sEnc, counterBlock(0x80, s.counter))
	if err != nil {
		return nil, s.fail("response IV: %v", err)
	}
	plain, err := aesCBCDecrypt(s.sEnc, iv, body)
	if err != nil {
		return nil, s.fail("response decryption: %v", err)
	}
	data, err := unpad80(plain)
	if err != nil {
		clear(plain)
		return nil, s.fail("response padding: %v", err)
	}
	out.Data = data
	return out, nil
}

// isUnprotectedError reports a genuine error status, outside of the 61, 62
// and 63 families that may still carry protected data.
func isUnprotectedError(sw iso7816.StatusWord) bool {
	if sw == iso7816.SW_NO_ERROR {
		return false
	}
	switch sw.SW1() {
	case 0x61, 0x62, 0x63:
		return false
	}
	return true
}

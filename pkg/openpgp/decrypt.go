package openpgp

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
)

// ErrDecryption reports a session key that does not unwrap or unpad.
var ErrDecryption = errors.New("session key decryption failed")

// DecryptSessionKey recovers the session key of an OpenPGP public-key
// encrypted session key packet with the decryption key. PW1 must have been
// verified for other operations.
//
// For RSA, encrypted is the MPI of the packet. For ECDH it is the MPI of the
// ephemeral point, one length byte and the wrapped key (RFC 6637 §8); kdf
// gives the KDF parameters of the recipient key, nil meaning the defaults of
// its curve. The result is the decrypted session data: algorithm, key and
// checksum.
func (c *Connection) DecryptSessionKey(encrypted []byte, kdf *keyformat.KDFParams) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	switch f := c.caps.Format(keyformat.SlotDecrypt).(type) {
	case keyformat.RSA:
		return c.decryptRSA(encrypted)
	case keyformat.EC:
		if f.Alg != keyformat.AlgECDH {
			return nil, fmt.Errorf("%w: decryption key is %s", keyformat.ErrUnsupported, f)
		}
		curve, ok := f.Curve()
		if !ok {
			return nil, fmt.Errorf("%w: decryption key curve OID %X", keyformat.ErrUnsupported, f.OID)
		}
		params := curve.KDF
		if kdf != nil {
			params = *kdf
		}
		return c.decryptECDH(curve, params, encrypted)
	default:
		return nil, fmt.Errorf("%w: decryption key format %v", keyformat.ErrUnsupported, f)
	}
}

func (c *Connection) decryptRSA(mpi []byte) ([]byte, error) {
	if len(mpi) < 3 {
		return nil, fmt.Errorf("%w: RSA ciphertext of %d bytes", iso7816.ErrProtocolViolation, len(mpi))
	}
	data := mpi[2:]
	if data[0]&0x80 != 0 {
		data = append([]byte{0x00}, data...)
	}

	resp, err := c.transceive("PSO:DECIPHER", command.Decipher(data))
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Connection) decryptECDH(curve *keyformat.Curve, params keyformat.KDFParams, encrypted []byte) ([]byte, error) {
	point, wrapped, err := splitECDHCiphertext(encrypted)
	if err != nil {
		return nil, err
	}
	if curve.IsMontgomery() && len(point) == curve.Size+1 && point[0] == 0x40 {
		point = point[1:]
	}

	ukm, err := keyformat.UserKeyingMaterial(curve, params, c.caps.Fingerprint(keyformat.SlotDecrypt))
	if err != nil {
		return nil, err
	}
	if !params.Hash.Available() {
		return nil, fmt.Errorf("%w: KDF hash %v", keyformat.ErrUnsupported, params.Hash)
	}

	resp, err := c.transceive("PSO:DECIPHER", command.DecipherECDH(point))
	if err != nil {
		return nil, err
	}
	z, err := sharedSecret(curve, resp.Data)
	if err != nil {
		return nil, err
	}

	// One-step KDF of RFC 6637 §7 with a single round.
	h := params.Hash.New()
	h.Write([]byte{0x00, 0x00, 0x00, 0x01})
	h.Write(z)
	h.Write(ukm)
	digest := h.Sum(nil)
	clear(z)
	defer clear(digest)

	if len(digest) < params.KeySize {
		return nil, fmt.Errorf("%w: %v cannot derive a %d-byte key", keyformat.ErrUnsupported, params.Hash, params.KeySize)
	}
	m, err := aesKeyUnwrap(digest[:params.KeySize], wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return unpadSessionKey(m)
}

func splitECDHCiphertext(b []byte) (point, wrapped []byte, err error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("%w: ECDH ciphertext of %d bytes", iso7816.ErrProtocolViolation, len(b))
	}
	n := (int(binary.BigEndian.Uint16(b)) + 7) / 8
	rest := b[2:]
	if len(rest) < n+1 {
		return nil, nil, fmt.Errorf("%w: truncated ECDH ephemeral point", iso7816.ErrProtocolViolation)
	}
	point, rest = rest[:n], rest[n:]
	l := int(rest[0])
	if len(rest) != 1+l {
		return nil, nil, fmt.Errorf("%w: wrapped key of %d bytes, %d announced", iso7816.ErrProtocolViolation, len(rest)-1, l)
	}
	return point, rest[1:], nil
}

// sharedSecret extracts the x coordinate when the card returns a full point.
func sharedSecret(curve *keyformat.Curve, b []byte) ([]byte, error) {
	switch {
	case curve.IsMontgomery() && len(b) == curve.Size+1 && b[0] == 0x40:
		return b[1:], nil
	case len(b) == curve.Size:
		return b, nil
	case len(b) == 1+2*curve.Size && b[0] == 0x04:
		return b[1 : 1+curve.Size], nil
	}
	return nil, fmt.Errorf("%w: ECDH result of %d bytes on %s", iso7816.ErrProtocolViolation, len(b), curve)
}

// unpadSessionKey strips the PKCS#5 padding of RFC 6637 §8.
func unpadSessionKey(m []byte) ([]byte, error) {
	if len(m) == 0 {
		return nil, ErrDecryption
	}
	n := int(m[len(m)-1])
	if n == 0 || n > len(m) {
		clear(m)
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	pad := m[len(m)-n:]
	good := 1
	for _, b := range pad {
		good &= subtle.ConstantTimeByteEq(b, byte(n))
	}
	if good != 1 {
		clear(m)
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	return m[:len(m)-n], nil
}

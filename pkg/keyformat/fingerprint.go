package keyformat

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/gregLibert/openpgp-card/pkg/bits"
)

// OPENPGP V4 FINGERPRINT (RFC 4880 §12.2):
//
//	SHA-1( 99 | length (2) | 04 | creation time (4) | algorithm | key material )
//
// Key material:
//   - RSA:   MPI(n) MPI(e)
//   - ECDSA: len(OID) OID MPI(point)
//   - EdDSA: len(OID) OID MPI(40 | point)
//   - ECDH:  len(OID) OID MPI(point) KDF parameters, 25519 points prefixed with 40

// FingerprintV4 computes the fingerprint the card stores in C7, C8 or C9 for a
// key created at the given time.
func FingerprintV4(format KeyFormat, pub crypto.PublicKey, created time.Time) ([]byte, error) {
	body, err := publicKeyPacketBody(format, pub, created)
	if err != nil {
		return nil, err
	}

	h := sha1.New()
	h.Write([]byte{0x99, byte(len(body) >> 8), byte(len(body))})
	h.Write(body)
	return h.Sum(nil), nil
}

func publicKeyPacketBody(format KeyFormat, pub crypto.PublicKey, created time.Time) ([]byte, error) {
	body := []byte{0x04}
	body = binary.BigEndian.AppendUint32(body, uint32(created.Unix()))
	body = append(body, byte(format.Algorithm()))

	switch f := format.(type) {
	case RSA:
		k, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T for an RSA slot", ErrUnsupported, pub)
		}
		body = appendMPI(body, k.N.Bytes())
		body = appendMPI(body, big.NewInt(int64(k.E)).Bytes())
		return body, nil

	case EC:
		point, c, err := PublicPoint(pub)
		if err != nil {
			return nil, err
		}
		if fc, ok := f.Curve(); !ok || fc != c {
			return nil, fmt.Errorf("%w: key on %s for slot %s", ErrUnsupported, c.Name, f)
		}
		if c.IsMontgomery() {
			point = append([]byte{0x40}, point...)
		}
		body = appendOID(body, c.OID)
		body = appendMPI(body, point)
		if f.Alg == AlgECDH {
			params, err := c.KDF.Bytes()
			if err != nil {
				return nil, err
			}
			body = append(body, params...)
		}
		return body, nil

	case EdDSA:
		point, c, err := PublicPoint(pub)
		if err != nil {
			return nil, err
		}
		if c != Ed25519 {
			return nil, fmt.Errorf("%w: key on %s for an EdDSA slot", ErrUnsupported, c.Name)
		}
		body = appendOID(body, c.OID)
		body = appendMPI(body, append([]byte{0x40}, point...))
		return body, nil

	default:
		return nil, fmt.Errorf("%w: key format %T", ErrUnsupported, format)
	}
}

func appendOID(b, oid []byte) []byte {
	b = append(b, byte(len(oid)))
	return append(b, oid...)
}

// appendMPI writes an RFC 4880 multiprecision integer: bit count then the
// big-endian value without leading zero bytes.
func appendMPI(b, x []byte) []byte {
	for len(x) > 0 && x[0] == 0 {
		x = x[1:]
	}
	bitLen := 0
	if len(x) > 0 {
		bitLen = (len(x)-1)*8 + int(bits.Len(x[0]))
	}
	b = append(b, byte(bitLen>>8), byte(bitLen))
	return append(b, x...)
}

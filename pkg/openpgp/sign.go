package openpgp

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"hash"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/ripemd160"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
)

// DER encoded DigestInfo headers (RFC 8017 §9.2 note 1), the digest follows.
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA1:      {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2B, 0x0E, 0x03, 0x02, 0x1A, 0x05, 0x00, 0x04, 0x14},
	crypto.RIPEMD160: {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2B, 0x24, 0x03, 0x02, 0x01, 0x05, 0x00, 0x04, 0x14},
	crypto.SHA224:    {0x30, 0x2D, 0x30, 0x0D, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x04, 0x05, 0x00, 0x04, 0x1C},
	crypto.SHA256:    {0x30, 0x31, 0x30, 0x0D, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384:    {0x30, 0x41, 0x30, 0x0D, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512:    {0x30, 0x51, 0x30, 0x0D, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// DigestInfo prepends the ASN.1 algorithm identifier of h to digest, the
// input of an RSA PKCS#1 v1.5 signature.
func DigestInfo(h crypto.Hash, digest []byte) ([]byte, error) {
	prefix, ok := digestInfoPrefixes[h]
	if !ok {
		return nil, fmt.Errorf("%w: hash %v", keyformat.ErrUnsupported, h)
	}
	if len(digest) != h.Size() {
		return nil, fmt.Errorf("%w: %v digest of %d bytes", keyformat.ErrUnsupported, h, len(digest))
	}
	out := make([]byte, 0, len(prefix)+len(digest))
	out = append(out, prefix...)
	return append(out, digest...), nil
}

// CalculateSignature signs a digest with the signature key. The result is a
// PKCS#1 v1.5 signature for RSA, an ASN.1 DER signature for ECDSA and the
// raw 64-byte signature for EdDSA.
//
// PW1 must have been verified in signature mode. The verification is consumed
// unless the card keeps it valid for several signatures.
func (c *Connection) CalculateSignature(h crypto.Hash, digest []byte) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var input []byte
	format := c.caps.Format(keyformat.SlotSign)
	switch f := format.(type) {
	case keyformat.RSA:
		var err error
		if input, err = DigestInfo(h, digest); err != nil {
			return nil, err
		}
	case keyformat.EC:
		if f.Alg != keyformat.AlgECDSA {
			return nil, fmt.Errorf("%w: signature key is %s", keyformat.ErrUnsupported, f)
		}
		input = digest
	case keyformat.EdDSA:
		input = digest
	default:
		return nil, fmt.Errorf("%w: signature key format %v", keyformat.ErrUnsupported, format)
	}

	resp, err := c.transceive("PSO:COMPUTE DIGITAL SIGNATURE", command.ComputeDigitalSignature(input))
	c.InvalidateSingleUsePW1()
	if err != nil {
		return nil, err
	}

	switch f := format.(type) {
	case keyformat.RSA:
		if len(resp.Data) != f.ModulusBytes() {
			return nil, fmt.Errorf("%w: RSA signature of %d bytes for a %d-bit key", iso7816.ErrProtocolViolation, len(resp.Data), f.ModulusBits)
		}
		return resp.Data, nil
	case keyformat.EC:
		return ecdsaSignatureDER(resp.Data)
	default:
		if len(resp.Data) != 64 {
			return nil, fmt.Errorf("%w: EdDSA signature of %d bytes", iso7816.ErrProtocolViolation, len(resp.Data))
		}
		return resp.Data, nil
	}
}

// HashAndSign hashes msg with h and signs the digest.
func (c *Connection) HashAndSign(h crypto.Hash, msg []byte) ([]byte, error) {
	digest, err := Digest(h, msg)
	if err != nil {
		return nil, err
	}
	return c.CalculateSignature(h, digest)
}

// Digest hashes msg with any hash a card signature can carry.
func Digest(h crypto.Hash, msg []byte) ([]byte, error) {
	var hh hash.Hash
	switch {
	case h == crypto.RIPEMD160:
		hh = ripemd160.New()
	case h.Available():
		hh = h.New()
	default:
		return nil, fmt.Errorf("%w: hash %v", keyformat.ErrUnsupported, h)
	}
	hh.Write(msg)
	return hh.Sum(nil), nil
}

// ecdsaSignatureDER turns the plain r || s returned by the card into
// SEQUENCE { INTEGER r, INTEGER s }.
func ecdsaSignatureDER(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: ECDSA signature of %d bytes", iso7816.ErrProtocolViolation, len(raw))
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

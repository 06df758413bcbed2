package keyformat

import (
	"crypto"
	"fmt"
)

// KDFParams are the RFC 6637 key derivation parameters of an ECDH key: the
// digest of the one-step KDF and the size of the AES key-wrap key.
type KDFParams struct {
	Hash    crypto.Hash
	KeySize int
}

// RFC 4880 §9.4 hash ids and §9.2 symmetric ids.
var (
	hashIDs = map[crypto.Hash]byte{
		crypto.SHA256: 0x08,
		crypto.SHA384: 0x09,
		crypto.SHA512: 0x0A,
	}
	aesIDs = map[int]byte{
		16: 0x07,
		24: 0x08,
		32: 0x09,
	}
)

// Bytes encodes the parameters as they appear in an ECDH public key packet:
// length 03, reserved 01, hash id, symmetric algorithm id.
func (p KDFParams) Bytes() ([]byte, error) {
	h, ok := hashIDs[p.Hash]
	if !ok {
		return nil, fmt.Errorf("%w: KDF hash %v", ErrUnsupported, p.Hash)
	}
	s, ok := aesIDs[p.KeySize]
	if !ok {
		return nil, fmt.Errorf("%w: KDF key-wrap size %d", ErrUnsupported, p.KeySize)
	}
	return []byte{0x03, 0x01, h, s}, nil
}

// anonymousSender is the fixed 20-byte party identifier of RFC 6637 §8.
const anonymousSender = "Anonymous Sender    "

// UserKeyingMaterial builds the RFC 6637 "Param" input of the ECDH KDF for the
// recipient key identified by its v4 fingerprint.
func UserKeyingMaterial(curve *Curve, kdf KDFParams, fingerprint []byte) ([]byte, error) {
	if len(fingerprint) != 20 {
		return nil, fmt.Errorf("%w: fingerprint of %d bytes", ErrUnsupported, len(fingerprint))
	}
	params, err := kdf.Bytes()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(curve.OID)+1+len(params)+len(anonymousSender)+len(fingerprint))
	out = append(out, byte(len(curve.OID)))
	out = append(out, curve.OID...)
	out = append(out, byte(AlgECDH))
	out = append(out, params...)
	out = append(out, anonymousSender...)
	out = append(out, fingerprint...)
	return out, nil
}

package keyformat

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/elliptic"
	"fmt"
	"strings"
)

// Curve is a named curve supported by OpenPGP cards.
type Curve struct {
	Name    string
	Aliases []string

	// OID is the DER content of the object identifier, without tag and length.
	OID []byte

	// Size is the byte length of a private scalar and of one point coordinate.
	Size int

	// KDF holds the RFC 6637 defaults used when the curve serves ECDH.
	KDF KDFParams

	ecdh     ecdh.Curve
	elliptic elliptic.Curve
}

// ECDH returns the Go implementation of the curve, if any. Brainpool and
// secp256k1 keys can live on a card but cannot be used for local key agreement.
func (c *Curve) ECDH() (ecdh.Curve, error) {
	if c.ecdh == nil {
		return nil, fmt.Errorf("%w: no ECDH implementation for %s", ErrUnsupported, c.Name)
	}
	return c.ecdh, nil
}

// IsMontgomery reports whether points are a bare 32-byte u coordinate.
func (c *Curve) IsMontgomery() bool { return c == Curve25519 }

// IsTwistedEdwards reports whether points are a compressed 32-byte Edwards point.
func (c *Curve) IsTwistedEdwards() bool { return c == Ed25519 }

// PointSize returns the length of a public point as exchanged with the card,
// uncompressed form for Weierstrass curves.
func (c *Curve) PointSize() int {
	if c.IsMontgomery() || c.IsTwistedEdwards() {
		return c.Size
	}
	return 1 + 2*c.Size
}

func (c *Curve) String() string { return c.Name }

var (
	P256 = &Curve{
		Name: "nistp256", Aliases: []string{"P-256", "secp256r1", "prime256v1"},
		OID:  []byte{0x2A, 0x86, 0x48, 0xCE, 0x3D, 0x03, 0x01, 0x07},
		Size: 32, KDF: KDFParams{Hash: crypto.SHA256, KeySize: 16},
		ecdh: ecdh.P256(), elliptic: elliptic.P256(),
	}
	P384 = &Curve{
		Name: "nistp384", Aliases: []string{"P-384", "secp384r1"},
		OID:  []byte{0x2B, 0x81, 0x04, 0x00, 0x22},
		Size: 48, KDF: KDFParams{Hash: crypto.SHA384, KeySize: 24},
		ecdh: ecdh.P384(), elliptic: elliptic.P384(),
	}
	P521 = &Curve{
		Name: "nistp521", Aliases: []string{"P-521", "secp521r1"},
		OID:  []byte{0x2B, 0x81, 0x04, 0x00, 0x23},
		Size: 66, KDF: KDFParams{Hash: crypto.SHA512, KeySize: 32},
		ecdh: ecdh.P521(), elliptic: elliptic.P521(),
	}
	BrainpoolP256r1 = &Curve{
		Name: "brainpoolP256r1",
		OID:  []byte{0x2B, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x07},
		Size: 32, KDF: KDFParams{Hash: crypto.SHA256, KeySize: 16},
	}
	BrainpoolP384r1 = &Curve{
		Name: "brainpoolP384r1",
		OID:  []byte{0x2B, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x0B},
		Size: 48, KDF: KDFParams{Hash: crypto.SHA384, KeySize: 24},
	}
	BrainpoolP512r1 = &Curve{
		Name: "brainpoolP512r1",
		OID:  []byte{0x2B, 0x24, 0x03, 0x03, 0x02, 0x08, 0x01, 0x01, 0x0D},
		Size: 64, KDF: KDFParams{Hash: crypto.SHA512, KeySize: 32},
	}
	Secp256k1 = &Curve{
		Name: "secp256k1",
		OID:  []byte{0x2B, 0x81, 0x04, 0x00, 0x0A},
		Size: 32, KDF: KDFParams{Hash: crypto.SHA256, KeySize: 16},
	}
	Ed25519 = &Curve{
		Name: "ed25519", Aliases: []string{"Ed25519"},
		OID:  []byte{0x2B, 0x06, 0x01, 0x04, 0x01, 0xDA, 0x47, 0x0F, 0x01},
		Size: 32,
	}
	Curve25519 = &Curve{
		Name: "cv25519", Aliases: []string{"Curve25519", "X25519"},
		OID:  []byte{0x2B, 0x06, 0x01, 0x04, 0x01, 0x97, 0x55, 0x01, 0x05, 0x01},
		Size: 32, KDF: KDFParams{Hash: crypto.SHA256, KeySize: 16},
		ecdh: ecdh.X25519(),
	}
)

var curves = []*Curve{P256, P384, P521, BrainpoolP256r1, BrainpoolP384r1, BrainpoolP512r1, Secp256k1, Ed25519, Curve25519}

// CurveByOID looks a curve up by the DER content of its identifier.
func CurveByOID(oid []byte) (*Curve, bool) {
	for _, c := range curves {
		if bytes.Equal(c.OID, oid) {
			return c, true
		}
	}
	return nil, false
}

// CurveByName accepts the registry name or any alias, case insensitively.
func CurveByName(name string) (*Curve, bool) {
	for _, c := range curves {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
		for _, a := range c.Aliases {
			if strings.EqualFold(a, name) {
				return c, true
			}
		}
	}
	return nil, false
}

// CurveForECDH maps a Go curve back to the registry.
func CurveForECDH(c ecdh.Curve) (*Curve, bool) {
	for _, rc := range curves {
		if rc.ecdh != nil && rc.ecdh == c {
			return rc, true
		}
	}
	return nil, false
}

// CurveForElliptic maps a crypto/elliptic curve back to the registry.
func CurveForElliptic(c elliptic.Curve) (*Curve, bool) {
	for _, rc := range curves {
		if rc.elliptic != nil && rc.elliptic == c {
			return rc, true
		}
	}
	return nil, false
}

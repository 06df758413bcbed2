package keyformat

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// ECPoint is the public key of a curve Go has no implementation for, kept as
// the raw point returned by the card.
type ECPoint struct {
	Curve *Curve
	Point []byte
}

// ParsePublicKey decodes the 7F49 template returned by GENERATE ASYMMETRIC KEY
// PAIR. RSA templates carry 81 (modulus) and 82 (exponent), EC templates carry
// 86 (point).
//
// The result is *rsa.PublicKey, *ecdsa.PublicKey for ECDSA slots, *ecdh.PublicKey
// for ECDH slots, ed25519.PublicKey, or *ECPoint for curves without a Go
// implementation.
func ParsePublicKey(format KeyFormat, data []byte) (crypto.PublicKey, error) {
	nodes, err := tlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: public key template: %w", iso7816.ErrProtocolViolation, err)
	}
	tmpl, ok := tlv.FindRecursive(nodes, 0x7F49)
	if !ok {
		return nil, fmt.Errorf("%w: public key template 7F49 missing", iso7816.ErrProtocolViolation)
	}

	switch f := format.(type) {
	case RSA:
		mod, ok := tlv.Find(tmpl.Children, 0x81)
		if !ok {
			return nil, fmt.Errorf("%w: RSA modulus missing", iso7816.ErrProtocolViolation)
		}
		exp, ok := tlv.Find(tmpl.Children, 0x82)
		if !ok {
			return nil, fmt.Errorf("%w: RSA exponent missing", iso7816.ErrProtocolViolation)
		}
		return parseRSAPublic(f, mod.Value, exp.Value)

	case EC:
		point, err := findPoint(tmpl)
		if err != nil {
			return nil, err
		}
		c, ok := f.Curve()
		if !ok {
			return nil, fmt.Errorf("%w: curve OID %X", ErrUnsupported, f.OID)
		}
		return parseECPublic(c, f.Alg, point)

	case EdDSA:
		point, err := findPoint(tmpl)
		if err != nil {
			return nil, err
		}
		return parseECPublic(Ed25519, AlgEdDSA, point)

	default:
		return nil, fmt.Errorf("%w: key format %T", ErrUnsupported, format)
	}
}

func findPoint(tmpl tlv.Node) ([]byte, error) {
	p, ok := tlv.Find(tmpl.Children, 0x86)
	if !ok {
		return nil, fmt.Errorf("%w: EC point missing", iso7816.ErrProtocolViolation)
	}
	return p.Value, nil
}

func parseRSAPublic(f RSA, mod, exp []byte) (*rsa.PublicKey, error) {
	n := new(big.Int).SetBytes(mod)
	e := new(big.Int).SetBytes(exp)

	if n.BitLen() != int(f.ModulusBits) {
		return nil, fmt.Errorf("%w: modulus of %d bits for an RSA %d slot", iso7816.ErrProtocolViolation, n.BitLen(), f.ModulusBits)
	}
	if !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: exponent too large", ErrUnsupported)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func parseECPublic(c *Curve, alg Algorithm, point []byte) (crypto.PublicKey, error) {
	// 25519 points may come in their OpenPGP native form, prefixed with 40.
	if (c.IsMontgomery() || c.IsTwistedEdwards()) && len(point) == c.Size+1 && point[0] == 0x40 {
		point = point[1:]
	}
	if len(point) != c.PointSize() {
		return nil, fmt.Errorf("%w: %s point of %d bytes", iso7816.ErrProtocolViolation, c.Name, len(point))
	}

	if c.IsTwistedEdwards() {
		return ed25519.PublicKey(copyBytes(point)), nil
	}

	curve, err := c.ECDH()
	if err != nil {
		return &ECPoint{Curve: c, Point: copyBytes(point)}, nil
	}
	pub, err := curve.NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("%w: %s point: %v", iso7816.ErrProtocolViolation, c.Name, err)
	}
	if alg == AlgECDSA && c.elliptic != nil {
		return ecdhToECDSA(c, pub), nil
	}
	return pub, nil
}

func ecdhToECDSA(c *Curve, pub *ecdh.PublicKey) *ecdsa.PublicKey {
	raw := pub.Bytes()
	return &ecdsa.PublicKey{
		Curve: c.elliptic,
		X:     new(big.Int).SetBytes(raw[1 : 1+c.Size]),
		Y:     new(big.Int).SetBytes(raw[1+c.Size:]),
	}
}

// PublicPoint returns the point of an EC public key in the card encoding.
func PublicPoint(pub crypto.PublicKey) ([]byte, *Curve, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		c, ok := CurveForElliptic(k.Curve)
		if !ok {
			return nil, nil, fmt.Errorf("%w: ECDSA curve %s", ErrUnsupported, k.Curve.Params().Name)
		}
		ek, err := k.ECDH()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return ek.Bytes(), c, nil
	case *ecdh.PublicKey:
		c, ok := CurveForECDH(k.Curve())
		if !ok {
			return nil, nil, fmt.Errorf("%w: ECDH curve", ErrUnsupported)
		}
		return k.Bytes(), c, nil
	case ed25519.PublicKey:
		return []byte(k), Ed25519, nil
	case *ECPoint:
		return k.Point, k.Curve, nil
	default:
		return nil, nil, fmt.Errorf("%w: public key %T", ErrUnsupported, pub)
	}
}

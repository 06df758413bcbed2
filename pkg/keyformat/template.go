package keyformat

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// Slot is one of the three key references of the OpenPGP application.
type Slot int

const (
	SlotSign Slot = iota
	SlotDecrypt
	SlotAuth
)

type slotInfo struct {
	name        string
	crt         byte
	attributes  uint32
	fingerprint uint32
	timestamp   uint32
}

var slots = map[Slot]slotInfo{
	SlotSign:    {name: "sign", crt: 0xB6, attributes: 0xC1, fingerprint: 0xC7, timestamp: 0xCE},
	SlotDecrypt: {name: "decrypt", crt: 0xB8, attributes: 0xC2, fingerprint: 0xC8, timestamp: 0xCF},
	SlotAuth:    {name: "auth", crt: 0xA4, attributes: 0xC3, fingerprint: 0xC9, timestamp: 0xD0},
}

// Slots lists the key references in fingerprint order.
var Slots = []Slot{SlotSign, SlotDecrypt, SlotAuth}

func (s Slot) String() string {
	if info, ok := slots[s]; ok {
		return info.name
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

// Valid reports whether s is one of the three key references.
func (s Slot) Valid() bool {
	_, ok := slots[s]
	return ok
}

// CRT is the control reference template tag naming the key (B6, B8 or A4).
func (s Slot) CRT() byte { return slots[s].crt }

// AttributesTag is the algorithm attributes DO (C1, C2 or C3).
func (s Slot) AttributesTag() uint32 { return slots[s].attributes }

// FingerprintTag is the fingerprint DO (C7, C8 or C9).
func (s Slot) FingerprintTag() uint32 { return slots[s].fingerprint }

// TimestampTag is the generation date DO (CE, CF or D0).
func (s Slot) TimestampTag() uint32 { return slots[s].timestamp }

// SlotByName resolves "sign", "decrypt" or "auth".
func SlotByName(name string) (Slot, bool) {
	for s, info := range slots {
		if info.name == name {
			return s, true
		}
	}
	return 0, false
}

// PRIVATE KEY IMPORT (OpenPGP card 3.4 §4.4.3.12):
//
//	4D {
//	  B6|B8|A4 00                 control reference template of the slot
//	  7F48 { tag len, tag len }   header list, lengths only
//	  5F48 { values... }          concatenated values, same order
//	}
//
// RSA: 91 e, 92 p, 93 q, then 94 1/q mod p, 95 d mod (p-1), 96 d mod (q-1) for CRT
// formats, then 97 n for the formats carrying the modulus. Each value is a fixed
// width, big-endian unsigned integer.
// EC: 92 private scalar, then 99 public point when the format asks for it.

type component struct {
	tag   uint32
	value []byte
}

// ImportTemplate builds the extended header list importing key into slot.
// The returned buffer holds private key material: callers must clear it.
func ImportTemplate(slot Slot, format KeyFormat, key crypto.PrivateKey) ([]byte, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: slot %v", ErrUnsupported, slot)
	}

	var (
		comps []component
		err   error
	)
	switch f := format.(type) {
	case RSA:
		k, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T for an RSA slot", ErrUnsupported, key)
		}
		comps, err = rsaComponents(f, k)
	case EC:
		c, ok := f.Curve()
		if !ok {
			return nil, fmt.Errorf("%w: curve OID %X", ErrUnsupported, f.OID)
		}
		comps, err = ecComponents(c, f.WithPublicKey, key)
	case EdDSA:
		comps, err = ecComponents(Ed25519, false, key)
	default:
		return nil, fmt.Errorf("%w: key format %T", ErrUnsupported, format)
	}
	if err != nil {
		return nil, err
	}

	var headers, values []byte
	for _, c := range comps {
		headers = tlv.AppendHeader(headers, c.tag, len(c.value))
		values = append(values, c.value...)
		clear(c.value)
	}

	var body []byte
	body = append(body, slot.CRT(), 0x00)
	body = tlv.AppendTLV(body, 0x7F48, headers)
	body = tlv.AppendTLV(body, 0x5F48, values)
	clear(values)

	out := tlv.AppendTLV(nil, 0x4D, body)
	clear(body)
	return out, nil
}

func rsaComponents(f RSA, k *rsa.PrivateKey) ([]component, error) {
	if len(k.Primes) != 2 {
		return nil, fmt.Errorf("%w: RSA key with %d primes", ErrUnsupported, len(k.Primes))
	}
	if k.N.BitLen() != int(f.ModulusBits) {
		return nil, fmt.Errorf("%w: RSA %d key for a %d bit slot", ErrUnsupported, k.N.BitLen(), f.ModulusBits)
	}

	modBytes := f.ModulusBytes()
	half := modBytes / 2
	p, q := k.Primes[0], k.Primes[1]

	comps := []component{
		{0x91, fixedWidth(big.NewInt(int64(k.E)), f.ExponentBytes())},
		{0x92, fixedWidth(p, half)},
		{0x93, fixedWidth(q, half)},
	}

	if f.Import.HasCRT() {
		pm1 := new(big.Int).Sub(p, big.NewInt(1))
		qm1 := new(big.Int).Sub(q, big.NewInt(1))
		dp := new(big.Int).Mod(k.D, pm1)
		dq := new(big.Int).Mod(k.D, qm1)
		qinv := new(big.Int).ModInverse(q, p)
		comps = append(comps,
			component{0x94, fixedWidth(qinv, half)},
			component{0x95, fixedWidth(dp, half)},
			component{0x96, fixedWidth(dq, half)},
		)
	}
	if f.Import.HasModulus() {
		comps = append(comps, component{0x97, fixedWidth(k.N, modBytes)})
	}

	for _, c := range comps {
		if c.value == nil {
			return nil, fmt.Errorf("%w: RSA component %02X wider than the slot", ErrUnsupported, c.tag)
		}
	}
	return comps, nil
}

func ecComponents(c *Curve, withPublicKey bool, key crypto.PrivateKey) ([]component, error) {
	scalar, point, err := ecPrivateParts(c, key)
	if err != nil {
		return nil, err
	}

	comps := []component{{0x92, leftPad(scalar, c.Size)}}
	clear(scalar)
	if comps[0].value == nil {
		return nil, fmt.Errorf("%w: scalar wider than %s", ErrUnsupported, c.Name)
	}
	if withPublicKey {
		comps = append(comps, component{0x99, point})
	}
	return comps, nil
}

// ecPrivateParts returns the raw scalar and the public point in the encoding the
// card expects: uncompressed for Weierstrass curves, 40-prefixed native for the
// 25519 curves.
func ecPrivateParts(c *Curve, key crypto.PrivateKey) (scalar, point []byte, err error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		ec, ok := CurveForElliptic(k.Curve)
		if !ok || ec != c {
			return nil, nil, fmt.Errorf("%w: ECDSA key is not on %s", ErrUnsupported, c.Name)
		}
		ek, err := k.ECDH()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return ek.Bytes(), ek.PublicKey().Bytes(), nil

	case *ecdh.PrivateKey:
		ec, ok := CurveForECDH(k.Curve())
		if !ok || ec != c {
			return nil, nil, fmt.Errorf("%w: ECDH key is not on %s", ErrUnsupported, c.Name)
		}
		pub := k.PublicKey().Bytes()
		if c.IsMontgomery() {
			pub = append([]byte{0x40}, pub...)
		}
		return k.Bytes(), pub, nil

	case ed25519.PrivateKey:
		if c != Ed25519 {
			return nil, nil, fmt.Errorf("%w: Ed25519 key for %s", ErrUnsupported, c.Name)
		}
		pub := append([]byte{0x40}, k.Public().(ed25519.PublicKey)...)
		return copyBytes(k.Seed()), pub, nil

	default:
		return nil, nil, fmt.Errorf("%w: private key %T", ErrUnsupported, key)
	}
}

// fixedWidth returns x big-endian on exactly n bytes, or nil when it does not fit.
func fixedWidth(x *big.Int, n int) []byte {
	if x == nil || x.Sign() < 0 || (x.BitLen()+7)/8 > n {
		return nil
	}
	return x.FillBytes(make([]byte, n))
}

func leftPad(b []byte, n int) []byte {
	if len(b) > n {
		return nil
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

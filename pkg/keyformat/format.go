// Package keyformat implements the OpenPGP card algorithm attributes (DO C1, C2,
// C3 and D4) and everything that depends on them: the curve registry, private
// key import templates, public key templates, v4 fingerprints and the ECDH
// user keying material.
package keyformat

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// ALGORITHM ATTRIBUTES (OpenPGP card 3.4 §4.4.3.10):
//
//	RSA    01 | modulus bits (2) | exponent bits (2) | import format (1, optional)
//	ECDH   12 | OID without its 06 tag and length | FF when the public key is imported
//	ECDSA  13 | idem
//	EdDSA  16 | idem
//
// Some firmware append a stray byte to the OID. Decoding retries once without the
// last byte and otherwise keeps the unknown OID.

// ErrUnsupported reports an algorithm, curve, hash or key type this package cannot handle.
var ErrUnsupported = errors.New("unsupported configuration")

// Algorithm is the first byte of the algorithm attributes, equal to the
// RFC 4880 public key algorithm id.
type Algorithm byte

const (
	AlgRSA   Algorithm = 0x01
	AlgECDH  Algorithm = 0x12
	AlgECDSA Algorithm = 0x13
	AlgEdDSA Algorithm = 0x16
)

var algorithmNames = map[Algorithm]string{
	AlgRSA:   "RSA",
	AlgECDH:  "ECDH",
	AlgECDSA: "ECDSA",
	AlgEdDSA: "EdDSA",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algorithm(0x%02X)", byte(a))
}

// KeyFormat is the closed set of RSA, EC and EdDSA. Every format dependent
// call site switches over the three concrete types.
type KeyFormat interface {
	Algorithm() Algorithm
	Bytes() []byte
	String() string

	keyFormat()
}

// RSAImportFormat is the last byte of the RSA attributes.
type RSAImportFormat byte

const (
	RSAStandard            RSAImportFormat = 0x00
	RSAStandardWithModulus RSAImportFormat = 0x01
	RSACRT                 RSAImportFormat = 0x02
	RSACRTWithModulus      RSAImportFormat = 0x03
)

type rsaImportInfo struct {
	name    string
	crt     bool
	modulus bool
}

var rsaImportFormats = map[RSAImportFormat]rsaImportInfo{
	RSAStandard:            {name: "standard", crt: false, modulus: false},
	RSAStandardWithModulus: {name: "standard with modulus", crt: false, modulus: true},
	RSACRT:                 {name: "crt", crt: true, modulus: false},
	RSACRTWithModulus:      {name: "crt with modulus", crt: true, modulus: true},
}

func (f RSAImportFormat) String() string {
	if info, ok := rsaImportFormats[f]; ok {
		return info.name
	}
	return fmt.Sprintf("RSAImportFormat(0x%02X)", byte(f))
}

// HasCRT reports whether the import template carries the CRT components.
func (f RSAImportFormat) HasCRT() bool { return rsaImportFormats[f].crt }

// HasModulus reports whether the import template carries the modulus.
func (f RSAImportFormat) HasModulus() bool { return rsaImportFormats[f].modulus }

// RSA describes an RSA key slot.
type RSA struct {
	ModulusBits  uint16
	ExponentBits uint16
	Import       RSAImportFormat
}

func (RSA) keyFormat() {}
func (RSA) Algorithm() Algorithm { return AlgRSA }
func (f RSA) ModulusBytes() int { return (int(f.ModulusBits) + 7) / 8 }
func (f RSA) ExponentBytes() int { return (int(f.ExponentBits) + 7) / 8 }

func (f RSA) Bytes() []byte {
	return []byte{
		byte(AlgRSA),
		byte(f.ModulusBits >> 8), byte(f.ModulusBits),
		byte(f.ExponentBits >> 8), byte(f.ExponentBits),
		byte(f.Import),
	}
}

func (f RSA) String() string {
	return fmt.Sprintf("RSA %d (e %d bits, %s)", f.ModulusBits, f.ExponentBits, f.Import)
}

// EC describes an ECDH or ECDSA key slot. OID is the DER content of the curve
// identifier, kept as received even when the curve is unknown.
type EC struct {
	Alg           Algorithm
	OID           []byte
	WithPublicKey bool

	// StandardImport keeps the explicit 00 import byte some cards append, so
	// the attributes encode back to what the card reported.
	StandardImport bool
}

func (EC) keyFormat() {}
func (f EC) Algorithm() Algorithm { return f.Alg }

// Curve returns the registered curve for the OID.
func (f EC) Curve() (*Curve, bool) { return CurveByOID(f.OID) }

func (f EC) Bytes() []byte {
	out := make([]byte, 0, 2+len(f.OID))
	out = append(out, byte(f.Alg))
	out = append(out, f.OID...)
	switch {
	case f.WithPublicKey:
		out = append(out, 0xFF)
	case f.StandardImport:
		out = append(out, 0x00)
	}
	return out
}

func (f EC) String() string {
	name := fmt.Sprintf("OID %X", f.OID)
	if c, ok := f.Curve(); ok {
		name = c.Name
	}
	return fmt.Sprintf("%s %s", f.Alg, name)
}

// EdDSA is the Ed25519 signature format, the only EdDSA curve cards support.
type EdDSA struct{}

func (EdDSA) keyFormat() {}
func (EdDSA) Algorithm() Algorithm { return AlgEdDSA }
func (EdDSA) Curve() *Curve { return Ed25519 }
func (EdDSA) String() string { return "EdDSA Ed25519" }

func (EdDSA) Bytes() []byte {
	return append([]byte{byte(AlgEdDSA)}, Ed25519.OID...)
}

// Parse decodes algorithm attributes. An EC OID that is not in the registry is
// kept and reported through logger at Warn level; logger may be nil.
func Parse(b []byte, logger *slog.Logger) (KeyFormat, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty algorithm attributes", iso7816.ErrProtocolViolation)
	}

	switch alg := Algorithm(b[0]); alg {
	case AlgRSA:
		return parseRSA(b)

	case AlgECDH, AlgECDSA:
		f := EC{Alg: alg}
		f.OID, f.WithPublicKey, f.StandardImport = splitOID(b[1:])
		if len(f.OID) == 0 {
			return nil, fmt.Errorf("%w: %s attributes without OID", iso7816.ErrProtocolViolation, alg)
		}
		f.OID = fixupOID(f.OID, logger)
		return f, nil

	case AlgEdDSA:
		oid, _, _ := splitOID(b[1:])
		oid = fixupOID(oid, logger)
		if !bytes.Equal(oid, Ed25519.OID) {
			return nil, fmt.Errorf("%w: EdDSA curve OID %X", ErrUnsupported, oid)
		}
		return EdDSA{}, nil

	default:
		return nil, fmt.Errorf("%w: algorithm id 0x%02X", ErrUnsupported, b[0])
	}
}

func parseRSA(b []byte) (KeyFormat, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("%w: RSA attributes of %d bytes", iso7816.ErrProtocolViolation, len(b))
	}

	f := RSA{
		ModulusBits:  uint16(b[1])<<8 | uint16(b[2]),
		ExponentBits: uint16(b[3])<<8 | uint16(b[4]),
		Import:       RSAStandard,
	}
	if len(b) > 5 {
		f.Import = RSAImportFormat(b[5])
		if _, ok := rsaImportFormats[f.Import]; !ok {
			return nil, fmt.Errorf("%w: RSA import format 0x%02X", ErrUnsupported, b[5])
		}
	}
	return f, nil
}

// splitOID removes the optional import format byte: FF for "with public key",
// 00 for the standard format.
func splitOID(b []byte) (oid []byte, withPublicKey, standard bool) {
	if len(b) == 0 {
		return nil, false, false
	}
	switch b[len(b)-1] {
	case 0xFF:
		return b[:len(b)-1], true, false
	case 0x00:
		return b[:len(b)-1], false, true
	}
	return b, false, false
}

func fixupOID(oid []byte, logger *slog.Logger) []byte {
	if _, ok := CurveByOID(oid); ok {
		return copyBytes(oid)
	}
	if len(oid) > 1 {
		if _, ok := CurveByOID(oid[:len(oid)-1]); ok {
			return copyBytes(oid[:len(oid)-1])
		}
	}
	if logger != nil {
		logger.Warn("unknown curve OID in algorithm attributes", slog.String("oid", fmt.Sprintf("%X", oid)))
	}
	return copyBytes(oid)
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Equal reports whether two formats encode to the same attributes. An explicit
// EC standard import byte does not make a difference.
func Equal(a, b KeyFormat) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(canonical(a).Bytes(), canonical(b).Bytes())
}

func canonical(f KeyFormat) KeyFormat {
	if ec, ok := f.(EC); ok {
		ec.StandardImport = false
		return ec
	}
	return f
}

// ByName resolves the short names used on the command line, such as "rsa2048",
// "nistp256", "brainpoolP384r1", "ed25519" or "cv25519". The algorithm picks
// between ECDH and ECDSA for Weierstrass curves.
func ByName(name string, alg Algorithm) (KeyFormat, error) {
	switch name {
	case "rsa2048":
		return RSA{ModulusBits: 2048, ExponentBits: 32, Import: RSAStandard}, nil
	case "rsa3072":
		return RSA{ModulusBits: 3072, ExponentBits: 32, Import: RSAStandard}, nil
	case "rsa4096":
		return RSA{ModulusBits: 4096, ExponentBits: 32, Import: RSAStandard}, nil
	case "ed25519":
		return EdDSA{}, nil
	case "cv25519":
		return EC{Alg: AlgECDH, OID: Curve25519.OID}, nil
	}

	c, ok := CurveByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: key format %q", ErrUnsupported, name)
	}
	if alg != AlgECDH && alg != AlgECDSA {
		return nil, fmt.Errorf("%w: %s is not an EC algorithm", ErrUnsupported, alg)
	}
	return EC{Alg: alg, OID: c.OID}, nil
}

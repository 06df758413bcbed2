package openpgp

import (
	"encoding/binary"
	"fmt"
)

// AID is the full application identifier of DO 4F:
//
//	D2 76 00 01 24 | 01 | version (2) | manufacturer (2) | serial (4) | RFU (2)
type AID []byte

const aidLength = 16

// Valid reports whether the AID has the OpenPGP layout.
func (a AID) Valid() bool {
	return len(a) == aidLength
}

// Version returns the specification version implemented by the card.
func (a AID) Version() (major, minor int) {
	if !a.Valid() {
		return 0, 0
	}
	return int(a[6]), int(a[7])
}

// Manufacturer returns the manufacturer id of bytes 8 and 9.
func (a AID) Manufacturer() uint16 {
	if !a.Valid() {
		return 0
	}
	return binary.BigEndian.Uint16(a[8:10])
}

// ManufacturerName resolves the manufacturer id against the registry kept by
// the OpenPGP card specification maintainers.
func (a AID) ManufacturerName() string {
	id := a.Manufacturer()
	if !a.Valid() {
		return fmt.Sprintf("unknown (0x%04X)", id)
	}
	if name, ok := manufacturers[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown (0x%04X)", id)
}

// Serial returns the 4-byte serial number.
func (a AID) Serial() uint32 {
	if !a.Valid() {
		return 0
	}
	return binary.BigEndian.Uint32(a[10:14])
}

func (a AID) String() string {
	if !a.Valid() {
		return fmt.Sprintf("%X", []byte(a))
	}
	major, minor := a.Version()
	return fmt.Sprintf("%X (v%d.%d, %s, serial %08X)", []byte(a), major, minor, a.ManufacturerName(), a.Serial())
}

var manufacturers = map[uint16]string{
	0x0000: "Testcard",
	0x0001: "PPC Card Systems",
	0x0002: "Prism Payment Technologies",
	0x0003: "OpenFortress Digital signatures",
	0x0004: "Wewid AB",
	0x0005: "ZeitControl cardsystems GmbH",
	0x0006: "Yubico AB",
	0x0007: "OpenKMS",
	0x0008: "LogoEmail",
	0x0009: "Fidesmo AB",
	0x000A: "VivoKey Technologies",
	0x000B: "Feitian Technologies",
	0x000D: "Dangerous Things",
	0x000E: "Excelsecu",
	0x000F: "Nitrokey",
	0x002A: "Magrathea",
	0x0042: "GnuPG e.V.",
	0x1337: "Warsaw Hackerspace",
	0x2342: "warpzone e.V.",
	0x4354: "Confidential Technologies",
	0x5343: "SSE Carte à puce",
	0x5443: "TIF-IT e.V.",
	0x63AF: "Trustica s.r.o",
	0xBA53: "c-base e.V.",
	0xBD0E: "Paranoidlabs",
	0xF1D0: "CanoKeys",
	0xF517: "Free Software Initiative of Japan",
	0xF5EC: "F-Secure",
	0xFF00: "Testcard",
	0xFFFE: "Testcard",
	0xFFFF: "Testcard",
}

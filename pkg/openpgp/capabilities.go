package openpgp

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// APPLICATION RELATED DATA (DO 6E, OpenPGP card 3.4 §4.4.3.1):
//
//	6E {
//	  4F    AID
//	  5F52  historical bytes
//	  7F66  extended length information
//	  73 {  discretionary data objects
//	    C0  extended capabilities
//	    C1  C2  C3  algorithm attributes (sign, decrypt, auth)
//	    C4  PW status bytes
//	    C5  fingerprints, 3 x 20 bytes
//	    C6  CA fingerprints
//	    CD  generation dates, 3 x 4 bytes
//	  }
//	}
//
// Older cards put the C0..CD objects directly under 6E.

type applicationData struct {
	AID             []byte            `tlv:"4F"`
	HistoricalBytes []byte            `tlv:"5F52"`
	ExtendedLength  []byte            `tlv:"7F66"`
	Discretionary   discretionaryData `tlv:"73"`

	Unknown []tlv.Node `tlv:",unknown"`
}

type discretionaryData struct {
	ExtendedCapabilities []byte `tlv:"C0"`
	SignAttributes       []byte `tlv:"C1"`
	DecryptAttributes    []byte `tlv:"C2"`
	AuthAttributes       []byte `tlv:"C3"`
	PWStatus             []byte `tlv:"C4"`
	Fingerprints         []byte `tlv:"C5"`
	CAFingerprints       []byte `tlv:"C6"`
	GenerationDates      []byte `tlv:"CD"`
}

// merge fills the objects missing from d with those of other.
func (d *discretionaryData) merge(other discretionaryData) {
	fill := func(dst *[]byte, src []byte) {
		if len(*dst) == 0 {
			*dst = src
		}
	}
	fill(&d.ExtendedCapabilities, other.ExtendedCapabilities)
	fill(&d.SignAttributes, other.SignAttributes)
	fill(&d.DecryptAttributes, other.DecryptAttributes)
	fill(&d.AuthAttributes, other.AuthAttributes)
	fill(&d.PWStatus, other.PWStatus)
	fill(&d.Fingerprints, other.Fingerprints)
	fill(&d.CAFingerprints, other.CAFingerprints)
	fill(&d.GenerationDates, other.GenerationDates)
}

// SMAlgorithm is byte 1 of the extended capabilities.
type SMAlgorithm byte

const (
	SMNone   SMAlgorithm = 0x00
	SMAES128 SMAlgorithm = 0x01
	SMAES256 SMAlgorithm = 0x02
	SMSCP11b SMAlgorithm = 0x03
)

func (a SMAlgorithm) String() string {
	switch a {
	case SMNone:
		return "none"
	case SMAES128:
		return "AES-128"
	case SMAES256:
		return "AES-256"
	case SMSCP11b:
		return "SCP11b"
	}
	return fmt.Sprintf("SMAlgorithm(0x%02X)", byte(a))
}

// Extended capability flags, byte 0 of DO C0.
const (
	flagSecureMessaging    = 0x80
	flagGetChallenge       = 0x40
	flagKeyImport          = 0x20
	flagPWStatusChangeable = 0x10
	flagPrivateDOs         = 0x08
	flagAttributesChange   = 0x04
	flagPSODecAES          = 0x02
	flagKDF                = 0x01
)

// ExtendedCapabilities is the decoded DO C0.
type ExtendedCapabilities struct {
	SecureMessaging      bool
	GetChallenge         bool
	KeyImport            bool
	PWStatusChangeable   bool
	PrivateDOs           bool
	AttributesChangeable bool
	PSODecAES            bool
	KDF                  bool

	SMAlgorithm        SMAlgorithm
	MaxChallengeLength int
	MaxCertLength      int
	MaxCommandLength   int
	MaxResponseLength  int
}

func parseExtendedCapabilities(b []byte) (ExtendedCapabilities, error) {
	var e ExtendedCapabilities
	if len(b) == 0 {
		return e, nil
	}

	f := b[0]
	e.SecureMessaging = f&flagSecureMessaging != 0
	e.GetChallenge = f&flagGetChallenge != 0
	e.KeyImport = f&flagKeyImport != 0
	e.PWStatusChangeable = f&flagPWStatusChangeable != 0
	e.PrivateDOs = f&flagPrivateDOs != 0
	e.AttributesChangeable = f&flagAttributesChange != 0
	e.PSODecAES = f&flagPSODecAES != 0
	e.KDF = f&flagKDF != 0

	if len(b) < 10 {
		// Version 1.x layout, flags only.
		return e, nil
	}
	e.SMAlgorithm = SMAlgorithm(b[1])
	e.MaxChallengeLength = int(binary.BigEndian.Uint16(b[2:4]))
	e.MaxCertLength = int(binary.BigEndian.Uint16(b[4:6]))
	e.MaxCommandLength = int(binary.BigEndian.Uint16(b[6:8]))
	e.MaxResponseLength = int(binary.BigEndian.Uint16(b[8:10]))
	return e, nil
}

// SupportsSCP11b reports whether the card advertises SCP11b secure messaging.
func (e ExtendedCapabilities) SupportsSCP11b() bool {
	return e.SecureMessaging && e.SMAlgorithm == SMSCP11b
}

const (
	pwStatusLength    = 7
	fingerprintLength = 20
)

// Capabilities is the immutable view of DO 6E taken at connect time. It is
// rebuilt, never updated, when the card changes.
type Capabilities struct {
	AID             AID
	HistoricalBytes []byte
	Card            iso7816.CardCapabilities
	Extended        ExtendedCapabilities

	// Indexed by keyformat.Slot. A nil format means the card did not send it.
	Formats         [3]keyformat.KeyFormat
	Fingerprints    [3][]byte
	CAFingerprints  [3][]byte
	GenerationDates [3]time.Time

	PWStatus []byte
}

// ParseCapabilities folds the application related data into Capabilities.
// The outer 6E template is optional. logger receives the key format warnings
// and may be nil.
func ParseCapabilities(data []byte, logger *slog.Logger) (*Capabilities, error) {
	nodes, err := tlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: application related data: %w", iso7816.ErrProtocolViolation, err)
	}
	if outer, ok := tlv.Find(nodes, 0x6E); ok && len(nodes) == 1 {
		nodes = outer.Children
	}

	var app applicationData
	if err := tlv.UnmarshalNodes(nodes, &app); err != nil {
		return nil, fmt.Errorf("%w: application related data: %w", iso7816.ErrProtocolViolation, err)
	}
	var flat discretionaryData
	if err := tlv.UnmarshalNodes(nodes, &flat); err != nil {
		return nil, fmt.Errorf("%w: application related data: %w", iso7816.ErrProtocolViolation, err)
	}
	app.Discretionary.merge(flat)

	caps := &Capabilities{
		AID:             AID(app.AID),
		HistoricalBytes: app.HistoricalBytes,
		PWStatus:        app.Discretionary.PWStatus,
	}

	caps.Card, err = iso7816.ParseCardCapabilities(app.HistoricalBytes)
	if err != nil {
		return nil, err
	}
	if caps.Extended, err = parseExtendedCapabilities(app.Discretionary.ExtendedCapabilities); err != nil {
		return nil, err
	}

	d := app.Discretionary
	for slot, raw := range [][]byte{d.SignAttributes, d.DecryptAttributes, d.AuthAttributes} {
		if len(raw) == 0 {
			continue
		}
		f, err := keyformat.Parse(raw, logger)
		if err != nil {
			return nil, fmt.Errorf("%s key attributes: %w", keyformat.Slot(slot), err)
		}
		caps.Formats[slot] = f
	}

	if len(d.PWStatus) > 0 && len(d.PWStatus) < pwStatusLength {
		return nil, fmt.Errorf("%w: PW status of %d bytes", iso7816.ErrProtocolViolation, len(d.PWStatus))
	}
	if caps.Fingerprints, err = splitFingerprints(d.Fingerprints); err != nil {
		return nil, err
	}
	if caps.CAFingerprints, err = splitFingerprints(d.CAFingerprints); err != nil {
		return nil, err
	}

	if len(d.GenerationDates) >= 12 {
		for i := range caps.GenerationDates {
			secs := binary.BigEndian.Uint32(d.GenerationDates[4*i:])
			if secs != 0 {
				caps.GenerationDates[i] = time.Unix(int64(secs), 0).UTC()
			}
		}
	}
	return caps, nil
}

func splitFingerprints(b []byte) ([3][]byte, error) {
	var out [3][]byte
	if len(b) == 0 {
		return out, nil
	}
	if len(b) < 3*fingerprintLength {
		return out, fmt.Errorf("%w: fingerprints of %d bytes", iso7816.ErrProtocolViolation, len(b))
	}
	for i := range out {
		out[i] = b[i*fingerprintLength : (i+1)*fingerprintLength]
	}
	return out, nil
}

// Format returns the algorithm attributes of slot, nil when unknown.
func (c *Capabilities) Format(slot keyformat.Slot) keyformat.KeyFormat {
	if !slot.Valid() {
		return nil
	}
	return c.Formats[slot]
}

// Fingerprint returns the fingerprint stored for slot. An all-zero
// fingerprint means the slot is empty.
func (c *Capabilities) Fingerprint(slot keyformat.Slot) []byte {
	if !slot.Valid() {
		return nil
	}
	return c.Fingerprints[slot]
}

func (c *Capabilities) pwStatus(i int) byte {
	if len(c.PWStatus) <= i {
		return 0
	}
	return c.PWStatus[i]
}

// PW1ValidForMultipleSignatures reports whether one VERIFY 81 covers several
// signatures.
func (c *Capabilities) PW1ValidForMultipleSignatures() bool { return c.pwStatus(0) == 1 }

func (c *Capabilities) PW1MaxLength() int { return int(c.pwStatus(1)) }
func (c *Capabilities) PW3MaxLength() int { return int(c.pwStatus(3)) }

func (c *Capabilities) PW1TriesLeft() int       { return int(c.pwStatus(4)) }
func (c *Capabilities) ResetCodeTriesLeft() int { return int(c.pwStatus(5)) }
func (c *Capabilities) PW3TriesLeft() int       { return int(c.pwStatus(6)) }

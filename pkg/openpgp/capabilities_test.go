package openpgp

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

var rsa2048 = keyformat.RSA{ModulusBits: 2048, ExponentBits: 32, Import: keyformat.RSAStandard}

func TestParseCapabilities_Nested(t *testing.T) {
	f := newFakeCard(t)
	f.fingerprints[keyformat.SlotDecrypt] = tlv.Hex("00112233445566778899AABBCCDDEEFF00112233")
	f.dates[keyformat.SlotDecrypt] = tlv.Hex("5F5E1000")
	f.formats[keyformat.SlotAuth] = keyformat.EdDSA{}

	caps, err := ParseCapabilities(f.applicationData(), nil)
	if err != nil {
		t.Fatalf("ParseCapabilities failed: %v", err)
	}

	if diff := cmp.Diff(AID(testAID), caps.AID); diff != "" {
		t.Errorf("AID mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(iso7816.CardCapabilities{HasExtended: true}, caps.Card); diff != "" {
		t.Errorf("card capabilities mismatch (-want +got):\n%s", diff)
	}

	wantFormats := [3]keyformat.KeyFormat{rsa2048, rsa2048, keyformat.EdDSA{}}
	if diff := cmp.Diff(wantFormats, caps.Formats); diff != "" {
		t.Errorf("formats mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(make([]byte, 20), caps.Fingerprint(keyformat.SlotSign)); diff != "" {
		t.Errorf("empty fingerprint mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(f.fingerprints[keyformat.SlotDecrypt], caps.Fingerprint(keyformat.SlotDecrypt)); diff != "" {
		t.Errorf("fingerprint mismatch (-want +got):\n%s", diff)
	}

	wantDates := [3]time.Time{{}, time.Unix(0x5F5E1000, 0).UTC(), {}}
	if diff := cmp.Diff(wantDates, caps.GenerationDates); diff != "" {
		t.Errorf("generation dates mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCapabilities_Layouts(t *testing.T) {
	discretionary := tlv.AppendTLV(nil, 0xC0, tlv.Hex("7C"))
	discretionary = tlv.AppendTLV(discretionary, 0xC1, rsa2048.Bytes())
	discretionary = tlv.AppendTLV(discretionary, 0xC4, tlv.Hex("00 20 20 20 03 00 03"))

	common := tlv.AppendTLV(nil, 0x4F, testAID)
	common = tlv.AppendTLV(common, 0x5F52, historicalChaining)

	nested := tlv.AppendTLV(common, 0x73, discretionary)
	flat := append(append([]byte(nil), common...), discretionary...)

	tests := []struct {
		name string
		data []byte
	}{
		{"nested in 6E", tlv.AppendTLV(nil, 0x6E, nested)},
		{"flat in 6E", tlv.AppendTLV(nil, 0x6E, flat)},
		{"nested without 6E", nested},
		{"flat without 6E", flat},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			caps, err := ParseCapabilities(tc.data, nil)
			if err != nil {
				t.Fatalf("ParseCapabilities failed: %v", err)
			}
			if !caps.Card.HasChaining || caps.Card.HasExtended {
				t.Errorf("card capabilities = %+v, want chaining only", caps.Card)
			}
			if !caps.Extended.KeyImport || !caps.Extended.AttributesChangeable || caps.Extended.SecureMessaging {
				t.Errorf("extended capabilities = %+v", caps.Extended)
			}
			if diff := cmp.Diff(keyformat.KeyFormat(rsa2048), caps.Format(keyformat.SlotSign)); diff != "" {
				t.Errorf("sign format mismatch (-want +got):\n%s", diff)
			}
			if caps.Format(keyformat.SlotDecrypt) != nil {
				t.Errorf("decrypt format = %v, want nil", caps.Format(keyformat.SlotDecrypt))
			}
			if got := caps.PW3MaxLength(); got != 0x20 {
				t.Errorf("PW3MaxLength() = %d, want 32", got)
			}
		})
	}
}

func TestParseCapabilities_Errors(t *testing.T) {
	wrap := func(objects ...[]byte) []byte {
		var body []byte
		for _, o := range objects {
			body = append(body, o...)
		}
		return tlv.AppendTLV(nil, 0x6E, body)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"truncated TLV", tlv.Hex("6E 10 4F 02"), iso7816.ErrProtocolViolation},
		{"short PW status", wrap(tlv.AppendTLV(nil, 0xC4, tlv.Hex("000000"))), iso7816.ErrProtocolViolation},
		{"short fingerprints", wrap(tlv.AppendTLV(nil, 0xC5, make([]byte, 40))), iso7816.ErrProtocolViolation},
		{"bad historical category", wrap(tlv.AppendTLV(nil, 0x5F52, tlv.Hex("42"))), iso7816.ErrProtocolViolation},
		{"unknown algorithm", wrap(tlv.AppendTLV(nil, 0xC1, tlv.Hex("63 0800"))), keyformat.ErrUnsupported},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCapabilities(tc.data, nil)
			if !errors.Is(err, tc.want) {
				t.Errorf("ParseCapabilities() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseExtendedCapabilities(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		want   ExtendedCapabilities
		scp11b bool
	}{
		{
			name: "flags only",
			raw:  tlv.Hex("25"),
			want: ExtendedCapabilities{KeyImport: true, AttributesChangeable: true, KDF: true},
		},
		{
			name: "version 3 with SCP11b",
			raw:  tlv.Hex("F3 03 0100 0800 07FF 07FF"),
			want: ExtendedCapabilities{
				SecureMessaging: true, GetChallenge: true, KeyImport: true, PWStatusChangeable: true,
				PSODecAES: true, KDF: true,
				SMAlgorithm: SMSCP11b, MaxChallengeLength: 256, MaxCertLength: 2048,
				MaxCommandLength: 2047, MaxResponseLength: 2047,
			},
			scp11b: true,
		},
		{
			name: "secure messaging with AES",
			raw:  tlv.Hex("80 01 0000 0000 0000 0000"),
			want: ExtendedCapabilities{SecureMessaging: true, SMAlgorithm: SMAES128},
		},
		{
			name: "SCP11b algorithm without the flag",
			raw:  tlv.Hex("00 03 0000 0000 0000 0000"),
			want: ExtendedCapabilities{SMAlgorithm: SMSCP11b},
		},
		{name: "absent", raw: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseExtendedCapabilities(tc.raw)
			if err != nil {
				t.Fatalf("parseExtendedCapabilities failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if got.SupportsSCP11b() != tc.scp11b {
				t.Errorf("SupportsSCP11b() = %t, want %t", got.SupportsSCP11b(), tc.scp11b)
			}
		})
	}
}

func TestCapabilities_PWStatus(t *testing.T) {
	tests := []struct {
		name   string
		status []byte
		multi  bool
		pw1Max int
		pw3Max int
		tries  [3]int
	}{
		{"single use", tlv.Hex("00 7F 7F 7F 03 00 03"), false, 127, 127, [3]int{3, 0, 3}},
		{"multiple signatures", tlv.Hex("01 20 20 40 02 01 00"), true, 32, 64, [3]int{2, 1, 0}},
		{"absent", nil, false, 0, 0, [3]int{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &Capabilities{PWStatus: tc.status}
			if got := c.PW1ValidForMultipleSignatures(); got != tc.multi {
				t.Errorf("PW1ValidForMultipleSignatures() = %t, want %t", got, tc.multi)
			}
			if got := c.PW1MaxLength(); got != tc.pw1Max {
				t.Errorf("PW1MaxLength() = %d, want %d", got, tc.pw1Max)
			}
			if got := c.PW3MaxLength(); got != tc.pw3Max {
				t.Errorf("PW3MaxLength() = %d, want %d", got, tc.pw3Max)
			}
			got := [3]int{c.PW1TriesLeft(), c.ResetCodeTriesLeft(), c.PW3TriesLeft()}
			if got != tc.tries {
				t.Errorf("tries left = %v, want %v", got, tc.tries)
			}
		})
	}
}

func TestCapabilities_InvalidSlot(t *testing.T) {
	c := &Capabilities{Formats: [3]keyformat.KeyFormat{rsa2048, rsa2048, rsa2048}}
	if got := c.Format(keyformat.Slot(7)); got != nil {
		t.Errorf("Format(7) = %v, want nil", got)
	}
	if got := c.Fingerprint(keyformat.Slot(-1)); got != nil {
		t.Errorf("Fingerprint(-1) = %X, want nil", got)
	}
}

func TestAID(t *testing.T) {
	tests := []struct {
		name         string
		aid          AID
		major, minor int
		manufacturer string
		serial       uint32
		str          string
	}{
		{
			name: "YubiKey", aid: AID(testAID),
			major: 3, minor: 4, manufacturer: "Yubico AB", serial: 0x12345678,
			str: "D2760001240103040006123456780000 (v3.4, Yubico AB, serial 12345678)",
		},
		{
			name: "unregistered manufacturer", aid: AID(tlv.Hex("D276000124010201ABCD000000010000")),
			major: 2, minor: 1, manufacturer: "unknown (0xABCD)", serial: 1,
			str: "D276000124010201ABCD000000010000 (v2.1, unknown (0xABCD), serial 00000001)",
		},
		{
			name: "truncated", aid: AID(tlv.Hex("D27600012401")),
			manufacturer: "unknown (0x0000)", str: "D27600012401",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			major, minor := tc.aid.Version()
			if major != tc.major || minor != tc.minor {
				t.Errorf("Version() = %d.%d, want %d.%d", major, minor, tc.major, tc.minor)
			}
			if got := tc.aid.ManufacturerName(); got != tc.manufacturer {
				t.Errorf("ManufacturerName() = %q, want %q", got, tc.manufacturer)
			}
			if got := tc.aid.Serial(); got != tc.serial {
				t.Errorf("Serial() = %08X, want %08X", got, tc.serial)
			}
			if got := tc.aid.String(); got != tc.str {
				t.Errorf("String() = %q, want %q", got, tc.str)
			}
		})
	}
}

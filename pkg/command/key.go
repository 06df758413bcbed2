package command

import (
	"encoding/binary"
	"time"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// KEY MANAGEMENT (OpenPGP card 3.4 §7.2.14):
//
//	GENERATE ASYMMETRIC KEY PAIR   00 47 80 00 02 CRT 00 Le   generate
//	                               00 47 81 00 02 CRT 00 Le   read the public key
//
// Both answer with a 7F49 public key template. The secure messaging key uses
// the CRT A6 and can only be read.

// CRTSecureMessaging references the SCP11b key of the card.
const CRTSecureMessaging byte = 0xA6

const (
	generateModeGenerate byte = 0x80
	generateModeRead     byte = 0x81
)

func generateAsymmetricKeyPair(mode, crt byte) *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_GENERATE_ASYMMETRIC_KEY_PAIR_BER, mode, 0x00, []byte{crt, 0x00}, iso7816.MaxExtendedLe)
}

// GenerateKey asks the card to create a new key pair in slot.
func GenerateKey(slot keyformat.Slot) *iso7816.CommandAPDU {
	return generateAsymmetricKeyPair(generateModeGenerate, slot.CRT())
}

// ReadPublicKey reads the public key of slot.
func ReadPublicKey(slot keyformat.Slot) *iso7816.CommandAPDU {
	return generateAsymmetricKeyPair(generateModeRead, slot.CRT())
}

// ReadSMPublicKey reads the static public key of the secure messaging key.
func ReadSMPublicKey() *iso7816.CommandAPDU {
	return generateAsymmetricKeyPair(generateModeRead, CRTSecureMessaging)
}

// PutKeyAttributes changes the algorithm attributes of slot.
func PutKeyAttributes(slot keyformat.Slot, format keyformat.KeyFormat) *iso7816.CommandAPDU {
	return PutData(slot.AttributesTag(), format.Bytes())
}

// PutFingerprint stores the 20-byte fingerprint of the key in slot.
func PutFingerprint(slot keyformat.Slot, fingerprint []byte) *iso7816.CommandAPDU {
	return PutData(slot.FingerprintTag(), fingerprint)
}

// PutTimestamp stores the generation date of the key in slot, as seconds since
// the epoch on 4 bytes.
func PutTimestamp(slot keyformat.Slot, created time.Time) *iso7816.CommandAPDU {
	return PutData(slot.TimestampTag(), binary.BigEndian.AppendUint32(nil, uint32(created.Unix())))
}

// DecipherECDH wraps the ephemeral public point of the sender in the cipher
// DO expected by PSO:DECIPHER for ECDH keys: A6{7F49{86{point}}}.
func DecipherECDH(point []byte) *iso7816.CommandAPDU {
	pub := tlv.AppendTLV(nil, 0x86, point)
	tmpl := tlv.AppendTLV(nil, 0x7F49, pub)
	return Decipher(tlv.AppendTLV(nil, 0xA6, tmpl))
}

package command

import (
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// DATA OBJECT ACCESS (OpenPGP card 3.4 §7.2.5 - §7.2.8):
//
//	SELECT FILE      00 A4 04 00 Lc AID
//	SELECT DATA      00 A5 occ 04 Lc 60{5C{tag}}
//	GET DATA         00 CA tag-hi tag-lo Le
//	PUT DATA         00 DA tag-hi tag-lo Lc value
//	PUT DATA (odd)   00 DB 3F FF Lc 4D{...}     private key import
//
// SELECT DATA only positions the card on the n-th occurrence of a DO that
// exists several times (cardholder certificates 7F21); a GET DATA follows.

// Data objects read or written by the engine.
const (
	TagApplicationRelatedData uint32 = 0x6E
	TagCardholderRelatedData  uint32 = 0x65
	TagLoginData              uint32 = 0x5E
	TagURL                    uint32 = 0x5F50
	TagHistoricalBytes        uint32 = 0x5F52
	TagPWStatus               uint32 = 0xC4
	TagCardholderCertificate  uint32 = 0x7F21
	TagSMKeyAttributes        uint32 = 0xD4
)

// SMCertificateOccurrence is the index of the secure messaging certificate
// among the 7F21 occurrences (after AUT, DEC and SIG).
const SMCertificateOccurrence = 3

// SelectFile selects an application by AID. It carries no Le.
func SelectFile(aid []byte) *iso7816.CommandAPDU {
	return iso7816.SelectByAID(cla, aid)
}

// SelectOpenPGP selects the OpenPGP application.
func SelectOpenPGP() *iso7816.CommandAPDU {
	return SelectFile(AIDOpenPGP)
}

// GetData reads a data object.
func GetData(tag uint32) *iso7816.CommandAPDU {
	p1, p2 := tagParams(tag)
	return newCommand(iso7816.INS_GET_DATA, p1, p2, nil, iso7816.MaxExtendedLe)
}

// PutData replaces the value of a simple data object.
func PutData(tag uint32, value []byte) *iso7816.CommandAPDU {
	p1, p2 := tagParams(tag)
	return newCommand(iso7816.INS_PUT_DATA, p1, p2, value, 0)
}

// PutKey imports a private key. template is the 4D extended header list built
// by keyformat.ImportTemplate.
func PutKey(template []byte) *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_PUT_DATA_BER, 0x3F, 0xFF, template, 0)
}

// SelectData positions the card on occurrence occ of the given data object.
func SelectData(tag uint32, occ byte) *iso7816.CommandAPDU {
	inner := tlv.AppendTLV(nil, 0x5C, tlv.AppendTag(nil, tag))
	data := tlv.AppendTLV(nil, 0x60, inner)
	return newCommand(iso7816.INS_SELECT_DATA, occ, 0x04, data, 0)
}

// GetChallenge asks for n random bytes.
func GetChallenge(n int) *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_GET_CHALLENGE, 0x00, 0x00, nil, n)
}

// GetResponse drains ne bytes of a pending 61XX answer.
func GetResponse(ne int) *iso7816.CommandAPDU {
	return iso7816.GetResponse(cla, ne)
}

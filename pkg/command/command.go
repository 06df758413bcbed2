// Package command builds the APDUs of the OpenPGP card application.
//
// Every builder is pure: it returns a logical *iso7816.CommandAPDU and never
// talks to a card. Fitting a command into what the card can carry (short
// downgrade, chaining, GET RESPONSE) is the job of iso7816.Client.
//
// Expected response lengths follow one rule: commands whose answer size is not
// known in advance ask for MaxExtendedLe, which the client clamps to 256 when
// the card has no extended length support.
package command

import (
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// AIDs selected during connection.
var (
	// AIDOpenPGP is the RID + PIX prefix of the OpenPGP application.
	AIDOpenPGP = []byte{0xD2, 0x76, 0x00, 0x01, 0x24, 0x01}

	// AIDFidesmo prefixes every applet installed through the Fidesmo platform.
	AIDFidesmo = []byte{0xA0, 0x00, 0x00, 0x06, 0x17, 0x01}

	// AIDYubicoOATH is present on every YubiKey with the OATH applet.
	AIDYubicoOATH = []byte{0xA0, 0x00, 0x00, 0x05, 0x27, 0x21, 0x01, 0x01}
)

// cla is the plain first interindustry class on the basic channel (0x00).
var cla = mustClass(iso7816.NewInterindustryClass(false, iso7816.SMNone, 0))

func mustClass(c iso7816.Class, err error) iso7816.Class {
	if err != nil {
		panic(err)
	}
	return c
}

func newCommand(ins iso7816.InsCode, p1, p2 byte, data []byte, ne int) *iso7816.CommandAPDU {
	return iso7816.NewCommandAPDU(cla, iso7816.MustInstruction(ins), p1, p2, data, ne)
}

// tagParams splits a data object tag over P1-P2.
func tagParams(tag uint32) (p1, p2 byte) {
	return byte(tag >> 8), byte(tag)
}

package command

import (
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// PASSWORD COMMANDS (OpenPGP card 3.4 §7.2.2 - §7.2.4):
//
//	VERIFY                  00 20 00 ref Lc PIN
//	CHANGE REFERENCE DATA   00 24 00 ref Lc old|new
//	RESET RETRY COUNTER     00 2C 02 81 Lc new            after PW3 verification
//	                        00 2C 00 81 Lc code|new       with the resetting code
//
// PW1 is verified under two references: 81 unlocks one signature (or several,
// depending on the PW status byte), 82 unlocks decryption and authentication.

// PasswordRef is the P2 reference of a password.
type PasswordRef byte

const (
	PW1Signature PasswordRef = 0x81
	PW1Other     PasswordRef = 0x82
	PW3          PasswordRef = 0x83
)

func (r PasswordRef) String() string {
	switch r {
	case PW1Signature:
		return "PW1 (signature)"
	case PW1Other:
		return "PW1 (other)"
	case PW3:
		return "PW3"
	default:
		return "unknown password"
	}
}

// Verify presents a password.
func Verify(ref PasswordRef, pin []byte) *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_VERIFY, 0x00, byte(ref), pin, 0)
}

// ChangeReferenceData replaces a password. PW1 is changed under reference 81.
// The returned command holds both PINs: callers clear its data once sent.
func ChangeReferenceData(ref PasswordRef, oldPIN, newPIN []byte) *iso7816.CommandAPDU {
	data := make([]byte, 0, len(oldPIN)+len(newPIN))
	data = append(data, oldPIN...)
	data = append(data, newPIN...)
	return newCommand(iso7816.INS_CHANGE_REFERENCE_DATA, 0x00, byte(ref), data, 0)
}

// ResetRetryCounter sets a new PW1 after PW3 has been verified.
func ResetRetryCounter(newPIN []byte) *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_RESET_RETRY_COUNTER, 0x02, byte(PW1Signature), newPIN, 0)
}

// ResetRetryCounterWithCode sets a new PW1 with the resetting code.
func ResetRetryCounterWithCode(code, newPIN []byte) *iso7816.CommandAPDU {
	data := make([]byte, 0, len(code)+len(newPIN))
	data = append(data, code...)
	data = append(data, newPIN...)
	return newCommand(iso7816.INS_RESET_RETRY_COUNTER, 0x00, byte(PW1Signature), data, 0)
}

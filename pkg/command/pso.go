package command

import (
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// SECURITY OPERATIONS (OpenPGP card 3.4 §7.2.10 - §7.2.13):
//
//	PSO:COMPUTE DIGITAL SIGNATURE   00 2A 9E 9A Lc DigestInfo|hash Le
//	PSO:DECIPHER                    00 2A 80 86 Lc cryptogram       Le
//	INTERNAL AUTHENTICATE           00 88 00 00 Lc data             Le
//
// The RSA cryptogram of PSO:DECIPHER starts with the padding indicator 00,
// the EC one is the A6 cipher DO built by DecipherECDH.

// ComputeDigitalSignature signs with the signature key.
func ComputeDigitalSignature(input []byte) *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_PERFORM_SECURITY_OPERATION, 0x9E, 0x9A, input, iso7816.MaxExtendedLe)
}

// Decipher decrypts with the decryption key.
func Decipher(cryptogram []byte) *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_PERFORM_SECURITY_OPERATION, 0x80, 0x86, cryptogram, iso7816.MaxExtendedLe)
}

// InternalAuthenticate signs with the authentication key, or runs the SCP11b
// key agreement when data is a secure messaging CRT.
func InternalAuthenticate(data []byte) *iso7816.CommandAPDU {
	return newCommand(iso7816.INS_INTERNAL_AUTHENTICATE, 0x00, 0x00, data, iso7816.MaxExtendedLe)
}

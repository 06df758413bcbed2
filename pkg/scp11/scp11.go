// Package scp11 implements the SCP11b secure messaging channel of OpenPGP
// cards (SmartPGP secure messaging).
//
// HANDSHAKE:
//
//  1. GET DATA D4 returns the algorithm attributes of the card SM key (EC only).
//  2. The static card key comes from the SM certificate (SELECT DATA 7F21 #3,
//     GET DATA 7F21, verified against trust anchors) or from GENERATE
//     ASYMMETRIC KEY PAIR in read mode on the CRT A6.
//  3. The host sends INTERNAL AUTHENTICATE with
//     A6 0D { 90 02 1100, 95 01 3C, 80 01 88, 81 01 keySize } 5F49 ePK.host
//     and gets 5F49 ePK.card 86 10 receipt.
//  4. Session keys come from the X9.63 KDF (SHA-256) over ShSe | ShSs with the
//     shared info 3C 88 keySize. Four keys are derived: receipt key, S-ENC,
//     S-MAC and S-RMAC.
//  5. The receipt is AES-CMAC(receipt key, key agreement data | 5F49 ePK.card)
//     and seeds the MAC chaining value.
//
// COMMAND WRAP:
//
//	counter++                       16 bits, exhaustion ends the session
//	IV   = AES(S-ENC, 00..00 | counter)
//	data = AES-CBC(S-ENC, IV, data | 80 00..)
//	CLA |= 04
//	mac  = AES-CMAC(S-MAC, chain | CLA INS P1 P2 | Lc | data)
//	chain = mac, the first 8 bytes are appended to the data field
//
// RESPONSE UNWRAP:
//
//	R-MAC = AES-CMAC(S-RMAC, chain | data | SW1 SW2), 8 bytes checked
//	IV    = AES(S-ENC, 80 00..00 | counter)
//
// Every failure clears the session: a channel is never silently downgraded to
// plaintext.
package scp11

import (
	"crypto/ecdh"
	"crypto/x509"
	"io"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// ErrSecureChannel matches every handshake or per-APDU failure.
var ErrSecureChannel = errors.New("secure channel failure")

// Transceiver sends logical commands. *iso7816.Client implements it.
type Transceiver interface {
	Send(cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, iso7816.Trace, error)
}

// Config tunes the handshake.
type Config struct {
	// TrustAnchors enables the certificate path. Nil reads the raw SM public key.
	TrustAnchors *x509.CertPool

	// Rand feeds ephemeral key generation. Nil means crypto/rand.
	Rand io.Reader

	// EphemeralKey overrides ephemeral key generation, for test vectors.
	EphemeralKey func(curve ecdh.Curve) (*ecdh.PrivateKey, error)

	Logger *slog.Logger
}

func failure(format string, args ...any) error {
	return errors.Wrapf(ErrSecureChannel, format, args...)
}

package scp11

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"fmt"
	"log/slog"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// Key agreement parameters of the A6 control reference template.
const (
	keyUsage byte = 0x3C // C-MAC, R-MAC, C-ENC, R-ENC
	keyType  byte = 0x88 // AES
)

const receiptSize = 16

// KeySize returns the AES session key length negotiated for an SM key on c.
func KeySize(c *keyformat.Curve) (int, error) {
	switch c {
	case keyformat.P256:
		return 16, nil
	case keyformat.P384, keyformat.P521:
		return 32, nil
	default:
		return 0, failure("no SCP11b profile for %s", c.Name)
	}
}

// Open runs the SCP11b handshake on the selected OpenPGP application and
// returns a complete session, or an error and no session at all.
func Open(card Transceiver, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	resp, err := send(card, "GET DATA D4", command.GetData(command.TagSMKeyAttributes))
	if err != nil {
		return nil, err
	}
	format, err := keyformat.Parse(resp.Data, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: SM key attributes: %w", ErrSecureChannel, err)
	}
	ec, ok := format.(keyformat.EC)
	if !ok {
		return nil, failure("SM key is %s, not EC", format)
	}
	curve, ok := ec.Curve()
	if !ok {
		return nil, failure("SM key on unknown curve %X", ec.OID)
	}
	keySize, err := KeySize(curve)
	if err != nil {
		return nil, err
	}
	goCurve, err := curve.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecureChannel, err)
	}

	var static *ecdh.PublicKey
	if cfg.TrustAnchors != nil {
		static, err = staticKeyFromCertificate(card, cfg.TrustAnchors, goCurve)
	} else {
		static, err = staticKeyFromCard(card, curve)
	}
	if err != nil {
		return nil, err
	}

	eph, err := ephemeralKey(cfg, goCurve)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %w", ErrSecureChannel, err)
	}

	agreement := []byte{
		0xA6, 0x0D,
		0x90, 0x02, 0x11, 0x00,
		0x95, 0x01, keyUsage,
		0x80, 0x01, keyType,
		0x81, 0x01, byte(keySize),
	}
	agreement = tlv.AppendTLV(agreement, 0x5F49, eph.PublicKey().Bytes())

	resp, err = send(card, "INTERNAL AUTHENTICATE", command.InternalAuthenticate(agreement))
	if err != nil {
		return nil, err
	}
	cardEph, receipt, err := parseAgreementResponse(resp.Data, goCurve)
	if err != nil {
		return nil, err
	}

	shSe, err := eph.ECDH(cardEph)
	if err != nil {
		return nil, failure("ShSe: %v", err)
	}
	shSs, err := eph.ECDH(static)
	if err != nil {
		clear(shSe)
		return nil, failure("ShSs: %v", err)
	}
	keys := deriveSessionKeys(shSe, shSs, keySize)
	clear(shSe)
	clear(shSs)
	defer keys.clear()

	expected, err := aesCMAC(keys.receipt, agreement, tlv.AppendTLV(nil, 0x5F49, cardEph.Bytes()))
	if err != nil {
		return nil, failure("receipt: %v", err)
	}
	if subtle.ConstantTimeCompare(expected, receipt) != 1 {
		return nil, failure("receipt mismatch")
	}

	s := newSession(bytes.Clone(keys.enc), bytes.Clone(keys.mac), bytes.Clone(keys.rmac), receipt)
	logger.Debug("secure messaging established",
		slog.String("curve", curve.Name),
		slog.Int("key_size", keySize),
		slog.Bool("certificate", cfg.TrustAnchors != nil),
	)
	return s, nil
}

// sessionKeys are the four AES keys derived from ShSe and ShSs: the receipt
// key, then S-ENC, S-MAC and S-RMAC.
type sessionKeys struct {
	all                     []byte
	receipt, enc, mac, rmac []byte
}

func deriveSessionKeys(shSe, shSs []byte, keySize int) sessionKeys {
	z := append(bytes.Clone(shSe), shSs...)
	all := kdfX963(z, []byte{keyUsage, keyType, byte(keySize)}, 4*keySize)
	clear(z)
	return sessionKeys{
		all:     all,
		receipt: all[:keySize:keySize],
		enc:     all[keySize : 2*keySize : 2*keySize],
		mac:     all[2*keySize : 3*keySize : 3*keySize],
		rmac:    all[3*keySize:],
	}
}

func (k sessionKeys) clear() {
	clear(k.all)
}

func send(card Transceiver, op string, cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	resp, _, err := card.Send(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSecureChannel, op, err)
	}
	if err := iso7816.CheckStatus(op, resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecureChannel, err)
	}
	return resp, nil
}

func ephemeralKey(cfg Config, c ecdh.Curve) (*ecdh.PrivateKey, error) {
	if cfg.EphemeralKey != nil {
		k, err := cfg.EphemeralKey(c)
		if err != nil {
			return nil, err
		}
		if k.Curve() != c {
			return nil, fmt.Errorf("ephemeral key on the wrong curve")
		}
		return k, nil
	}
	r := cfg.Rand
	if r == nil {
		r = rand.Reader
	}
	return c.GenerateKey(r)
}

func staticKeyFromCard(card Transceiver, c *keyformat.Curve) (*ecdh.PublicKey, error) {
	resp, err := send(card, "read SM public key", command.ReadSMPublicKey())
	if err != nil {
		return nil, err
	}
	pub, err := keyformat.ParsePublicKey(keyformat.EC{Alg: keyformat.AlgECDH, OID: c.OID}, resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: SM public key: %w", ErrSecureChannel, err)
	}
	k, ok := pub.(*ecdh.PublicKey)
	if !ok {
		return nil, failure("SM public key of type %T", pub)
	}
	return k, nil
}

// staticKeyFromCertificate reads the SM certificate and checks it chains to
// one of the anchors. Revocation is not checked.
func staticKeyFromCertificate(card Transceiver, anchors *x509.CertPool, c ecdh.Curve) (*ecdh.PublicKey, error) {
	if _, err := send(card, "SELECT DATA 7F21", command.SelectData(command.TagCardholderCertificate, command.SMCertificateOccurrence)); err != nil {
		return nil, err
	}
	resp, err := send(card, "GET DATA 7F21", command.GetData(command.TagCardholderCertificate))
	if err != nil {
		return nil, err
	}

	der, err := tlv.Unwrap(resp.Data, command.TagCardholderCertificate)
	if err != nil {
		return nil, fmt.Errorf("%w: SM certificate: %w", ErrSecureChannel, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: SM certificate: %w", ErrSecureChannel, err)
	}
	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:     anchors,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("%w: SM certificate: %w", ErrSecureChannel, err)
	}

	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, failure("SM certificate holds a %T key", cert.PublicKey)
	}
	k, err := pub.ECDH()
	if err != nil || k.Curve() != c {
		return nil, failure("SM certificate key does not match the SM key attributes")
	}
	return k, nil
}

func parseAgreementResponse(data []byte, c ecdh.Curve) (*ecdh.PublicKey, []byte, error) {
	point, err := tlv.GetValue(data, 0x5F49)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: card ephemeral key: %w", ErrSecureChannel, err)
	}
	receipt, err := tlv.GetValue(data, 0x86)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: receipt: %w", ErrSecureChannel, err)
	}
	if len(receipt) != receiptSize {
		return nil, nil, failure("receipt of %d bytes, want %d", len(receipt), receiptSize)
	}
	pub, err := c.NewPublicKey(point)
	if err != nil {
		return nil, nil, failure("card ephemeral key: %v", err)
	}
	return pub, receipt, nil
}

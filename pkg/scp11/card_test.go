package scp11

import (
	"bytes"
	"crypto/ecdh"
	"crypto/subtle"
	"fmt"
	"testing"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// cardSession is the card end of an SCP11b session.
type cardSession struct {
	sEnc, sMac, sRmac, chain []byte
	counter                  uint16
}

// unwrapCommand checks the MAC over the header and Lc bytes exactly as they
// arrived in raw.
func (c *cardSession) unwrapCommand(raw []byte, cmd *iso7816.CommandAPDU) ([]byte, error) {
	if len(cmd.Data) < macSize || len(raw) < 5 {
		return nil, fmt.Errorf("no MAC")
	}
	c.counter++

	if raw[0]&iso7816.ClassSecureMessagingMask == 0 {
		return nil, fmt.Errorf("SM bit missing in CLA %02X", raw[0])
	}
	lcSize := 1
	if raw[4] == 0x00 {
		lcSize = 3
	}
	cipherText := cmd.Data[:len(cmd.Data)-macSize]
	mac, _ := aesCMAC(c.sMac, c.chain, raw[:4+lcSize], cipherText)
	if subtle.ConstantTimeCompare(mac[:macSize], cmd.Data[len(cmd.Data)-macSize:]) != 1 {
		return nil, fmt.Errorf("command MAC mismatch")
	}
	c.chain = mac

	if len(cipherText) == 0 {
		return nil, nil
	}
	iv, _ := aesECBEncrypt(c.sEnc, counterBlock(0x00, c.counter))
	plain, err := aesCBCDecrypt(c.sEnc, iv, cipherText)
	if err != nil {
		return nil, err
	}
	return unpad80(plain)
}

// receive encodes cmd as the reader would send it and unwraps the result.
func (c *cardSession) receive(cmd *iso7816.CommandAPDU) ([]byte, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return nil, err
	}
	return c.unwrapCommand(raw, cmd)
}

func (c *cardSession) wrapResponse(data []byte, sw iso7816.StatusWord) *iso7816.ResponseAPDU {
	var body []byte
	if len(data) > 0 {
		iv, _ := aesECBEncrypt(c.sEnc, counterBlock(0x80, c.counter))
		body, _ = aesCBCEncrypt(c.sEnc, iv, pad80(data))
	}
	mac, _ := aesCMAC(c.sRmac, c.chain, body, []byte{sw.SW1(), sw.SW2()})
	return &iso7816.ResponseAPDU{Data: append(body, mac[:macSize]...), Status: sw}
}

// simCard plays an OpenPGP card with an SCP11b key, behind an iso7816.Client.
type simCard struct {
	t *testing.T

	attributes []byte
	static     *ecdh.PrivateKey
	ephemeral  *ecdh.PrivateKey
	keySize    int

	// certificate, when set, is returned by GET DATA 7F21.
	certificate []byte

	corruptReceipt bool
	rejectAuth     bool

	session  *cardSession
	received [][]byte // plaintext of protected commands
	reply    []byte
}

func newSimCard(t *testing.T, curve ecdh.Curve, scalar byte) *simCard {
	t.Helper()

	c, ok := keyformat.CurveForECDH(curve)
	if !ok {
		t.Fatalf("unknown curve")
	}
	keySize, err := KeySize(c)
	if err != nil {
		t.Fatalf("KeySize: %v", err)
	}

	return &simCard{
		t:          t,
		attributes: keyformat.EC{Alg: keyformat.AlgECDH, OID: c.OID}.Bytes(),
		static:     fixedKey(t, curve, scalar),
		ephemeral:  fixedKey(t, curve, scalar+1),
		keySize:    keySize,
	}
}

func fixedKey(t *testing.T, curve ecdh.Curve, b byte) *ecdh.PrivateKey {
	t.Helper()
	size := 32
	switch curve {
	case ecdh.P384():
		size = 48
	case ecdh.P521():
		size = 66
	}
	scalar := bytes.Repeat([]byte{b}, size)
	if curve == ecdh.P521() {
		scalar[0] = 0x01
	}
	k, err := curve.NewPrivateKey(scalar)
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return k
}

func (c *simCard) Transmit(raw []byte) ([]byte, error) {
	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		return nil, err
	}
	return c.handle(raw, cmd).Bytes(), nil
}

func success(data []byte) *iso7816.ResponseAPDU {
	return &iso7816.ResponseAPDU{Data: data, Status: iso7816.SW_NO_ERROR}
}

func status(sw iso7816.StatusWord) *iso7816.ResponseAPDU {
	return &iso7816.ResponseAPDU{Status: sw}
}

func (c *simCard) handle(raw []byte, cmd *iso7816.CommandAPDU) *iso7816.ResponseAPDU {
	cla, _ := cmd.Class.Encode()
	if cla&iso7816.ClassSecureMessagingMask != 0 {
		if c.session == nil {
			return status(0x6982)
		}
		plain, err := c.session.unwrapCommand(raw, cmd)
		if err != nil {
			c.session = nil
			return status(0x6988)
		}
		c.received = append(c.received, plain)
		return c.session.wrapResponse(c.reply, iso7816.SW_NO_ERROR)
	}

	switch cmd.Instruction.Raw {
	case iso7816.INS_GET_DATA:
		switch uint32(cmd.P1)<<8 | uint32(cmd.P2) {
		case 0xD4:
			return success(c.attributes)
		case 0x7F21:
			if c.certificate == nil {
				return status(iso7816.SW_ERR_REF_DATA_NOT_FOUND)
			}
			return success(tlv.AppendTLV(nil, 0x7F21, c.certificate))
		}
		return status(iso7816.SW_ERR_REF_DATA_NOT_FOUND)

	case iso7816.INS_SELECT_DATA:
		return success(nil)

	case iso7816.INS_GENERATE_ASYMMETRIC_KEY_PAIR_BER:
		if cmd.P1 != 0x81 || !bytes.Equal(cmd.Data, []byte{0xA6, 0x00}) {
			return status(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
		}
		pub := tlv.AppendTLV(nil, 0x86, c.static.PublicKey().Bytes())
		return success(tlv.AppendTLV(nil, 0x7F49, pub))

	case iso7816.INS_INTERNAL_AUTHENTICATE:
		if c.rejectAuth {
			return status(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
		}
		return c.keyAgreement(cmd.Data)
	}
	return status(iso7816.SW_ERR_INS_INVALID)
}

func (c *simCard) keyAgreement(agreement []byte) *iso7816.ResponseAPDU {
	nodes, err := tlv.Decode(agreement)
	if err != nil {
		c.t.Errorf("card: bad agreement data: %v", err)
		return status(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
	}
	crt, found := tlv.Find(nodes, 0xA6)
	if !found {
		return status(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
	}
	if ks, found := tlv.Find(crt.Children, 0x81); !found || int(ks.Value[0]) != c.keySize {
		c.t.Errorf("card: unexpected key size in CRT")
	}
	hostPoint, found := tlv.Find(nodes, 0x5F49)
	if !found {
		return status(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
	}
	hostEph, err := c.static.Curve().NewPublicKey(hostPoint.Value)
	if err != nil {
		return status(iso7816.SW_ERR_INCORRECT_PARAMS_DATA)
	}

	shSe, _ := c.ephemeral.ECDH(hostEph)
	shSs, _ := c.static.ECDH(hostEph)
	keys := kdfX963(append(shSe, shSs...), []byte{keyUsage, keyType, byte(c.keySize)}, 4*c.keySize)
	ks := c.keySize

	cardPoint := tlv.AppendTLV(nil, 0x5F49, c.ephemeral.PublicKey().Bytes())
	receipt, _ := aesCMAC(keys[:ks], agreement, cardPoint)
	if c.corruptReceipt {
		receipt[15] ^= 0x01
	}

	c.session = &cardSession{
		sEnc:  keys[ks : 2*ks],
		sMac:  keys[2*ks : 3*ks],
		sRmac: keys[3*ks:],
		chain: append([]byte(nil), receipt...),
	}
	return success(tlv.AppendTLV(cardPoint, 0x86, receipt))
}

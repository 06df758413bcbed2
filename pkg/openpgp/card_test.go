package openpgp

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

var (
	rsaKeyOnce sync.Once
	rsaKey     *rsa.PrivateKey
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaKeyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("rsa.GenerateKey: %v", err)
		}
		rsaKey = k
	})
	return rsaKey
}

// Historical bytes advertising extended length, chaining, or neither.
var (
	historicalExtended = tlv.Hex("0031C573C00140059000")
	historicalChaining = tlv.Hex("0031C573C00180059000")
	historicalShort    = tlv.Hex("0031C573C00100059000")
)

var testAID = tlv.Hex("D2760001240103040006123456780000")

const (
	defaultPW1 = "123456"
	defaultPW3 = "12345678"
)

// fakeCard simulates an OpenPGP card behind an iso7816.Transport. It keeps
// PINs, keys and data objects, reassembles chained commands and splits long
// answers with 61XX.
type fakeCard struct {
	t *testing.T

	connected  bool
	persistent bool
	connectErr error
	releases   int

	aid          []byte
	historical   []byte
	extCaps      []byte
	formats      [3]keyformat.KeyFormat
	smAttributes []byte
	multiSig     bool
	fidesmo      bool

	pw1, pw3           []byte
	pw1Tries, pw3Tries int
	verified           map[command.PasswordRef]bool
	terminated         bool

	keys         [3]crypto.PrivateKey
	fingerprints [3][]byte
	dates        [3][]byte
	objects      map[uint32][]byte
	imported     [][]byte

	chain   []byte
	pending []byte

	// commands holds the logical commands, chained blocks reassembled.
	commands []*iso7816.CommandAPDU
	raw      [][]byte
}

func newFakeCard(t *testing.T) *fakeCard {
	f := &fakeCard{
		t:          t,
		persistent: true,
		aid:        testAID,
		historical: historicalExtended,
		// SM, GET CHALLENGE, key import, PW status, private DOs, attributes.
		extCaps: tlv.Hex("FC 00 0080 0800 0800 0800"),
		formats: [3]keyformat.KeyFormat{
			keyformat.RSA{ModulusBits: 2048, ExponentBits: 32, Import: keyformat.RSAStandard},
			keyformat.RSA{ModulusBits: 2048, ExponentBits: 32, Import: keyformat.RSAStandard},
			keyformat.RSA{ModulusBits: 2048, ExponentBits: 32, Import: keyformat.RSAStandard},
		},
		objects: make(map[uint32][]byte),
	}
	f.factoryReset()
	return f
}

func (f *fakeCard) factoryReset() {
	f.pw1, f.pw3 = []byte(defaultPW1), []byte(defaultPW3)
	f.pw1Tries, f.pw3Tries = 3, 3
	f.verified = make(map[command.PasswordRef]bool)
	f.terminated = false
	f.keys = [3]crypto.PrivateKey{}
	f.fingerprints = [3][]byte{}
	f.dates = [3][]byte{}
	clear(f.objects)
}

func (f *fakeCard) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeCard) Release() error {
	f.connected = false
	f.releases++
	return nil
}

func (f *fakeCard) IsConnected() bool                   { return f.connected }
func (f *fakeCard) IsPersistentConnectionAllowed() bool { return f.persistent }

func (f *fakeCard) pwStatus() []byte {
	multi := byte(0)
	if f.multiSig {
		multi = 1
	}
	return []byte{multi, 127, 127, 127, byte(f.pw1Tries), 3, byte(f.pw3Tries)}
}

func (f *fakeCard) applicationData() []byte {
	disc := tlv.AppendTLV(nil, 0xC0, f.extCaps)
	for i, fm := range f.formats {
		if fm != nil {
			disc = tlv.AppendTLV(disc, uint32(0xC1+i), fm.Bytes())
		}
	}
	disc = tlv.AppendTLV(disc, 0xC4, f.pwStatus())

	var fps, dates []byte
	for i := range 3 {
		fps = append(fps, pad(f.fingerprints[i], 20)...)
		dates = append(dates, pad(f.dates[i], 4)...)
	}
	disc = tlv.AppendTLV(disc, 0xC5, fps)
	disc = tlv.AppendTLV(disc, 0xCD, dates)

	body := tlv.AppendTLV(nil, 0x4F, f.aid)
	body = tlv.AppendTLV(body, 0x5F52, f.historical)
	body = tlv.AppendTLV(body, 0x73, disc)
	return tlv.AppendTLV(nil, 0x6E, body)
}

func pad(b []byte, n int) []byte {
	if len(b) == n {
		return b
	}
	return make([]byte, n)
}

func (f *fakeCard) Transmit(raw []byte) ([]byte, error) {
	f.raw = append(f.raw, append([]byte(nil), raw...))
	if !f.connected {
		return nil, errors.New("card removed")
	}

	cmd, err := iso7816.ParseCommandAPDU(raw)
	if err != nil {
		f.t.Errorf("card: unparsable command %X: %v", raw, err)
		return []byte{0x6F, 0x00}, nil
	}

	if cmd.Instruction.Raw == iso7816.INS_GET_RESPONSE {
		return f.answer(f.pending, iso7816.SW_NO_ERROR, cmd.Ne), nil
	}

	if raw[0]&iso7816.ClassChainingMask != 0 {
		f.chain = append(f.chain, cmd.Data...)
		return []byte{0x90, 0x00}, nil
	}
	if f.chain != nil {
		cmd.Data = append(f.chain, cmd.Data...)
		f.chain = nil
	}
	cmd.Class = cmd.Class.Plain()
	f.commands = append(f.commands, cmd)

	data, sw := f.handle(cmd)
	return f.answer(data, sw, cmd.Ne), nil
}

// answer returns at most ne bytes and keeps the rest for GET RESPONSE.
func (f *fakeCard) answer(data []byte, sw iso7816.StatusWord, ne int) []byte {
	f.pending = nil
	if sw == iso7816.SW_NO_ERROR && ne > 0 && len(data) > ne {
		f.pending = data[ne:]
		data = data[:ne]
		sw = iso7816.NewStatusWord(0x61, byte(min(len(f.pending), 256)))
	}
	return (&iso7816.ResponseAPDU{Data: data, Status: sw}).Bytes()
}

func (f *fakeCard) handle(cmd *iso7816.CommandAPDU) ([]byte, iso7816.StatusWord) {
	p1p2 := uint32(cmd.P1)<<8 | uint32(cmd.P2)

	switch cmd.Instruction.Raw {
	case iso7816.INS_SELECT:
		switch {
		case len(cmd.Data) >= 6 && bytes.HasPrefix(f.aid, cmd.Data):
			return nil, iso7816.SW_NO_ERROR
		case f.fidesmo && bytes.Equal(cmd.Data, command.AIDFidesmo):
			return nil, iso7816.SW_NO_ERROR
		}
		return nil, iso7816.SW_ERR_FILE_NOT_FOUND

	case iso7816.INS_GET_DATA:
		switch p1p2 {
		case command.TagApplicationRelatedData:
			return f.applicationData(), iso7816.SW_NO_ERROR
		case command.TagPWStatus:
			return f.pwStatus(), iso7816.SW_NO_ERROR
		case command.TagSMKeyAttributes:
			if f.smAttributes == nil {
				return nil, iso7816.SW_ERR_REF_DATA_NOT_FOUND
			}
			return f.smAttributes, iso7816.SW_NO_ERROR
		}
		if v, ok := f.objects[p1p2]; ok {
			return v, iso7816.SW_NO_ERROR
		}
		return nil, iso7816.SW_ERR_REF_DATA_NOT_FOUND

	case iso7816.INS_VERIFY:
		return f.verify(command.PasswordRef(cmd.P2), cmd.Data)

	case iso7816.INS_CHANGE_REFERENCE_DATA:
		return f.changeReferenceData(command.PasswordRef(cmd.P2), cmd.Data)

	case iso7816.INS_RESET_RETRY_COUNTER:
		if cmd.P1 != 0x02 || !f.verified[command.PW3] {
			return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
		}
		f.pw1, f.pw1Tries = bytes.Clone(cmd.Data), 3
		return nil, iso7816.SW_NO_ERROR

	case iso7816.INS_PERFORM_SECURITY_OPERATION:
		switch p1p2 {
		case 0x9E9A:
			return f.sign(cmd.Data)
		case 0x8086:
			return f.decipher(cmd.Data)
		}
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_P1P2

	case iso7816.INS_GENERATE_ASYMMETRIC_KEY_PAIR_BER:
		return f.generate(cmd.P1, cmd.Data)

	case iso7816.INS_PUT_DATA:
		if !f.verified[command.PW3] {
			return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
		}
		return f.putData(p1p2, cmd.Data)

	case iso7816.INS_PUT_DATA_BER:
		if !f.verified[command.PW3] {
			return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
		}
		f.imported = append(f.imported, bytes.Clone(cmd.Data))
		return nil, iso7816.SW_NO_ERROR

	case iso7816.INS_TERMINATE_DF:
		if f.pw3Tries > 0 && !f.verified[command.PW3] {
			return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
		}
		f.terminated = true
		return nil, iso7816.SW_NO_ERROR

	case iso7816.INS_ACTIVATE_FILE:
		if f.terminated {
			f.factoryReset()
		}
		return nil, iso7816.SW_NO_ERROR
	}
	return nil, iso7816.SW_ERR_INS_INVALID
}

func (f *fakeCard) tries(ref command.PasswordRef) *int {
	if ref == command.PW3 {
		return &f.pw3Tries
	}
	return &f.pw1Tries
}

func (f *fakeCard) secret(ref command.PasswordRef) *[]byte {
	if ref == command.PW3 {
		return &f.pw3
	}
	return &f.pw1
}

func (f *fakeCard) wrongPIN(ref command.PasswordRef) iso7816.StatusWord {
	tries := f.tries(ref)
	if *tries > 0 {
		*tries--
	}
	if *tries == 0 {
		return iso7816.SW_ERR_AUTH_METHOD_BLOCKED
	}
	return iso7816.NewStatusWord(0x63, 0xC0|byte(*tries))
}

func (f *fakeCard) verify(ref command.PasswordRef, pin []byte) ([]byte, iso7816.StatusWord) {
	if *f.tries(ref) == 0 {
		return nil, iso7816.SW_ERR_AUTH_METHOD_BLOCKED
	}
	if !bytes.Equal(pin, *f.secret(ref)) {
		f.verified[ref] = false
		return nil, f.wrongPIN(ref)
	}
	*f.tries(ref) = 3
	f.verified[ref] = true
	return nil, iso7816.SW_NO_ERROR
}

func (f *fakeCard) changeReferenceData(ref command.PasswordRef, data []byte) ([]byte, iso7816.StatusWord) {
	current := *f.secret(ref)
	if *f.tries(ref) == 0 {
		return nil, iso7816.SW_ERR_AUTH_METHOD_BLOCKED
	}
	if !bytes.HasPrefix(data, current) {
		return nil, f.wrongPIN(ref)
	}
	*f.secret(ref) = bytes.Clone(data[len(current):])
	*f.tries(ref) = 3
	return nil, iso7816.SW_NO_ERROR
}

func (f *fakeCard) sign(input []byte) ([]byte, iso7816.StatusWord) {
	if !f.verified[command.PW1Signature] {
		return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
	}
	if !f.multiSig {
		f.verified[command.PW1Signature] = false
	}

	switch k := f.keys[keyformat.SlotSign].(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(nil, k, crypto.Hash(0), input)
		if err != nil {
			return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
		}
		return sig, iso7816.SW_NO_ERROR
	case *ecdsa.PrivateKey:
		r, s, err := ecdsa.Sign(rand.Reader, k, input)
		if err != nil {
			return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
		}
		size := (k.Curve.Params().BitSize + 7) / 8
		return append(r.FillBytes(make([]byte, size)), s.FillBytes(make([]byte, size))...), iso7816.SW_NO_ERROR
	case ed25519.PrivateKey:
		return ed25519.Sign(k, input), iso7816.SW_NO_ERROR
	}
	return nil, iso7816.SW_ERR_REF_DATA_NOT_FOUND
}

func (f *fakeCard) decipher(input []byte) ([]byte, iso7816.StatusWord) {
	if !f.verified[command.PW1Other] {
		return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
	}

	switch k := f.keys[keyformat.SlotDecrypt].(type) {
	case *rsa.PrivateKey:
		ct := input
		if len(ct) > 0 && ct[0] == 0x00 {
			ct = ct[1:]
		}
		if len(ct) == 0 || len(ct) > k.Size() {
			return nil, iso7816.SW_ERR_WRONG_LENGTH
		}
		ct = append(make([]byte, k.Size()-len(ct)), ct...)
		plain, err := rsa.DecryptPKCS1v15(nil, k, ct)
		if err != nil {
			return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
		}
		return plain, iso7816.SW_NO_ERROR
	case *ecdh.PrivateKey:
		nodes, err := tlv.Decode(input)
		if err != nil {
			return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
		}
		point, ok := tlv.FindRecursive(nodes, 0x86)
		if !ok {
			return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
		}
		pub, err := k.Curve().NewPublicKey(point.Value)
		if err != nil {
			return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
		}
		z, err := k.ECDH(pub)
		if err != nil {
			return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
		}
		return z, iso7816.SW_NO_ERROR
	}
	return nil, iso7816.SW_ERR_REF_DATA_NOT_FOUND
}

func slotForCRT(crt byte) (keyformat.Slot, bool) {
	for _, s := range keyformat.Slots {
		if s.CRT() == crt {
			return s, true
		}
	}
	return 0, false
}

func (f *fakeCard) generate(mode byte, data []byte) ([]byte, iso7816.StatusWord) {
	if len(data) != 2 {
		return nil, iso7816.SW_ERR_WRONG_LENGTH
	}
	slot, ok := slotForCRT(data[0])
	if !ok {
		return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
	}

	if mode == 0x80 {
		if !f.verified[command.PW3] {
			return nil, iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT
		}
		key, err := newKeyFor(f.t, f.formats[slot])
		if err != nil {
			return nil, iso7816.SW_ERR_FUNC_NOT_SUPPORTED
		}
		f.keys[slot] = key
	}
	if f.keys[slot] == nil {
		return nil, iso7816.SW_ERR_REF_DATA_NOT_FOUND
	}
	return publicTemplate(f.keys[slot]), iso7816.SW_NO_ERROR
}

func newKeyFor(t *testing.T, format keyformat.KeyFormat) (crypto.PrivateKey, error) {
	switch fm := format.(type) {
	case keyformat.RSA:
		return testRSAKey(t), nil
	case keyformat.EdDSA:
		_, k, err := ed25519.GenerateKey(rand.Reader)
		return k, err
	case keyformat.EC:
		c, ok := fm.Curve()
		if !ok {
			return nil, fmt.Errorf("unknown curve")
		}
		ec, err := c.ECDH()
		if err != nil {
			return nil, err
		}
		if fm.Alg == keyformat.AlgECDSA {
			switch c {
			case keyformat.P256:
				return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			case keyformat.P384:
				return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
			}
			return nil, fmt.Errorf("no ECDSA test curve for %s", c)
		}
		return ec.GenerateKey(rand.Reader)
	}
	return nil, fmt.Errorf("unknown format")
}

func publicTemplate(key crypto.PrivateKey) []byte {
	var inner []byte
	switch k := key.(type) {
	case *rsa.PrivateKey:
		inner = tlv.AppendTLV(nil, 0x81, k.N.Bytes())
		inner = tlv.AppendTLV(inner, 0x82, big.NewInt(int64(k.E)).Bytes())
	case *ecdsa.PrivateKey:
		pub, _ := k.PublicKey.ECDH()
		inner = tlv.AppendTLV(nil, 0x86, pub.Bytes())
	case *ecdh.PrivateKey:
		inner = tlv.AppendTLV(nil, 0x86, k.PublicKey().Bytes())
	case ed25519.PrivateKey:
		inner = tlv.AppendTLV(nil, 0x86, k.Public().(ed25519.PublicKey))
	}
	return tlv.AppendTLV(nil, 0x7F49, inner)
}

func (f *fakeCard) putData(tag uint32, value []byte) ([]byte, iso7816.StatusWord) {
	for _, s := range keyformat.Slots {
		switch tag {
		case s.AttributesTag():
			format, err := keyformat.Parse(value, nil)
			if err != nil {
				return nil, iso7816.SW_ERR_INCORRECT_PARAMS_DATA
			}
			f.formats[s] = format
			f.keys[s] = nil
			return nil, iso7816.SW_NO_ERROR
		case s.FingerprintTag():
			if len(value) != 20 {
				return nil, iso7816.SW_ERR_WRONG_LENGTH
			}
			f.fingerprints[s] = bytes.Clone(value)
			return nil, iso7816.SW_NO_ERROR
		case s.TimestampTag():
			if len(value) != 4 {
				return nil, iso7816.SW_ERR_WRONG_LENGTH
			}
			f.dates[s] = bytes.Clone(value)
			return nil, iso7816.SW_NO_ERROR
		}
	}
	f.objects[tag] = bytes.Clone(value)
	return nil, iso7816.SW_NO_ERROR
}

// headers lists CLA INS P1 P2 of the logical commands, in hex.
func (f *fakeCard) headers() []string {
	out := make([]string, 0, len(f.commands))
	for _, c := range f.commands {
		cla, _ := c.Class.Encode()
		out = append(out, fmt.Sprintf("%02X%02X%02X%02X", cla, byte(c.Instruction.Raw), c.P1, c.P2))
	}
	return out
}

// connectTo opens a connection on the card and forgets the set-up commands.
func connectTo(t *testing.T, f *fakeCard, opts Options) *Connection {
	t.Helper()
	c, err := Open(f, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	f.commands, f.raw = nil, nil
	return c
}

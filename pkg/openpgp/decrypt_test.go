package openpgp

import (
	"bytes"
	"crypto/aes"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"math/bits"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
	"github.com/gregLibert/openpgp-card/pkg/tlv"
)

// aesKeyWrap is the RFC 3394 wrapping counterpart used to build ciphertexts.
func aesKeyWrap(t *testing.T, kek, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(kek)
	if err != nil {
		t.Fatal(err)
	}
	n := len(plain) / 8
	a := bytes.Clone(keyWrapIV)
	r := bytes.Clone(plain)
	buf := make([]byte, 16)
	for j := range 6 {
		for i := 1; i <= n; i++ {
			copy(buf, a)
			copy(buf[8:], r[(i-1)*8:i*8])
			block.Encrypt(buf, buf)
			binary.BigEndian.PutUint64(a, binary.BigEndian.Uint64(buf[:8])^uint64(n*j+i))
			copy(r[(i-1)*8:i*8], buf[8:])
		}
	}
	return append(a, r...)
}

// mpi encodes b as an OpenPGP multiprecision integer.
func mpi(b []byte) []byte {
	b = bytes.TrimLeft(b, "\x00")
	n := 0
	if len(b) > 0 {
		n = 8*(len(b)-1) + bits.Len8(b[0])
	}
	return append(binary.BigEndian.AppendUint16(nil, uint16(n)), b...)
}

var keyWrapVectors = []struct {
	name            string
	kek, key, wrapd []byte
}{
	{
		name:  "128-bit KEK, 128-bit key",
		kek:   tlv.Hex("000102030405060708090A0B0C0D0E0F"),
		key:   tlv.Hex("00112233445566778899AABBCCDDEEFF"),
		wrapd: tlv.Hex("1FA68B0A8112B447 AEF34BD8FB5A7B82 9D3E862371D2CFE5"),
	},
	{
		name:  "256-bit KEK, 256-bit key",
		kek:   tlv.Hex("000102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F"),
		key:   tlv.Hex("00112233445566778899AABBCCDDEEFF000102030405060708090A0B0C0D0E0F"),
		wrapd: tlv.Hex("28C9F404C4B810F4 CBCCB35CFB87F826 3F5786E2D80ED326 CBC7F0E71A99F43B FB988B9B7A02DD21"),
	},
}

func TestAESKeyUnwrap(t *testing.T) {
	for _, tc := range keyWrapVectors {
		t.Run(tc.name, func(t *testing.T) {
			got, err := aesKeyUnwrap(tc.kek, tc.wrapd)
			if err != nil {
				t.Fatalf("aesKeyUnwrap failed: %v", err)
			}
			if diff := cmp.Diff(tc.key, got); diff != "" {
				t.Errorf("unwrapped key mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wrapd, aesKeyWrap(t, tc.kek, tc.key)); diff != "" {
				t.Errorf("test wrapper disagrees with the vector (-want +got):\n%s", diff)
			}

			for i := range tc.wrapd {
				tampered := bytes.Clone(tc.wrapd)
				tampered[i] ^= 0x01
				if _, err := aesKeyUnwrap(tc.kek, tampered); !errors.Is(err, errKeyUnwrap) {
					t.Fatalf("byte %d flipped: error = %v, want errKeyUnwrap", i, err)
				}
			}
		})
	}

	for _, wrapped := range [][]byte{nil, make([]byte, 16), make([]byte, 25)} {
		if _, err := aesKeyUnwrap(keyWrapVectors[0].kek, wrapped); !errors.Is(err, errKeyUnwrap) {
			t.Errorf("aesKeyUnwrap(%d bytes) error = %v, want errKeyUnwrap", len(wrapped), err)
		}
	}
}

func TestUnpadSessionKey(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
		err  error
	}{
		{"five bytes", tlv.Hex("0102030405060708 0102030505050505"), tlv.Hex("0102030405060708 010203"), nil},
		{"full block", tlv.Hex("0808080808080808"), []byte{}, nil},
		{"zero pad", tlv.Hex("0102030405060700"), nil, ErrDecryption},
		{"pad longer than input", tlv.Hex("0909"), nil, ErrDecryption},
		{"inconsistent pad", tlv.Hex("0102030405030403"), nil, ErrDecryption},
		{"empty", nil, nil, ErrDecryption},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := unpadSessionKey(bytes.Clone(tc.in))
			if !errors.Is(err, tc.err) {
				t.Fatalf("unpadSessionKey() error = %v, want %v", err, tc.err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSharedSecret(t *testing.T) {
	x := bytes.Repeat([]byte{0xAB}, 32)
	y := bytes.Repeat([]byte{0xCD}, 32)

	tests := []struct {
		name  string
		curve *keyformat.Curve
		in    []byte
		want  []byte
	}{
		{"x coordinate", keyformat.P256, x, x},
		{"uncompressed point", keyformat.P256, append(append([]byte{0x04}, x...), y...), x},
		{"Montgomery prefix", keyformat.Curve25519, append([]byte{0x40}, x...), x},
		{"Montgomery bare", keyformat.Curve25519, x, x},
		{"wrong size", keyformat.P384, x, nil},
		{"compressed point", keyformat.P256, append([]byte{0x02}, x...), nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sharedSecret(tc.curve, tc.in)
			if tc.want == nil {
				if !errors.Is(err, iso7816.ErrProtocolViolation) {
					t.Errorf("sharedSecret() error = %v, want ErrProtocolViolation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("sharedSecret failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitECDHCiphertext(t *testing.T) {
	point := bytes.Repeat([]byte{0x04}, 65)
	wrapped := bytes.Repeat([]byte{0x77}, 40)
	valid := append(append(mpi(point), byte(len(wrapped))), wrapped...)

	gotPoint, gotWrapped, err := splitECDHCiphertext(valid)
	if err != nil {
		t.Fatalf("splitECDHCiphertext failed: %v", err)
	}
	if !bytes.Equal(gotPoint, point) || !bytes.Equal(gotWrapped, wrapped) {
		t.Errorf("split = %X, %X", gotPoint, gotWrapped)
	}

	for name, b := range map[string][]byte{
		"empty":            nil,
		"truncated point":  valid[:40],
		"missing key":      valid[:2+65],
		"wrong key length": valid[:len(valid)-1],
	} {
		if _, _, err := splitECDHCiphertext(b); !errors.Is(err, iso7816.ErrProtocolViolation) {
			t.Errorf("%s: error = %v, want ErrProtocolViolation", name, err)
		}
	}
}

// sessionData is an AES-256 session key with its algorithm byte and checksum.
func sessionData() []byte {
	key := bytes.Repeat([]byte{0x5A}, 32)
	var sum uint16
	for _, b := range key {
		sum += uint16(b)
	}
	out := append([]byte{0x09}, key...)
	return binary.BigEndian.AppendUint16(out, sum)
}

func TestDecryptSessionKey_RSA(t *testing.T) {
	key := testRSAKey(t)
	session := sessionData()

	// Draw ciphertexts until both leading bit values have been seen.
	seen := map[bool]bool{}
	for len(seen) < 2 {
		ct, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, session)
		if err != nil {
			t.Fatal(err)
		}
		encrypted := mpi(ct)
		highBit := encrypted[2]&0x80 != 0
		if seen[highBit] {
			continue
		}
		seen[highBit] = true

		f := newFakeCard(t)
		f.keys[keyformat.SlotDecrypt] = key
		c := connectTo(t, f, Options{})
		if err := c.VerifyPINForOther([]byte(defaultPW1)); err != nil {
			t.Fatalf("VerifyPINForOther failed: %v", err)
		}

		got, err := c.DecryptSessionKey(encrypted, nil)
		if err != nil {
			t.Fatalf("DecryptSessionKey (high bit %t) failed: %v", highBit, err)
		}
		if diff := cmp.Diff(session, got); diff != "" {
			t.Errorf("session data mismatch (-want +got):\n%s", diff)
		}

		sent := f.commands[len(f.commands)-1].Data
		want := encrypted[2:]
		if highBit {
			want = append([]byte{0x00}, want...)
		}
		if diff := cmp.Diff(want, sent); diff != "" {
			t.Errorf("cryptogram (high bit %t) mismatch (-want +got):\n%s", highBit, diff)
		}
	}
}

func TestDecryptSessionKey_ECDH(t *testing.T) {
	tests := []struct {
		name  string
		curve *keyformat.Curve
		// prefix is put before the ephemeral point in the ciphertext.
		prefix []byte
	}{
		{"NIST P-256", keyformat.P256, nil},
		{"NIST P-384", keyformat.P384, nil},
		{"Curve25519", keyformat.Curve25519, []byte{0x40}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			goCurve, err := tc.curve.ECDH()
			if err != nil {
				t.Fatal(err)
			}
			cardKey, err := goCurve.GenerateKey(rand.Reader)
			if err != nil {
				t.Fatal(err)
			}
			fp := tlv.Hex("0123456789ABCDEF0123456789ABCDEF01234567")

			f := newFakeCard(t)
			f.formats[keyformat.SlotDecrypt] = keyformat.EC{Alg: keyformat.AlgECDH, OID: tc.curve.OID}
			f.keys[keyformat.SlotDecrypt] = cardKey
			f.fingerprints[keyformat.SlotDecrypt] = fp
			c := connectTo(t, f, Options{})
			if err := c.VerifyPINForOther([]byte(defaultPW1)); err != nil {
				t.Fatalf("VerifyPINForOther failed: %v", err)
			}

			encrypted, session := encryptECDH(t, tc.curve, cardKey.PublicKey(), fp, tc.prefix)
			got, err := c.DecryptSessionKey(encrypted, nil)
			if err != nil {
				t.Fatalf("DecryptSessionKey failed: %v", err)
			}
			if diff := cmp.Diff(session, got); diff != "" {
				t.Errorf("session data mismatch (-want +got):\n%s", diff)
			}

			// The card only ever sees the bare point.
			nodes, err := tlv.Decode(f.commands[len(f.commands)-1].Data)
			if err != nil {
				t.Fatal(err)
			}
			point, ok := tlv.FindRecursive(nodes, 0x86)
			if !ok || len(point.Value) != tc.curve.PointSize() {
				t.Errorf("cipher DO point = %X", point.Value)
			}

			// A different fingerprint gives a different KEK.
			f.fingerprints[keyformat.SlotDecrypt] = bytes.Repeat([]byte{0xEE}, 20)
			c = connectTo(t, f, Options{})
			if err := c.VerifyPINForOther([]byte(defaultPW1)); err != nil {
				t.Fatalf("VerifyPINForOther failed: %v", err)
			}
			if _, err := c.DecryptSessionKey(encrypted, nil); !errors.Is(err, ErrDecryption) {
				t.Errorf("DecryptSessionKey() with another fingerprint error = %v, want ErrDecryption", err)
			}
		})
	}
}

// encryptECDH builds the RFC 6637 ciphertext of sessionData for recipient.
func encryptECDH(t *testing.T, curve *keyformat.Curve, recipient *ecdh.PublicKey, fp, prefix []byte) (encrypted, session []byte) {
	t.Helper()
	eph, err := recipient.Curve().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	z, err := eph.ECDH(recipient)
	if err != nil {
		t.Fatal(err)
	}
	ukm, err := keyformat.UserKeyingMaterial(curve, curve.KDF, fp)
	if err != nil {
		t.Fatal(err)
	}

	h := curve.KDF.Hash.New()
	h.Write([]byte{0x00, 0x00, 0x00, 0x01})
	h.Write(z)
	h.Write(ukm)
	kek := h.Sum(nil)[:curve.KDF.KeySize]

	session = sessionData()
	n := 8 - len(session)%8
	padded := append(bytes.Clone(session), bytes.Repeat([]byte{byte(n)}, n)...)
	wrapped := aesKeyWrap(t, kek, padded)

	point := append(bytes.Clone(prefix), eph.PublicKey().Bytes()...)
	encrypted = append(mpi(point), byte(len(wrapped)))
	return append(encrypted, wrapped...), session
}

func TestDecryptSessionKey_Errors(t *testing.T) {
	t.Run("ECDSA key", func(t *testing.T) {
		f := newFakeCard(t)
		f.formats[keyformat.SlotDecrypt] = keyformat.EC{Alg: keyformat.AlgECDSA, OID: keyformat.P256.OID}
		c := connectTo(t, f, Options{})
		if _, err := c.DecryptSessionKey(make([]byte, 40), nil); !errors.Is(err, keyformat.ErrUnsupported) {
			t.Errorf("DecryptSessionKey() error = %v, want ErrUnsupported", err)
		}
	})

	t.Run("PIN not verified", func(t *testing.T) {
		f := newFakeCard(t)
		f.keys[keyformat.SlotDecrypt] = testRSAKey(t)
		c := connectTo(t, f, Options{})
		_, err := c.DecryptSessionKey(mpi(bytes.Repeat([]byte{0x42}, 256)), nil)
		var se *iso7816.StatusError
		if !errors.As(err, &se) || se.Status != iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT {
			t.Errorf("DecryptSessionKey() error = %v, want status 6982", err)
		}
	})

	t.Run("short RSA ciphertext", func(t *testing.T) {
		f := newFakeCard(t)
		c := connectTo(t, f, Options{})
		if _, err := c.DecryptSessionKey(tlv.Hex("0008"), nil); !errors.Is(err, iso7816.ErrProtocolViolation) {
			t.Errorf("DecryptSessionKey() error = %v, want ErrProtocolViolation", err)
		}
		if len(f.commands) != 0 {
			t.Errorf("sent %v", f.headers())
		}
	})
}

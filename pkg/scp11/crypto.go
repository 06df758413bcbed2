package scp11

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
)

const blockSize = aes.BlockSize

func aesECBEncrypt(key, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create AES cipher")
	}
	out := make([]byte, blockSize)
	block.Encrypt(out, in)
	return out, nil
}

func aesCBCEncrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%blockSize != 0 {
		return nil, errors.New("CBC encrypt: data not block aligned")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create AES cipher")
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCBCDecrypt(key, iv, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.Errorf("CBC decrypt: %d bytes not block aligned", len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create AES cipher")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCMAC(key []byte, parts ...[]byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "create AES cipher")
	}
	h, err := cmac.New(block)
	if err != nil {
		return nil, errors.Wrap(err, "create CMAC")
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil), nil
}

// pad80 appends 80 then zeros up to the next block boundary. A full block is
// added when data is already aligned.
func pad80(data []byte) []byte {
	n := len(data) + 1
	if r := n % blockSize; r != 0 {
		n += blockSize - r
	}
	out := make([]byte, n)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func unpad80(data []byte) ([]byte, error) {
	i := len(data) - 1
	for i >= 0 && data[i] == 0x00 {
		i--
	}
	if i < 0 || data[i] != 0x80 {
		return nil, errors.New("decrypted data is missing the 80 padding marker")
	}
	return data[:i], nil
}

// counterBlock is the IV input of a command (first byte 00) or of its response
// (first byte 80).
func counterBlock(first byte, counter uint16) []byte {
	b := make([]byte, blockSize)
	b[0] = first
	binary.BigEndian.PutUint16(b[blockSize-2:], counter)
	return b
}

// kdfX963 derives n bytes from the shared secret z with the ANSI X9.63 KDF:
// SHA-256(z | counter (4) | sharedInfo), counter starting at 1.
func kdfX963(z, sharedInfo []byte, n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	var ctr [4]byte
	for i := uint32(1); len(out) < n; i++ {
		binary.BigEndian.PutUint32(ctr[:], i)
		h := sha256.New()
		h.Write(z)
		h.Write(ctr[:])
		h.Write(sharedInfo)
		out = h.Sum(out)
	}
	clear(out[n:cap(out)])
	return out[:n]
}

package openpgp

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/keyformat"
)

// Key provisioning needs PW3. The card enforces it; these methods only send.

// GenerateKey creates a key pair in slot, computes its v4 fingerprint for the
// given creation time and stores fingerprint and time on the card.
func (c *Connection) GenerateKey(slot keyformat.Slot, created time.Time) (crypto.PublicKey, []byte, error) {
	if err := c.ready(); err != nil {
		return nil, nil, err
	}
	format, err := c.slotFormat(slot)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.transceive("GENERATE ASYMMETRIC KEY PAIR "+slot.String(), command.GenerateKey(slot))
	if err != nil {
		return nil, nil, err
	}
	pub, err := keyformat.ParsePublicKey(format, resp.Data)
	if err != nil {
		return nil, nil, err
	}

	fp, err := keyformat.FingerprintV4(format, pub, created)
	if err != nil {
		return nil, nil, err
	}
	if err := c.SetKeyMetadata(slot, fp, created); err != nil {
		return nil, nil, err
	}
	return pub, fp, nil
}

// ReadPublicKey returns the public key stored in slot.
func (c *Connection) ReadPublicKey(slot keyformat.Slot) (crypto.PublicKey, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	format, err := c.slotFormat(slot)
	if err != nil {
		return nil, err
	}
	resp, err := c.transceive("READ PUBLIC KEY "+slot.String(), command.ReadPublicKey(slot))
	if err != nil {
		return nil, err
	}
	return keyformat.ParsePublicKey(format, resp.Data)
}

// PutKey imports key into slot with the current algorithm attributes and
// writes its metadata. It returns the fingerprint.
func (c *Connection) PutKey(slot keyformat.Slot, key crypto.PrivateKey, created time.Time) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	format, err := c.slotFormat(slot)
	if err != nil {
		return nil, err
	}
	return c.importKey(slot, format, key, created)
}

// ChangeKey imports key into slot with the given algorithm attributes,
// changing them first when they differ from the current ones.
func (c *Connection) ChangeKey(slot keyformat.Slot, format keyformat.KeyFormat, key crypto.PrivateKey, created time.Time) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: slot %v", keyformat.ErrUnsupported, slot)
	}
	if !keyformat.Equal(c.caps.Format(slot), format) {
		if err := c.SetKeyAttributes(slot, format); err != nil {
			return nil, err
		}
	}
	return c.importKey(slot, format, key, created)
}

// SetKeyAttributes changes the algorithm attributes of slot and reads the
// capabilities again.
func (c *Connection) SetKeyAttributes(slot keyformat.Slot, format keyformat.KeyFormat) error {
	if err := c.ready(); err != nil {
		return err
	}
	if !c.caps.Extended.AttributesChangeable {
		return fmt.Errorf("%w: algorithm attributes are fixed on this card", keyformat.ErrUnsupported)
	}
	if _, err := c.transceive("PUT DATA "+slot.String()+" attributes", command.PutKeyAttributes(slot, format)); err != nil {
		return err
	}
	return c.refreshCapabilities()
}

func (c *Connection) importKey(slot keyformat.Slot, format keyformat.KeyFormat, key crypto.PrivateKey, created time.Time) ([]byte, error) {
	if !c.caps.Extended.KeyImport {
		return nil, fmt.Errorf("%w: key import not supported by this card", keyformat.ErrUnsupported)
	}
	pub, err := publicKeyOf(key)
	if err != nil {
		return nil, err
	}
	fp, err := keyformat.FingerprintV4(format, pub, created)
	if err != nil {
		return nil, err
	}

	tmpl, err := keyformat.ImportTemplate(slot, format, key)
	if err != nil {
		return nil, err
	}
	_, err = c.transceive("PUT KEY "+slot.String(), command.PutKey(tmpl))
	clear(tmpl)
	if err != nil {
		return nil, err
	}

	if err := c.SetKeyMetadata(slot, fp, created); err != nil {
		return nil, err
	}
	return fp, nil
}

// SetKeyMetadata writes the fingerprint and generation time of slot.
func (c *Connection) SetKeyMetadata(slot keyformat.Slot, fingerprint []byte, created time.Time) error {
	if err := c.ready(); err != nil {
		return err
	}
	if !slot.Valid() {
		return fmt.Errorf("%w: slot %v", keyformat.ErrUnsupported, slot)
	}
	if len(fingerprint) != fingerprintLength {
		return fmt.Errorf("%w: fingerprint of %d bytes", keyformat.ErrUnsupported, len(fingerprint))
	}
	if _, err := c.transceive("PUT DATA "+slot.String()+" fingerprint", command.PutFingerprint(slot, fingerprint)); err != nil {
		return err
	}
	if _, err := c.transceive("PUT DATA "+slot.String()+" timestamp", command.PutTimestamp(slot, created)); err != nil {
		return err
	}

	updated := *c.caps
	updated.Fingerprints[slot] = append([]byte(nil), fingerprint...)
	c.caps = &updated
	return nil
}

func (c *Connection) slotFormat(slot keyformat.Slot) (keyformat.KeyFormat, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: slot %v", keyformat.ErrUnsupported, slot)
	}
	format := c.caps.Format(slot)
	if format == nil {
		return nil, fmt.Errorf("%w: card did not report %s key attributes", keyformat.ErrUnsupported, slot)
	}
	return format, nil
}

func publicKeyOf(key crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdh.PrivateKey:
		return k.PublicKey(), nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	}
	return nil, fmt.Errorf("%w: private key %T", keyformat.ErrUnsupported, key)
}

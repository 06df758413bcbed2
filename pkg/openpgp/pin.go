package openpgp

import (
	"errors"
	"fmt"

	"github.com/gregLibert/openpgp-card/pkg/command"
)

// ErrPINLength reports a new PIN outside of the card limits.
var ErrPINLength = errors.New("PIN length out of range")

const (
	minPW1Length = 6
	minPW3Length = 8
)

// VerifyPINForSignature verifies PW1 in signature mode (VERIFY 81). It is a
// no-op while the previous verification is still valid.
func (c *Connection) VerifyPINForSignature(pin []byte) error {
	return c.verify(command.PW1Signature, &c.pw1Signature, pin)
}

// VerifyPINForOther verifies PW1 for decryption and authentication (VERIFY 82).
func (c *Connection) VerifyPINForOther(pin []byte) error {
	return c.verify(command.PW1Other, &c.pw1Other, pin)
}

// VerifyPINForAdmin verifies PW3 (VERIFY 83).
func (c *Connection) VerifyPINForAdmin(pin []byte) error {
	return c.verify(command.PW3, &c.pw3, pin)
}

func (c *Connection) verify(ref command.PasswordRef, validated *bool, pin []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	if *validated {
		return nil
	}
	if _, err := c.transceive("VERIFY "+ref.String(), command.Verify(ref, pin)); err != nil {
		return err
	}
	*validated = true
	return nil
}

// InvalidateSingleUsePW1 forgets the signature PIN unless the card keeps it
// valid for several signatures.
func (c *Connection) InvalidateSingleUsePW1() {
	if c.caps != nil && c.caps.PW1ValidForMultipleSignatures() {
		return
	}
	c.pw1Signature = false
}

// InvalidatePW3 forgets the admin PIN verification.
func (c *Connection) InvalidatePW3() {
	c.pw3 = false
}

func (c *Connection) checkPINLength(ref command.PasswordRef, pin []byte) error {
	lo, hi := minPW1Length, c.caps.PW1MaxLength()
	if ref == command.PW3 {
		lo, hi = minPW3Length, c.caps.PW3MaxLength()
	}
	if len(pin) < lo || (hi > 0 && len(pin) > hi) {
		return fmt.Errorf("%w: %s must be %d to %d characters", ErrPINLength, ref, lo, hi)
	}
	return nil
}

// ModifyPW1 changes the user PIN with CHANGE REFERENCE DATA 81.
func (c *Connection) ModifyPW1(oldPIN, newPIN []byte) error {
	return c.changeReferenceData(command.PW1Signature, oldPIN, newPIN)
}

// ModifyPW3 changes the admin PIN with CHANGE REFERENCE DATA 83.
func (c *Connection) ModifyPW3(oldPIN, newPIN []byte) error {
	return c.changeReferenceData(command.PW3, oldPIN, newPIN)
}

func (c *Connection) changeReferenceData(ref command.PasswordRef, oldPIN, newPIN []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.checkPINLength(ref, newPIN); err != nil {
		return err
	}

	cmd := command.ChangeReferenceData(ref, oldPIN, newPIN)
	defer clear(cmd.Data)

	_, err := c.transceive("CHANGE REFERENCE DATA "+ref.String(), cmd)
	if ref == command.PW3 {
		c.pw3 = false
	} else {
		c.pw1Signature, c.pw1Other = false, false
	}
	return err
}

// ResetPW1 sets a new user PIN and its retry counter. PW3 must be verified.
func (c *Connection) ResetPW1(newPIN []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.checkPINLength(command.PW1Signature, newPIN); err != nil {
		return err
	}
	_, err := c.transceive("RESET RETRY COUNTER", command.ResetRetryCounter(newPIN))
	c.pw1Signature, c.pw1Other = false, false
	return err
}

// ModifyPW1AndPW3 replaces both PINs using the current admin PIN. PW3 is
// changed first: Gnuk enters admin-less mode when PW1 is set before PW3.
func (c *Connection) ModifyPW1AndPW3(adminPIN, newPW1, newPW3 []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.checkPINLength(command.PW1Signature, newPW1); err != nil {
		return err
	}
	if err := c.checkPINLength(command.PW3, newPW3); err != nil {
		return err
	}

	if err := c.ModifyPW3(adminPIN, newPW3); err != nil {
		return err
	}
	if err := c.VerifyPINForAdmin(newPW3); err != nil {
		return err
	}
	return c.ResetPW1(newPW1)
}

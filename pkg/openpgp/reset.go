package openpgp

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gregLibert/openpgp-card/pkg/command"
	"github.com/gregLibert/openpgp-card/pkg/iso7816"
)

// wipeAttempts exceeds the largest retry counter cards ship with (3 for
// PW1 and PW3 by default).
const wipeAttempts = 5

// ResetAndWipe returns the application to its factory state: every key,
// PIN and data object is lost. Both PINs are blocked first, as TERMINATE DF
// is only accepted on a blocked PW3 or after VERIFY 83.
func (c *Connection) ResetAndWipe() error {
	if err := c.ready(); err != nil {
		return err
	}

	wrong := bytes.Repeat([]byte{0x40}, minPW3Length)
	for _, ref := range []command.PasswordRef{command.PW1Signature, command.PW3} {
		for range wipeAttempts {
			resp, err := c.Send(command.Verify(ref, wrong))
			if err != nil {
				return fmt.Errorf("blocking %s: %w", ref, err)
			}
			if resp.Status == iso7816.SW_ERR_AUTH_METHOD_BLOCKED {
				break
			}
		}
	}

	// The reset drops the SCP11b session on the card side.
	c.dropSecureMessaging()

	term, termErr := c.Send(command.TerminateDF())
	act, actErr := c.Send(command.ActivateFile())
	if err := errors.Join(termErr, actErr); err != nil {
		return err
	}
	if err := iso7816.CheckStatus("TERMINATE DF", term); err != nil {
		return err
	}
	if err := iso7816.CheckStatus("ACTIVATE FILE", act); err != nil {
		return err
	}

	c.pw1Signature, c.pw1Other, c.pw3 = false, false, false
	if err := c.refreshCapabilities(); err != nil {
		return err
	}
	c.logger.Info("card reset to factory state", slog.String("aid", fmt.Sprintf("%X", []byte(c.caps.AID))))
	return nil
}

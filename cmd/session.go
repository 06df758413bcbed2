package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/iso7816"
	"github.com/gregLibert/openpgp-card/pkg/openpgp"
	"github.com/gregLibert/openpgp-card/pkg/pcsc"
)

// options maps the configuration onto the connection options.
func (a *app) options() (openpgp.Options, error) {
	opts := openpgp.Options{
		Logger:                 a.logger,
		ChainBlockSize:         a.cfg.ChainBlockSize,
		DisableSecureMessaging: !a.cfg.SecureMessaging.Enabled,
		RecordTrace:            a.flags.trace,
	}
	pool, err := a.cfg.TrustAnchorPool()
	if err != nil {
		return opts, err
	}
	opts.TrustAnchors = pool
	return opts, nil
}

// withConnection opens the OpenPGP application on the configured reader,
// runs fn and releases the card. With --trace the physical exchanges are
// dumped whatever the outcome.
func (a *app) withConnection(cmd *cobra.Command, fn func(*openpgp.Connection) error) (err error) {
	opts, err := a.options()
	if err != nil {
		return err
	}
	transport, err := pcsc.Open(a.cfg.Reader, a.cfg.Exclusive)
	if err != nil {
		return err
	}
	a.logger.Debug("using reader", "reader", transport.Reader())

	conn := openpgp.New(transport, opts)
	defer func() {
		if a.flags.trace {
			fmt.Fprintln(cmd.ErrOrStderr(), conn.Trace().Describe())
		}
		if cerr := conn.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := conn.Connect(); err != nil {
		return err
	}
	return fn(conn)
}

// explain adds the usual reading of a card refusal.
func explain(err error) error {
	var se *iso7816.StatusError
	if !errors.As(err, &se) {
		return err
	}
	if n, ok := se.RetriesLeft(); ok {
		return fmt.Errorf("%w (wrong PIN, %d tries left)", err, n)
	}
	switch se.Status {
	case iso7816.SW_ERR_AUTH_METHOD_BLOCKED:
		return fmt.Errorf("%w (PIN blocked)", err)
	case iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT:
		return fmt.Errorf("%w (PIN not verified, or touch expected)", err)
	case iso7816.SW_ERR_REF_DATA_NOT_FOUND:
		return fmt.Errorf("%w (no key in this slot)", err)
	}
	return err
}

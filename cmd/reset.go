package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/openpgp"
)

func newResetCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the OpenPGP application to its factory state",
		Long: `Block both PINs, terminate and reactivate the OpenPGP application.
Every key, PIN and data object is lost; the PINs go back to 123456 and
12345678. There is no undo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("this wipes the card, confirm with --yes")
			}
			return a.withConnection(cmd, func(c *openpgp.Connection) error {
				if err := c.ResetAndWipe(); err != nil {
					return explain(err)
				}
				printf(cmd, "card reset\n")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

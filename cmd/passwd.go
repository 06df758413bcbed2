package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/openpgp"
)

func newPasswdCmd(a *app) *cobra.Command {
	var admin, unblock bool

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change or reset a PIN",
		Long: `Change the user PIN (PW1), the admin PIN (PW3) with --admin, or set a
new user PIN with the admin PIN with --reset, which also unblocks it.

The user PIN has at least 6 characters, the admin PIN at least 8.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if admin && unblock {
				return errors.New("--admin and --reset are exclusive")
			}

			return a.withConnection(cmd, func(c *openpgp.Connection) error {
				switch {
				case unblock:
					pw3, err := promptPIN(cmd, "Admin PIN: ")
					if err != nil {
						return err
					}
					if err := c.VerifyPINForAdmin(pw3); err != nil {
						return explain(err)
					}
					pw1, err := promptNewPIN(cmd, "PIN")
					if err != nil {
						return err
					}
					if err := c.ResetPW1(pw1); err != nil {
						return explain(err)
					}

				case admin:
					old, err := promptPIN(cmd, "Admin PIN: ")
					if err != nil {
						return err
					}
					pw3, err := promptNewPIN(cmd, "admin PIN")
					if err != nil {
						return err
					}
					if err := c.ModifyPW3(old, pw3); err != nil {
						return explain(err)
					}

				default:
					old, err := promptPIN(cmd, "PIN: ")
					if err != nil {
						return err
					}
					pw1, err := promptNewPIN(cmd, "PIN")
					if err != nil {
						return err
					}
					if err := c.ModifyPW1(old, pw1); err != nil {
						return explain(err)
					}
				}
				printf(cmd, "PIN changed\n")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "change the admin PIN")
	cmd.Flags().BoolVar(&unblock, "reset", false, "set the user PIN with the admin PIN")
	return cmd
}

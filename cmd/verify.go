package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregLibert/openpgp-card/pkg/openpgp"
)

func newVerifyCmd(a *app) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a PIN against the card",
		Long: `Check a PIN against the card. A wrong PIN consumes one try; the
number of tries left is reported.`,
		Example: `  openpgp-card verify --pin sign
  openpgp-card verify --pin admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				prompt string
				verify func(*openpgp.Connection, []byte) error
			)
			switch mode {
			case "sign":
				prompt, verify = "PIN: ", (*openpgp.Connection).VerifyPINForSignature
			case "other":
				prompt, verify = "PIN: ", (*openpgp.Connection).VerifyPINForOther
			case "admin":
				prompt, verify = "Admin PIN: ", (*openpgp.Connection).VerifyPINForAdmin
			default:
				return fmt.Errorf("unknown PIN %q, want sign, other or admin", mode)
			}

			return a.withConnection(cmd, func(c *openpgp.Connection) error {
				pin, err := promptPIN(cmd, prompt)
				if err != nil {
					return err
				}
				if err := verify(c, pin); err != nil {
					return explain(err)
				}
				printf(cmd, "PIN accepted\n")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "pin", "other", "sign, other or admin")
	return cmd
}
